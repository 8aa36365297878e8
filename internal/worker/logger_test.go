package worker

import (
	"bytes"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

func TestAsynqLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewAsynqLogger(zerolog.New(&buf))

	l.Warn("queue ", "photo", " is slow")
	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, "queue photo is slow") || !strings.Contains(out, `"component":"asynq"`) {
		t.Errorf("unexpected log line %s", out)
	}
}

func TestAsynqLevel(t *testing.T) {
	cases := map[string]asynq.LogLevel{
		"debug": asynq.DebugLevel,
		"WARN":  asynq.WarnLevel,
		"error": asynq.ErrorLevel,
		"info":  asynq.InfoLevel,
		"":      asynq.InfoLevel,
	}
	for in, want := range cases {
		if got := AsynqLevel(in); got != want {
			t.Errorf("AsynqLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
