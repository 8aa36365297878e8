package sizeguard

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapsell/api/internal/client"
)

const testLimit = 1000

type stubCompressor struct {
	calls int32
	err   error
}

func (c *stubCompressor) CompressJPEG(ctx context.Context, data []byte) ([]byte, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.err != nil {
		return nil, c.err
	}
	return []byte("small-jpeg"), nil
}

// imageServer serves size bytes. Without withLength the HEAD probe is rejected.
func imageServer(t *testing.T, size int, withLength bool) (*httptest.Server, *int32) {
	t.Helper()
	var gets int32
	body := bytes.Repeat([]byte("x"), size)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		if r.Method == http.MethodHead {
			if !withLength {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			w.Header().Set("Content-Length", strconv.Itoa(size))
			return
		}
		atomic.AddInt32(&gets, 1)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &gets
}

func newGuard(comp compressor, storage client.StorageClient) *Guard {
	fetcher := client.NewImageFetcher(time.Second, 10*testLimit, zerolog.Nop())
	return New(fetcher, comp, storage, testLimit, 0.9, zerolog.Nop())
}

func TestEnsureUnderLimit_SmallImageSkipsFetch(t *testing.T) {
	srv, gets := imageServer(t, 100, true)
	comp := &stubCompressor{}
	g := newGuard(comp, client.NewMemoryStorage(""))

	url := srv.URL + "/small.png"
	if got := g.EnsureUnderLimit(context.Background(), url); got != url {
		t.Errorf("expected original url, got %q", got)
	}
	if atomic.LoadInt32(gets) != 0 {
		t.Error("expected HEAD probe to short-circuit the full fetch")
	}
	if comp.calls != 0 {
		t.Error("compressor must not run for small images")
	}
}

func TestEnsureUnderLimit_NearLimitFetchesButKeepsOriginal(t *testing.T) {
	srv, gets := imageServer(t, 950, true)
	comp := &stubCompressor{}
	g := newGuard(comp, client.NewMemoryStorage(""))

	url := srv.URL + "/near.png"
	if got := g.EnsureUnderLimit(context.Background(), url); got != url {
		t.Errorf("expected original url, got %q", got)
	}
	if atomic.LoadInt32(gets) != 1 {
		t.Errorf("expected one full fetch, got %d", *gets)
	}
	if comp.calls != 0 {
		t.Error("compressor must not run under the limit")
	}
}

func TestEnsureUnderLimit_OversizedIsCompressedAndStored(t *testing.T) {
	srv, _ := imageServer(t, 2*testLimit, false)
	comp := &stubCompressor{}
	storage := client.NewMemoryStorage("https://cdn.test")
	g := newGuard(comp, storage)

	got := g.EnsureUnderLimit(context.Background(), srv.URL+"/big.png")
	if !strings.HasPrefix(got, "https://cdn.test/sizeguard/") || !strings.HasSuffix(got, ".jpg") {
		t.Fatalf("expected compressed artifact url, got %q", got)
	}

	keys := storage.Keys()
	if len(keys) != 1 {
		t.Fatalf("expected one stored object, got %v", keys)
	}
	obj, _ := storage.Object(keys[0])
	if string(obj.Data) != "small-jpeg" || obj.ContentType != "image/jpeg" {
		t.Errorf("unexpected stored object %q (%s)", obj.Data, obj.ContentType)
	}
}

func TestEnsureUnderLimit_CompressionFailureFailsOpen(t *testing.T) {
	srv, _ := imageServer(t, 2*testLimit, true)
	g := newGuard(&stubCompressor{err: errors.New("provider down")}, client.NewMemoryStorage(""))

	url := srv.URL + "/big.png"
	if got := g.EnsureUnderLimit(context.Background(), url); got != url {
		t.Errorf("expected original url on compression failure, got %q", got)
	}
}

func TestEnsureUnderLimit_UnreachableFailsOpen(t *testing.T) {
	g := newGuard(&stubCompressor{}, client.NewMemoryStorage(""))

	url := "http://127.0.0.1:1/missing.png"
	if got := g.EnsureUnderLimit(context.Background(), url); got != url {
		t.Errorf("expected original url when unreachable, got %q", got)
	}
}

func TestEnsureUnderLimit_Idempotent(t *testing.T) {
	srv, _ := imageServer(t, 300, true)
	g := newGuard(&stubCompressor{}, client.NewMemoryStorage(""))

	first := g.EnsureUnderLimit(context.Background(), srv.URL+"/a.png")
	second := g.EnsureUnderLimit(context.Background(), first)
	if first != second {
		t.Errorf("guard is not idempotent under the limit: %q vs %q", first, second)
	}
}
