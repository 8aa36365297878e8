package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/snapsell/api/internal/account"
	"github.com/snapsell/api/internal/admission"
	"github.com/snapsell/api/internal/auth"
	"github.com/snapsell/api/internal/catalog"
	"github.com/snapsell/api/internal/client"
	"github.com/snapsell/api/internal/config"
	"github.com/snapsell/api/internal/handler"
	"github.com/snapsell/api/internal/ledger"
	"github.com/snapsell/api/internal/middleware"
	"github.com/snapsell/api/internal/model"
	"github.com/snapsell/api/internal/provider"
	"github.com/snapsell/api/internal/server"
	"github.com/snapsell/api/internal/service"
	"github.com/snapsell/api/internal/sizeguard"
	ws "github.com/snapsell/api/internal/websocket"
	"github.com/snapsell/api/internal/worker"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	testUserID    = "test-user-123"

	// A background prompt the fake studio provider answers with 504.
	timeoutPrompt = "provider-timeout"
)

// Smallest valid PNG, served by the fake upstream as both input and output.
var pngBytes = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// testApp holds all components needed for testing
type testApp struct {
	app      *fiber.App
	accounts *account.MemoryStore
	jobs     *ledger.MemoryStore
	storage  *client.MemoryStorage
	queue    *recordingQueue
	worker   *worker.PhotoWorker
	upstream *httptest.Server
}

// imageURL points at an input image served by the fake upstream.
func (ta *testApp) imageURL(name string) string {
	return ta.upstream.URL + "/images/" + name
}

// setTier stores an account with the given plan and monthly limit.
func (ta *testApp) setTier(t *testing.T, userID string, tier model.Tier, limit int) {
	t.Helper()
	err := ta.accounts.PutAccount(context.Background(), &account.Account{UserID: userID, Tier: tier, MonthlyLimit: limit})
	if err != nil {
		t.Fatalf("failed to store account: %v", err)
	}
}

// used returns the credits the user has spent this month.
func (ta *testApp) used(t *testing.T, userID string) int {
	t.Helper()
	usage, err := ta.accounts.Usage(context.Background(), userID, account.Period(time.Now()))
	if err != nil {
		t.Fatalf("failed to read usage: %v", err)
	}
	return usage.Used
}

// runQueued executes every task captured by the queue through the worker.
func (ta *testApp) runQueued(t *testing.T) {
	t.Helper()
	for _, task := range ta.queue.drain() {
		if err := ta.worker.ProcessTask(context.Background(), task); err != nil {
			t.Fatalf("worker returned error: %v", err)
		}
	}
}

// recordingQueue captures enqueued tasks instead of sending them to Redis.
type recordingQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (q *recordingQueue) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{Queue: service.PhotoQueue, Type: task.Type()}, nil
}

func (q *recordingQueue) drain() []*asynq.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	tasks := q.tasks
	q.tasks = nil
	return tasks
}

func (q *recordingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// newUpstream fakes the image host and both providers on one server.
func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()

	var srv *httptest.Server
	mux := http.NewServeMux()

	mux.HandleFunc("/images/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", fmt.Sprint(len(pngBytes)))
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(pngBytes)
	})

	mux.HandleFunc("/photoroom/segment", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") == "" {
			http.Error(w, `{"detail":"missing api key"}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	})

	mux.HandleFunc("/photoroom/edit", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, `{"detail":"bad form"}`, http.StatusBadRequest)
			return
		}
		if r.FormValue("background.prompt") == timeoutPrompt {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusGatewayTimeout)
			_, _ = w.Write([]byte(`{"detail":"upstream timed out"}`))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	})

	mux.HandleFunc("/fashn/v1/run", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pred-1"}`))
	})

	mux.HandleFunc("/fashn/v1/status/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/fashn/v1/status/")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(client.StatusResponse{
			ID:     id,
			Status: client.FashnStatusCompleted,
			Output: []string{srv.URL + "/images/prediction.png"},
		})
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// setupApp wires the same components as main.go against in-memory stores
// and a fake upstream.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	logger := zerolog.Nop()
	upstream := newUpstream(t)

	accounts := account.NewMemoryStore(account.Defaults{
		Tier:               model.TierFree,
		MonthlyLimit:       5,
		UnlimitedThreshold: 999999,
	})
	jobs := ledger.NewMemoryStore()
	storage := client.NewMemoryStorage("https://cdn.test")

	cat, err := catalog.New()
	if err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}

	photoroom := client.NewPhotoroomClient(&config.PhotoroomConfig{
		APIKey:          "test-key",
		SegmentURL:      upstream.URL + "/photoroom/segment",
		EditURL:         upstream.URL + "/photoroom/edit",
		Timeout:         5 * time.Second,
		CompressQuality: 80,
	}, logger)
	fashn := client.NewFashnClient(&config.FashnConfig{
		APIKey:       "test-key",
		BaseURL:      upstream.URL + "/fashn",
		PollInterval: 10 * time.Millisecond,
		MaxPolls:     3,
		Timeout:      5 * time.Second,
	}, logger)
	fetcher := client.NewImageFetcher(5*time.Second, 1<<20, logger)

	dispatcher, err := provider.NewDispatcher(cat,
		provider.NewStudioAdapter(photoroom, fetcher, logger),
		provider.NewModelAdapter(fashn, fetcher, logger),
	)
	if err != nil {
		t.Fatalf("failed to build dispatcher: %v", err)
	}

	validate := validator.New()
	guard := sizeguard.New(fetcher, photoroom, storage, 10<<20, 0.9, logger)
	controller := admission.NewController(accounts, accounts, accounts, logger)

	photoService := service.NewPhotoService(
		cat, validate, controller, accounts, accounts, jobs,
		dispatcher, guard, storage,
		service.PhotoServiceConfig{AllowedHosts: []string{"127.0.0.1", "*.example.com"}},
		logger,
	)
	queue := &recordingQueue{}
	hub := ws.NewHub(logger)
	go hub.Run()
	photoService.SetEnqueuer(queue)
	photoService.SetNotifier(hub)

	authMiddleware := middleware.NewLegacyAuthMiddleware(testJWTSecret)

	app := server.New(server.Handlers{
		Photo:  handler.NewPhotoHandler(photoService, validate),
		Upload: handler.NewUploadHandler(service.NewUploadService(storage), validate),
		Auth:   handler.NewAuthHandler(nil, testJWTSecret),
		Stream: handler.NewJobStreamHandler(photoService, hub),
	}, server.Options{
		APIAuth:    authMiddleware.Authenticate(),
		StreamAuth: middleware.NewLegacyAuthMiddleware(testJWTSecret).WithQueryToken().Authenticate(),
		Health: func() fiber.Map {
			return fiber.Map{"photoroom": true, "fashn": true, "store": "memory", "storage": "memory"}
		},
	})

	return &testApp{
		app:      app,
		accounts: accounts,
		jobs:     jobs,
		storage:  storage,
		queue:    queue,
		worker:   worker.NewPhotoWorker(photoService, logger),
		upstream: upstream,
	}
}

// generateToken creates a legacy HMAC JWT token for the default test user.
func generateToken(t *testing.T) string {
	t.Helper()
	return tokenFor(t, testUserID)
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	signed, err := auth.IssueLegacyToken(userID, userID+"@example.com", testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs a request as the default test user.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doUserRequest(t, app, testUserID, method, path, body)
}

func doUserRequest(t *testing.T, app *fiber.App, userID, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + tokenFor(t, userID),
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// errorCode extracts error.code from an error envelope.
func errorCode(body map[string]interface{}) string {
	e, _ := body["error"].(map[string]interface{})
	code, _ := e["code"].(string)
	return code
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
