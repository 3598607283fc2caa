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

	"github.com/aura/api/internal/auth"
	"github.com/aura/api/internal/client"
	"github.com/aura/api/internal/config"
	"github.com/aura/api/internal/middleware"
	"github.com/aura/api/internal/poller"
	"github.com/aura/api/internal/retry"
	"github.com/aura/api/internal/server"
	"github.com/aura/api/internal/service"
	"github.com/aura/api/internal/store"
	ws "github.com/aura/api/internal/websocket"
)

const testJWTSecret = "test-secret-for-e2e"

// fakeBriefing stands in for the remote podcast generation service
type fakeBriefing struct {
	mu           sync.Mutex
	next         int
	status       map[string]string
	progress     map[string]float64
	failGenerate bool
	failDelete   bool
	contentCalls map[string]int
	deleted      []string
	lastRequest  map[string]interface{}
}

func newFakeBriefing() *fakeBriefing {
	return &fakeBriefing{
		status:       make(map[string]string),
		progress:     make(map[string]float64),
		contentCalls: make(map[string]int),
	}
}

func (f *fakeBriefing) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /generate-podcast", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failGenerate {
			http.Error(w, "generator offline", http.StatusInternalServerError)
			return
		}
		f.lastRequest = nil
		_ = json.NewDecoder(r.Body).Decode(&f.lastRequest)
		f.next++
		id := fmt.Sprintf("pod-%d", f.next)
		f.status[id] = "QUEUED"
		writeJSON(w, map[string]string{"id": id})
	})

	mux.HandleFunc("GET /status/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id := r.PathValue("id")
		status, ok := f.status[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]interface{}{"status": status, "progress": f.progress[id]})
	})

	mux.HandleFunc("GET /get-podcast/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.contentCalls[r.PathValue("id")]++
		writeJSON(w, map[string]interface{}{
			"topics":   []string{"ozone", "pollen"},
			"duration": 120.5,
			"questions": []map[string]interface{}{
				{"timestamp": 5, "question": "Should I cycle to work today?"},
				{"timestamp": 50, "question": "Is the park air clean this evening?"},
			},
		})
	})

	mux.HandleFunc("GET /get-full-audio/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3fake"))
	})

	mux.HandleFunc("DELETE /podcast/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failDelete {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		f.deleted = append(f.deleted, r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

func (f *fakeBriefing) set(id, status string, progress float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[id] = status
	f.progress[id] = progress
}

// preferences returns user_preferences of the last generation request
func (f *fakeBriefing) preferences() map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefs, _ := f.lastRequest["user_preferences"].(map[string]interface{})
	return prefs
}

func (f *fakeBriefing) contentFetches(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contentCalls[id]
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// testApp holds all components needed for testing
type testApp struct {
	app    *fiber.App
	remote *fakeBriefing
	store  *store.JobStore
}

// setupApp creates the Fiber app main.go builds, backed by a fake generation
// service. Redis and asynq are left out: rate limiting and content caching
// fail open, and failed remote deletions are reported without a retry task.
func setupApp(t *testing.T) *testApp {
	t.Helper()
	return setupAppWith(t, nil)
}

// setupAppWith is setupApp with a hook to adjust the config first.
func setupAppWith(t *testing.T, configure func(*config.Config)) *testApp {
	t.Helper()

	remote := newFakeBriefing()
	srv := httptest.NewServer(remote.handler())
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Server:    config.ServerConfig{Port: "0", LogLevel: "info"},
		JWT:       config.JWTConfig{Secret: testJWTSecret},
		RateLimit: config.RateLimitConfig{GeneratePerHour: 10000, ContentPerMin: 10000},
		Briefing:  config.BriefingConfig{BaseURL: srv.URL, Timeout: 5 * time.Second},
	}
	if configure != nil {
		configure(cfg)
	}

	jobStore := store.NewJobStore()
	hub := ws.NewHub()
	go hub.Run()
	t.Cleanup(hub.Attach(jobStore))

	briefingClient := client.NewBriefingClient(&cfg.Briefing)
	statusPoller := poller.New(jobStore, briefingClient, poller.Config{
		Interval:       20 * time.Millisecond,
		RequestTimeout: time.Second,
		Content:        retry.ContentConfig(1),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = statusPoller.Shutdown(ctx)
	})

	podcastService := service.NewPodcastService(
		jobStore,
		statusPoller,
		briefingClient,
		service.NewContentCache(nil, time.Minute),
		service.NewAudioService(briefingClient, nil, time.Minute),
		nil,
	)

	app := server.New(server.Deps{
		Config:        cfg,
		Podcasts:      podcastService,
		Hub:           hub,
		Authenticator: auth.NewAuthenticator(nil, testJWTSecret),
		RateLimiter:   middleware.NewRateLimiter(nil),
		Validator:     validator.New(),
		Services:      map[string]bool{"briefing": true, "r2": false, "redis": false},
	})

	return &testApp{app: app, remote: remote, store: jobStore}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T, userID string) string {
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

// doAuthRequest performs a request as test-user-123.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doUserRequest(t, app, "test-user-123", method, path, body)
}

// doUserRequest performs a request as userID.
func doUserRequest(t *testing.T, app *fiber.App, userID, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t, userID),
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

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// assertErrorCode checks the code of an error envelope.
func assertErrorCode(t *testing.T, body map[string]interface{}, expected string) {
	t.Helper()
	errObj, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got %v", body)
	}
	if errObj["code"] != expected {
		t.Errorf("expected error code %s, got %v", expected, errObj["code"])
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
