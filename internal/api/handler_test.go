package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/trainconf/internal/storage"
)

const validConfig = "model: visformer_small_v2\nlr: 0.001\nbatch_size: 128\n"

type controllableClock struct {
	mu  sync.RWMutex
	now time.Time
}

func newControllableClock(initial time.Time) *controllableClock {
	return &controllableClock{now: initial}
}

func (c *controllableClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *controllableClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupTestRouter(t *testing.T) (http.Handler, *controllableClock) {
	t.Helper()

	clock := newControllableClock(time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC))
	store := storage.NewMemoryStorage(storage.WithClock(clock.Now))

	handler := NewHandler(store, WithClock(clock.Now))
	logger := zaptest.NewLogger(t)
	router := NewRouter(handler, logger, WithLogging(false), WithRateLimit(0, 0))

	return router, clock
}

func do(t *testing.T, router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestRequestIDHelpers(t *testing.T) {
	ctx := contextWithRequestID(context.Background(), "abc")
	if got := requestIDFromContext(ctx); got != "abc" {
		t.Fatalf("expected abc, got %s", got)
	}
	resp := httptest.NewRecorder()
	writeInternalError(resp, assertError("boom"))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", resp.Code)
	}
}

type assertError string

func (a assertError) Error() string { return string(a) }

func TestHealthEndpoint(t *testing.T) {
	router, clock := setupTestRouter(t)

	rec := do(t, router, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}
	decode(t, rec, &body)

	if body.Status != "ok" {
		t.Fatalf("expected status ok, got %s", body.Status)
	}
	if !body.Timestamp.Equal(clock.Now()) {
		t.Fatalf("expected timestamp %s, got %s", clock.Now(), body.Timestamp)
	}
}

func TestPutAndGetConfig(t *testing.T) {
	router, clock := setupTestRouter(t)

	rec := do(t, router, http.MethodPut, "/api/configs/small", validConfig)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var put struct {
		Name      string    `json:"name"`
		Version   int       `json:"version"`
		Checksum  string    `json:"checksum"`
		UpdatedAt time.Time `json:"updatedAt"`
		Message   string    `json:"message"`
	}
	decode(t, rec, &put)
	if put.Name != "small" || put.Version != 1 || put.Checksum == "" {
		t.Fatalf("unexpected revision %+v", put)
	}
	if put.Message == "" {
		t.Fatalf("expected success message, got empty string")
	}
	if !put.UpdatedAt.Equal(clock.Now()) {
		t.Fatalf("expected updatedAt %s, got %s", clock.Now(), put.UpdatedAt)
	}

	rec = do(t, router, http.MethodGet, "/api/configs/small", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var got struct {
		Version int            `json:"version"`
		Values  map[string]any `json:"values"`
		Report  struct {
			Issues []struct {
				Key string `json:"key"`
			} `json:"issues"`
		} `json:"report"`
	}
	decode(t, rec, &got)
	if got.Version != 1 {
		t.Fatalf("expected version 1, got %d", got.Version)
	}
	if got.Values["model"] != "visformer_small_v2" {
		t.Fatalf("expected model value, got %v", got.Values["model"])
	}
	if got.Values["batch_size"] != float64(128) {
		t.Fatalf("expected batch_size 128, got %v", got.Values["batch_size"])
	}
	if _, ok := got.Values["epoch_size"]; ok {
		t.Fatalf("expected unresolved values by default")
	}

	rec = do(t, router, http.MethodGet, "/api/configs/small?resolved=true", "")
	var resolved struct {
		Values map[string]any `json:"values"`
	}
	decode(t, rec, &resolved)
	if resolved.Values["epoch_size"] != float64(90) {
		t.Fatalf("expected default epoch_size 90, got %v", resolved.Values["epoch_size"])
	}
}

func TestPutConfigRejectsInvalidDocument(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := do(t, router, http.MethodPut, "/api/configs/bad", "model: visformer_small_v2\nbatch_size: -1\nlr: 0.5\nmin_lr: 0.9\n")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rec.Code)
	}

	var body struct {
		Error      string `json:"error"`
		Suggestion string `json:"suggestion"`
		Report     struct {
			Issues []struct {
				Key      string `json:"key"`
				Severity string `json:"severity"`
				Line     int    `json:"line"`
			} `json:"issues"`
		} `json:"report"`
	}
	decode(t, rec, &body)
	if body.Suggestion == "" {
		t.Fatalf("expected suggestion to be populated")
	}
	if len(body.Report.Issues) == 0 || body.Report.Issues[0].Key != "batch_size" || body.Report.Issues[0].Line != 2 {
		t.Fatalf("expected batch_size issue on line 2, got %+v", body.Report.Issues)
	}

	rec = do(t, router, http.MethodGet, "/api/configs/bad", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected rejected config not to be stored, got %d", rec.Code)
	}
}

func TestPutConfigRejectsMalformedYAML(t *testing.T) {
	router, _ := setupTestRouter(t)

	testCases := map[string]string{
		"duplicate key": "lr: 0.1\nlr: 0.2\n",
		"nested value":  "optimizer:\n  name: adam\n",
		"not a mapping": "- a\n- b\n",
	}
	for name, body := range testCases {
		name, body := name, body
		t.Run(name, func(t *testing.T) {
			rec := do(t, router, http.MethodPut, "/api/configs/broken", body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rec.Code)
			}
		})
	}
}

func TestPutConfigRejectsInvalidName(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := do(t, router, http.MethodPut, "/api/configs/.hidden", validConfig)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestConfigHistoryAndYAML(t *testing.T) {
	router, clock := setupTestRouter(t)

	do(t, router, http.MethodPut, "/api/configs/small", validConfig)
	clock.Advance(time.Minute)
	do(t, router, http.MethodPut, "/api/configs/small", strings.Replace(validConfig, "0.001", "0.002", 1))

	rec := do(t, router, http.MethodGet, "/api/configs/small/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var history struct {
		Revisions []struct {
			Version int `json:"version"`
		} `json:"revisions"`
	}
	decode(t, rec, &history)
	if len(history.Revisions) != 2 || history.Revisions[1].Version != 2 {
		t.Fatalf("unexpected history %+v", history.Revisions)
	}

	rec = do(t, router, http.MethodGet, "/api/configs/small/yaml", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Fatalf("expected yaml content type, got %q", ct)
	}
	if rec.Header().Get("ETag") == "" {
		t.Fatalf("expected ETag header")
	}
	if !strings.Contains(rec.Body.String(), "lr: 0.002") {
		t.Fatalf("expected canonical yaml to hold the latest lr, got:\n%s", rec.Body.String())
	}
}

func TestListAndDeleteConfigs(t *testing.T) {
	router, _ := setupTestRouter(t)

	do(t, router, http.MethodPut, "/api/configs/b", validConfig)
	do(t, router, http.MethodPut, "/api/configs/a", validConfig)

	rec := do(t, router, http.MethodGet, "/api/configs", "")
	var list struct {
		Configs []struct {
			Name string `json:"name"`
		} `json:"configs"`
	}
	decode(t, rec, &list)
	if len(list.Configs) != 2 || list.Configs[0].Name != "a" {
		t.Fatalf("unexpected list %+v", list.Configs)
	}

	rec = do(t, router, http.MethodDelete, "/api/configs/a", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	rec = do(t, router, http.MethodDelete, "/api/configs/a", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestConfigSchedule(t *testing.T) {
	router, _ := setupTestRouter(t)

	doc := "model: visformer_small_v2\nscheduler: warmup_cosine_decay\nlr: 0.001\nmin_lr: 0.00001\nwarmup_epochs: 2\ndecay_epochs: 8\nepoch_size: 10\n"
	do(t, router, http.MethodPut, "/api/configs/sched", doc)

	rec := do(t, router, http.MethodGet, "/api/configs/sched/schedule?steps_per_epoch=100", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Scheduler  string `json:"scheduler"`
		TotalSteps int    `json:"totalSteps"`
		Points     []struct {
			Epoch int     `json:"epoch"`
			LR    float64 `json:"lr"`
		} `json:"points"`
	}
	decode(t, rec, &body)
	if body.Scheduler != "warmup_cosine_decay" || body.TotalSteps != 1000 {
		t.Fatalf("unexpected schedule header %+v", body)
	}
	if len(body.Points) != 10 {
		t.Fatalf("expected 10 points, got %d", len(body.Points))
	}
	if body.Points[0].LR != 0 {
		t.Fatalf("expected warmup to start at 0, got %v", body.Points[0].LR)
	}
	if math.Abs(body.Points[2].LR-0.001) > 1e-12 {
		t.Fatalf("expected peak lr after warmup, got %v", body.Points[2].LR)
	}

	for _, steps := range []string{"0", "1000001", "9223372036854775807", "ten"} {
		rec = do(t, router, http.MethodGet, "/api/configs/sched/schedule?steps_per_epoch="+steps, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("steps_per_epoch=%s: expected status 400, got %d", steps, rec.Code)
		}
	}
	rec = do(t, router, http.MethodGet, "/api/configs/missing/schedule", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestValidateEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/validate", validConfig+"custom_key: 1\n")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var lenient struct {
		Valid bool `json:"valid"`
	}
	decode(t, rec, &lenient)
	if !lenient.Valid {
		t.Fatalf("expected unknown key to be a warning")
	}

	rec = do(t, router, http.MethodPost, "/api/validate?strict=true", validConfig+"custom_key: 1\n")
	var strict struct {
		Valid bool `json:"valid"`
	}
	decode(t, rec, &strict)
	if strict.Valid {
		t.Fatalf("expected unknown key to be an error in strict mode")
	}

	rec = do(t, router, http.MethodPost, "/api/validate?strict=maybe", validConfig)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestDiffEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t)

	payload, err := json.Marshal(map[string]string{
		"a": "lr: 0.1\nbatch_size: 64\nopt: sgd\n",
		"b": "batch_size: 64.0\nlr: 0.2\nseed: 1\n",
	})
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/diff", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var body struct {
		Equivalent bool `json:"equivalent"`
		Changes    []struct {
			Key  string `json:"key"`
			Type string `json:"type"`
		} `json:"changes"`
	}
	decode(t, rec, &body)
	if body.Equivalent {
		t.Fatalf("expected documents to differ")
	}
	want := []string{"lr:modified", "opt:removed", "seed:added"}
	if len(body.Changes) != len(want) {
		t.Fatalf("expected %d changes, got %+v", len(want), body.Changes)
	}
	for i, c := range body.Changes {
		if got := c.Key + ":" + c.Type; got != want[i] {
			t.Fatalf("expected change %s at %d, got %s", want[i], i, got)
		}
	}

	rec = do(t, router, http.MethodPost, "/api/diff", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestModelEndpoints(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := do(t, router, http.MethodGet, "/api/models", "")
	var list struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	decode(t, rec, &list)
	if len(list.Models) != 4 {
		t.Fatalf("expected 4 models, got %d", len(list.Models))
	}

	rec = do(t, router, http.MethodGet, "/api/models/visformer_small_v2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var model struct {
		Stages []struct {
			Channels   int `json:"channels"`
			Resolution int `json:"resolution"`
		} `json:"stages"`
	}
	decode(t, rec, &model)
	if len(model.Stages) != 4 || model.Stages[3].Channels != 512 || model.Stages[0].Resolution != 56 {
		t.Fatalf("unexpected stages %+v", model.Stages)
	}

	rec = do(t, router, http.MethodGet, "/api/models/resnet50", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestSchemaEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := do(t, router, http.MethodGet, "/api/schema", "")
	var body struct {
		Fields []struct {
			Key      string `json:"key"`
			Required bool   `json:"required"`
			Range    string `json:"range"`
		} `json:"fields"`
	}
	decode(t, rec, &body)
	if len(body.Fields) == 0 || body.Fields[0].Key != "mode" {
		t.Fatalf("expected fields in canonical order, got %+v", body.Fields)
	}
	for _, f := range body.Fields {
		if f.Key == "model" && !f.Required {
			t.Fatalf("expected model to be required")
		}
		if f.Key == "batch_size" && f.Range != "[1.0, inf)" {
			t.Fatalf("unexpected batch_size range %q", f.Range)
		}
	}
}

func TestCorsPreflight(t *testing.T) {
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/configs/small", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "PUT")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected Access-Control-Allow-Origin header to be set")
	}
}

func TestRequestIDPropagation(t *testing.T) {
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "test-request-id")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "test-request-id" {
		t.Fatalf("expected propagated request id, got %q", got)
	}

	rec = do(t, router, http.MethodGet, "/api/health", "")
	if got := rec.Header().Get("X-Request-ID"); len(got) != 36 {
		t.Fatalf("expected generated uuid request id, got %q", got)
	}
}
