package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eugenenazirov/trainconf/internal/hparams"
	"github.com/eugenenazirov/trainconf/internal/metrics"
	"github.com/eugenenazirov/trainconf/internal/models"
	"github.com/eugenenazirov/trainconf/internal/schedule"
	"github.com/eugenenazirov/trainconf/internal/storage"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

const (
	maxBodyBytes     = 1 << 20
	maxStepsPerEpoch = 1_000_000
)

// Handler wires storage and the hparams toolkit into HTTP handlers.
type Handler struct {
	storage storage.Storage
	strict  bool

	clock func() time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithStrict makes validation treat unknown keys as errors.
func WithStrict(strict bool) HandlerOption {
	return func(h *Handler) {
		h.strict = strict
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(store storage.Storage, opts ...HandlerOption) *Handler {
	h := &Handler{
		storage: store,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	revs, err := h.storage.List(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, configListResponse{Configs: revs})
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}

	doc := rec.Document
	if resolved, _ := strconv.ParseBool(r.URL.Query().Get("resolved")); resolved {
		doc = hparams.Resolve(doc)
	}

	writeJSON(w, http.StatusOK, configResponse{
		Revision: rec.Revision,
		Values:   doc.Map(),
		Report:   h.validate(rec.Document),
	})
}

func (h *Handler) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := storage.ValidateName(name); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid config name", err.Error())
		return
	}

	doc, ok := readDocument(w, r)
	if !ok {
		return
	}

	report := h.validate(doc)
	metrics.ObserveReport("api", report)
	if !report.Valid() {
		writeJSON(w, http.StatusUnprocessableEntity, validationFailedResponse{
			Error:      "Invalid config",
			Details:    fmt.Sprintf("%d validation error(s)", len(report.Errors())),
			Suggestion: "Fix the reported issues and resubmit",
			Report:     report,
		})
		return
	}

	rev, err := h.storage.Put(r.Context(), name, doc)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidName) {
			writeError(w, http.StatusBadRequest, "Invalid config name", err.Error())
			return
		}
		writeInternalError(w, err)
		return
	}
	h.refreshGauge(r.Context())

	writeJSON(w, http.StatusOK, putConfigResponse{
		Revision: rev,
		Report:   report,
		Message:  "Config stored successfully",
	})
}

func (h *Handler) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.storage.Delete(r.Context(), name); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeNotFound(w, name)
			return
		}
		writeInternalError(w, err)
		return
	}
	h.refreshGauge(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetConfigYAML(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	body, err := hparams.Encode(rec.Document)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("ETag", strconv.Quote(rec.Checksum))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) handleConfigHistory(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	revs, err := h.storage.History(r.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeNotFound(w, name)
			return
		}
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Name: name, Revisions: revs})
}

func (h *Handler) handleConfigSchedule(w http.ResponseWriter, r *http.Request) {
	stepsPerEpoch := 1
	if raw := r.URL.Query().Get("steps_per_epoch"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxStepsPerEpoch {
			writeError(w, http.StatusBadRequest, "Invalid request",
				fmt.Sprintf("steps_per_epoch must be an integer between 1 and %d", maxStepsPerEpoch))
			return
		}
		stepsPerEpoch = n
	}

	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}

	cfg, err := hparams.Decode(rec.Document)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Cannot build schedule", err.Error())
		return
	}
	sched, err := schedule.FromConfig(cfg, stepsPerEpoch)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Cannot build schedule", err.Error(),
			"Check scheduler, lr, min_lr and the epoch counts")
		return
	}

	writeJSON(w, http.StatusOK, scheduleResponse{
		Name:          rec.Name,
		Version:       rec.Version,
		Scheduler:     cfg.Scheduler,
		StepsPerEpoch: stepsPerEpoch,
		TotalSteps:    sched.TotalSteps(),
		Points:        sched.Preview(),
	})
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	doc, ok := readDocument(w, r)
	if !ok {
		return
	}

	opts := hparams.Options{Strict: h.strict}
	if raw := r.URL.Query().Get("strict"); raw != "" {
		strict, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request", "strict must be a boolean")
			return
		}
		opts.Strict = strict
	}

	report := hparams.Validate(doc, opts)
	metrics.ObserveReport("api", report)
	writeJSON(w, http.StatusOK, validateResponse{Valid: report.Valid(), Report: report})
}

func (h *Handler) handleDiff(w http.ResponseWriter, r *http.Request) {
	var req diffRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}

	a, err := hparams.Parse([]byte(req.A))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid config", "a: "+err.Error())
		return
	}
	b, err := hparams.Parse([]byte(req.B))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid config", "b: "+err.Error())
		return
	}

	changes := hparams.Diff(a, b)
	if changes == nil {
		changes = []hparams.Change{}
	}
	writeJSON(w, http.StatusOK, diffResponse{
		Equivalent: hparams.Equivalent(a, b),
		Changes:    changes,
	})
}

func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	_ = r
	writeJSON(w, http.StatusOK, modelListResponse{Models: models.All()})
}

func (h *Handler) handleGetModel(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	arch, err := models.Lookup(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "Model not found", err.Error(),
			"Known models: "+strings.Join(models.Names(), ", "))
		return
	}

	imageSize := 0
	if raw := r.URL.Query().Get("image_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid request", "image_size must be a positive integer")
			return
		}
		imageSize = n
	}

	writeJSON(w, http.StatusOK, modelResponse{
		Model:  arch,
		Stages: models.Describe(arch, imageSize, -1),
	})
}

func (h *Handler) handleSchema(w http.ResponseWriter, r *http.Request) {
	_ = r
	fields := hparams.DefaultRegistry().Fields()
	out := make([]schemaField, 0, len(fields))
	for _, f := range fields {
		out = append(out, newSchemaField(f))
	}
	writeJSON(w, http.StatusOK, schemaResponse{Fields: out})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (storage.Record, bool) {
	name := r.PathValue("name")
	rec, err := h.storage.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeNotFound(w, name)
			return storage.Record{}, false
		}
		writeInternalError(w, err)
		return storage.Record{}, false
	}
	return rec, true
}

func (h *Handler) validate(doc *hparams.Document) hparams.Report {
	return hparams.Validate(doc, hparams.Options{Strict: h.strict})
}

func (h *Handler) refreshGauge(ctx context.Context) {
	if revs, err := h.storage.List(ctx); err == nil {
		metrics.StoredConfigs.Set(float64(len(revs)))
	}
}

func readDocument(w http.ResponseWriter, r *http.Request) (*hparams.Document, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Invalid request", "request body too large")
		return nil, false
	}
	doc, err := hparams.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid config", err.Error(),
			"Send a flat YAML mapping of option names to scalar values")
		return nil, false
	}
	return doc, true
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type diffRequest struct {
	A string `json:"a"`
	B string `json:"b"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type configListResponse struct {
	Configs []storage.Revision `json:"configs"`
}

type configResponse struct {
	storage.Revision
	Values map[string]hparams.Value `json:"values"`
	Report hparams.Report           `json:"report"`
}

type putConfigResponse struct {
	storage.Revision
	Report  hparams.Report `json:"report"`
	Message string         `json:"message,omitempty"`
}

type historyResponse struct {
	Name      string             `json:"name"`
	Revisions []storage.Revision `json:"revisions"`
}

type scheduleResponse struct {
	Name          string           `json:"name"`
	Version       int              `json:"version"`
	Scheduler     string           `json:"scheduler"`
	StepsPerEpoch int              `json:"stepsPerEpoch"`
	TotalSteps    int              `json:"totalSteps"`
	Points        []schedule.Point `json:"points"`
}

type validateResponse struct {
	Valid  bool           `json:"valid"`
	Report hparams.Report `json:"report"`
}

type diffResponse struct {
	Equivalent bool             `json:"equivalent"`
	Changes    []hparams.Change `json:"changes"`
}

type modelListResponse struct {
	Models []models.Arch `json:"models"`
}

type modelResponse struct {
	Model  models.Arch    `json:"model"`
	Stages []models.Stage `json:"stages"`
}

type schemaField struct {
	Key         string         `json:"key"`
	Section     string         `json:"section"`
	Kind        string         `json:"kind"`
	Default     *hparams.Value `json:"default,omitempty"`
	Required    bool           `json:"required,omitempty"`
	Nullable    bool           `json:"nullable,omitempty"`
	Range       string         `json:"range,omitempty"`
	Enum        []string       `json:"enum,omitempty"`
	MinItems    int            `json:"minItems,omitempty"`
	MaxItems    int            `json:"maxItems,omitempty"`
	Description string         `json:"description,omitempty"`
}

func newSchemaField(f hparams.Field) schemaField {
	out := schemaField{
		Key:         f.Key,
		Section:     string(f.Section),
		Kind:        f.Kind.String(),
		Required:    f.Required,
		Nullable:    f.Nullable,
		Enum:        f.Enum,
		MinItems:    f.MinItems,
		MaxItems:    f.MaxItems,
		Description: f.Description,
	}
	if !f.Required {
		def := f.Default
		out.Default = &def
	}
	if f.Bounds != nil {
		out.Range = f.Bounds.String()
	}
	return out
}

type schemaResponse struct {
	Fields []schemaField `json:"fields"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

type validationFailedResponse struct {
	Error      string         `json:"error"`
	Details    string         `json:"details,omitempty"`
	Suggestion string         `json:"suggestion,omitempty"`
	Report     hparams.Report `json:"report"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeNotFound(w http.ResponseWriter, name string) {
	writeError(w, http.StatusNotFound, "Config not found", fmt.Sprintf("no config named %q", name),
		"List stored configs with GET /api/configs")
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
