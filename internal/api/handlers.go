// Package api implements the judge's HTTP surface: health, language catalog,
// and submission CRUD/batch/wait-mode endpoints, all JSON over net/http.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/itstheanurag/executioner/internal/apperr"
	"github.com/itstheanurag/executioner/internal/config"
	"github.com/itstheanurag/executioner/internal/domain"
	"github.com/itstheanurag/executioner/internal/health"
	"github.com/itstheanurag/executioner/internal/languages"
	"github.com/itstheanurag/executioner/internal/service"
	"github.com/itstheanurag/executioner/internal/transport"
	"github.com/rs/zerolog"
)

type Handler struct {
	service  *service.Service
	registry *languages.Registry
	health   *health.Checker
	waitCfg  config.Config
	logger   *zerolog.Logger
}

func NewHandler(svc *service.Service, registry *languages.Registry, checker *health.Checker, cfg *config.Config, logger *zerolog.Logger) *Handler {
	return &Handler{service: svc, registry: registry, health: checker, waitCfg: *cfg, logger: logger}
}

// --- health ---

func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "pong"})
}

func (h *Handler) HealthOverall(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.health.Overall(r.Context()))
}

func (h *Handler) HealthDatabase(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.health.CheckDatabase(r.Context()))
}

func (h *Handler) HealthRedis(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.health.CheckRedis(r.Context()))
}

func (h *Handler) HealthWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.health.CheckWorkers(r.Context()))
}

// --- language catalog ---

type languageView struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (h *Handler) ListLanguages(w http.ResponseWriter, r *http.Request) {
	langs := h.registry.List()
	views := make([]languageView, len(langs))
	for i, l := range langs {
		views[i] = languageView{ID: l.ID, Name: l.Name, Version: l.Version}
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) GetLanguage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, apperr.Validation("id", "language id must be an integer"))
		return
	}
	lang, ok := h.registry.Get(id)
	if !ok {
		writeError(w, apperr.NotFound("language not found"))
		return
	}
	writeJSON(w, http.StatusOK, languageView{ID: lang.ID, Name: lang.Name, Version: lang.Version})
}

// --- submissions ---

type additionalFileRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type submissionRequest struct {
	LanguageID                  int                     `json:"language_id"`
	SourceCode                  string                  `json:"source_code"`
	Stdin                       *string                 `json:"stdin,omitempty"`
	ExpectedOutput              *string                 `json:"expected_output,omitempty"`
	AdditionalFiles             []additionalFileRequest `json:"additional_files,omitempty"`
	CPUTimeLimit                float64                 `json:"cpu_time_limit,omitempty"`
	CPUExtraTime                float64                 `json:"cpu_extra_time,omitempty"`
	WallTimeLimit               float64                 `json:"wall_time_limit,omitempty"`
	MemoryLimit                 int64                   `json:"memory_limit,omitempty"`
	MaxProcessesAndOrThreads    int                     `json:"max_processes_and_or_threads,omitempty"`
	MaxFileSize                 int64                   `json:"max_file_size,omitempty"`
	NumberOfRuns                int                     `json:"number_of_runs,omitempty"`
	EnablePerProcessTimeLimit   bool                    `json:"enable_per_process_and_thread_time_limit,omitempty"`
	EnablePerProcessMemoryLimit bool                    `json:"enable_per_process_and_thread_memory_limit,omitempty"`
	RedirectStderrToStdout      bool                    `json:"redirect_stderr_to_stdout,omitempty"`
	EnableNetwork               bool                    `json:"enable_network,omitempty"`
}

func (req submissionRequest) toInput(decodeB64 bool) (service.CreateInput, error) {
	decode := transport.DecodeString
	if !decodeB64 {
		decode = func(s string) ([]byte, error) { return []byte(s), nil }
	}

	source, err := decode(req.SourceCode)
	if err != nil {
		return service.CreateInput{}, apperr.Validation("source_code", err.Error())
	}

	var stdin []byte
	if req.Stdin != nil {
		stdin, err = decode(*req.Stdin)
		if err != nil {
			return service.CreateInput{}, apperr.Validation("stdin", err.Error())
		}
	}

	var expected []byte
	hasExpected := req.ExpectedOutput != nil
	if hasExpected {
		expected, err = decode(*req.ExpectedOutput)
		if err != nil {
			return service.CreateInput{}, apperr.Validation("expected_output", err.Error())
		}
	}

	files := make([]domain.AdditionalFile, len(req.AdditionalFiles))
	for i, f := range req.AdditionalFiles {
		content, err := decode(f.Content)
		if err != nil {
			return service.CreateInput{}, apperr.Validation("additional_files", "invalid base64 in additional_files: "+err.Error())
		}
		files[i] = domain.AdditionalFile{Name: f.Name, Content: content}
	}

	return service.CreateInput{
		SourceCode:                  source,
		LanguageID:                  req.LanguageID,
		Stdin:                       stdin,
		ExpectedOutput:              expected,
		HasExpectedOut:              hasExpected,
		AdditionalFiles:             files,
		CPUTimeLimit:                req.CPUTimeLimit,
		CPUExtraTime:                req.CPUExtraTime,
		WallTimeLimit:               req.WallTimeLimit,
		MemoryLimitKB:               req.MemoryLimit,
		MaxProcessesAndOrThreads:    req.MaxProcessesAndOrThreads,
		MaxFileSizeKB:               req.MaxFileSize,
		NumberOfRuns:                req.NumberOfRuns,
		EnablePerProcessTimeLimit:   req.EnablePerProcessTimeLimit,
		EnablePerProcessMemoryLimit: req.EnablePerProcessMemoryLimit,
		RedirectStderrToStdout:      req.RedirectStderrToStdout,
		EnableNetwork:               req.EnableNetwork,
	}, nil
}

func (h *Handler) CreateSubmission(w http.ResponseWriter, r *http.Request) {
	var req submissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("body", "invalid JSON body"))
		return
	}

	base64Encoded := r.URL.Query().Get("base64_encoded") == "true"
	wait := r.URL.Query().Get("wait") == "true"

	in, err := req.toInput(base64Encoded)
	if err != nil {
		writeError(w, err)
		return
	}

	sub, err := h.service.Create(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}

	if !wait {
		writeJSON(w, http.StatusCreated, map[string]string{"id": sub.ID.String()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.waitCfg.WaitModeTimeout)
	defer cancel()

	final, err := h.service.Await(ctx, sub.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubmissionView(final, base64Encoded))
}

func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []submissionRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, apperr.Validation("body", "invalid JSON body"))
		return
	}

	base64Encoded := r.URL.Query().Get("base64_encoded") == "true"

	inputs := make([]service.CreateInput, len(reqs))
	for i, req := range reqs {
		in, err := req.toInput(base64Encoded)
		if err != nil {
			if appErr, ok := apperr.As(err); ok {
				appErr.Field = "[" + strconv.Itoa(i) + "]." + appErr.Field
			}
			writeError(w, err)
			return
		}
		inputs[i] = in
	}

	subs, err := h.service.CreateBatch(r.Context(), inputs)
	if err != nil {
		writeError(w, err)
		return
	}

	ids := make([]map[string]string, len(subs))
	for i, s := range subs {
		ids[i] = map[string]string{"id": s.ID.String()}
	}
	writeJSON(w, http.StatusCreated, ids)
}

func (h *Handler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)
	if page < 1 {
		writeError(w, apperr.Unprocessable("page", "page must be greater than or equal to 1"))
		return
	}
	if pageSize < 1 || pageSize > 100 {
		writeError(w, apperr.Unprocessable("page_size", "page_size must be between 1 and 100"))
		return
	}
	base64Encoded := r.URL.Query().Get("base64_encoded") == "true"

	result, err := h.service.List(r.Context(), page, pageSize)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]submissionView, len(result.Items))
	for i := range result.Items {
		items[i] = toSubmissionView(&result.Items[i], base64Encoded)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":        items,
		"total_items":  result.TotalItems,
		"total_pages":  result.TotalPages,
		"current_page": result.CurrentPage,
		"page_size":    result.PageSize,
	})
}

func (h *Handler) GetBatchSubmissions(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	base64Encoded := r.URL.Query().Get("base64_encoded") == "true"

	var ids []uuid.UUID
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := uuid.Parse(s)
		if err != nil {
			writeError(w, apperr.Validation("ids", "malformed submission id: "+s))
			return
		}
		ids = append(ids, id)
	}

	subs, err := h.service.GetMany(r.Context(), ids)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]submissionView, len(subs))
	for i := range subs {
		views[i] = toSubmissionView(&subs[i], base64Encoded)
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, apperr.Validation("id", "malformed submission id"))
		return
	}
	base64Encoded := r.URL.Query().Get("base64_encoded") == "true"

	sub, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmissionView(sub, base64Encoded))
}

func (h *Handler) DeleteSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, apperr.Validation("id", "malformed submission id"))
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- response shaping ---

type submissionView struct {
	ID             string       `json:"id"`
	LanguageID     int          `json:"language_id"`
	SourceCode     string       `json:"source_code"`
	Stdin          *string      `json:"stdin"`
	ExpectedOutput *string      `json:"expected_output,omitempty"`
	Status         string       `json:"status"`
	Stdout         *string      `json:"stdout"`
	Stderr         *string      `json:"stderr"`
	CompileOutput  *string      `json:"compile_output"`
	Meta           *domain.Meta `json:"meta"`
	CreatedAt      time.Time    `json:"created_at"`
}

func toSubmissionView(sub *domain.Submission, base64Encoded bool) submissionView {
	encode := func(b []byte) string { return string(b) }
	encodeOpt := func(b []byte) *string {
		if len(b) == 0 {
			return nil
		}
		s := string(b)
		return &s
	}
	if base64Encoded {
		encode = transport.EncodeBytes
		encodeOpt = transport.EncodeOptional
	}

	view := submissionView{
		ID:            sub.ID.String(),
		LanguageID:    sub.LanguageID,
		SourceCode:    encode(sub.SourceCode),
		Stdin:         encodeOpt(sub.Stdin),
		Status:        string(sub.Status),
		Stdout:        encodeOpt(sub.Stdout),
		Stderr:        encodeOpt(sub.Stderr),
		CompileOutput: encodeOpt(sub.CompileOutput),
		Meta:          sub.Meta,
		CreatedAt:     sub.CreatedAt,
	}
	if sub.HasExpectedOut {
		view.ExpectedOutput = encodeOpt(sub.ExpectedOutput)
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	writeJSON(w, appErr.HTTPStatus(), map[string]string{"detail": appErr.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
