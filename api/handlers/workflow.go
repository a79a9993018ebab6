package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/config"
	"github.com/BaSui01/taskflow/types"
	"github.com/BaSui01/taskflow/workflow"
)

// WorkflowHandler serves workflow submission, inspection, listing, and
// cancellation against the in-memory run store.
type WorkflowHandler struct {
	store  *workflow.Store
	logger *zap.Logger
}

// NewWorkflowHandler creates the handler.
func NewWorkflowHandler(store *workflow.Store, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowHandler{
		store:  store,
		logger: logger.With(zap.String("handler", "workflow")),
	}
}

// Register wires the routes onto the mux.
func (h *WorkflowHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/workflows", h.Submit)
	mux.HandleFunc("GET /api/v1/workflows", h.List)
	mux.HandleFunc("GET /api/v1/workflows/{id}", h.Get)
	mux.HandleFunc("GET /api/v1/workflows/{id}/status", h.Status)
	mux.HandleFunc("DELETE /api/v1/workflows/{id}", h.Cancel)
}

// SubmitResponse is the acknowledgment returned on submission.
type SubmitResponse struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	TotalTasks  int    `json:"total_tasks"`
}

// Submit accepts a workflow document and queues it for execution.
func (h *WorkflowHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var cfg config.WorkflowConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		WriteError(w, types.NewError(types.ErrConfigInvalid, "request body is not a workflow document").WithCause(err), h.logger)
		return
	}

	run, err := h.store.Submit(&cfg)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	h.logger.Info("workflow queued",
		zap.String("execution_id", run.ExecutionID),
		zap.String("name", run.Name))
	WriteJSON(w, http.StatusAccepted, Response{
		Success: true,
		Data: SubmitResponse{
			ExecutionID: run.ExecutionID,
			Status:      string(run.Status),
			TotalTasks:  run.TotalTasks,
		},
		Timestamp: run.CreatedAt,
	})
}

// Get returns the full run record, including per-task results and errors.
func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, ok := h.store.Get(r.PathValue("id"))
	if !ok {
		WriteNotFound(w, "workflow execution not found")
		return
	}
	WriteSuccess(w, run)
}

// StatusResponse is the lightweight progress view.
type StatusResponse struct {
	ExecutionID string  `json:"execution_id"`
	Status      string  `json:"status"`
	Progress    float64 `json:"progress"`
	CurrentTask string  `json:"current_task,omitempty"`
	Message     string  `json:"message,omitempty"`
}

// Status returns execution progress in [0, 100].
func (h *WorkflowHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, ok := h.store.Get(id)
	if !ok {
		WriteNotFound(w, "workflow execution not found")
		return
	}
	progress, _ := h.store.Progress(id)
	WriteSuccess(w, StatusResponse{
		ExecutionID: run.ExecutionID,
		Status:      string(run.Status),
		Progress:    progress,
		CurrentTask: run.CurrentTask,
		Message:     "workflow " + string(run.Status),
	})
}

// ListResponse is one page of runs.
type ListResponse struct {
	Workflows []*workflow.Run `json:"workflows"`
	Total     int             `json:"total"`
	Page      int             `json:"page"`
	PageSize  int             `json:"page_size"`
}

// List returns runs newest first with pagination and an optional status
// filter.
func (h *WorkflowHandler) List(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 10)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	status := workflow.RunStatus(r.URL.Query().Get("status"))

	runs, total := h.store.List(page, pageSize, status)
	WriteSuccess(w, ListResponse{
		Workflows: runs,
		Total:     total,
		Page:      page,
		PageSize:  pageSize,
	})
}

// Cancel requests cancellation of a queued or running workflow.
func (h *WorkflowHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.store.Get(id); !ok {
		WriteNotFound(w, "workflow execution not found")
		return
	}
	if err := h.store.Cancel(id); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"message": "workflow cancellation requested"})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
