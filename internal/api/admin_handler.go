package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/phrazzld/mailindex/internal/api/shared"
	"github.com/phrazzld/mailindex/internal/platform/logger"
	"github.com/phrazzld/mailindex/internal/queue"
	"github.com/phrazzld/mailindex/internal/reindex"
)

// ReindexDriver starts and controls reindex jobs.
type ReindexDriver interface {
	Start(ctx context.Context, req reindex.Request) (queue.Progress, error)
	Status(accountID string) queue.Progress
	Running(accountID string) bool
	Abort(accountID string) queue.Progress
	Reset(accountID string)
}

// AdminHandler handles the reindex and queue admin endpoints.
type AdminHandler struct {
	driver ReindexDriver
	queue  queue.Adapter
	logger *slog.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(driver ReindexDriver, q queue.Adapter, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for AdminHandler")
	}

	return &AdminHandler{
		driver: driver,
		queue:  q,
		logger: logger.With(slog.String("component", "admin_handler")),
	}
}

func (h *AdminHandler) log(r *http.Request) *slog.Logger {
	return logger.FromContextOrDefault(r.Context(), h.logger)
}

// StartReindex handles POST /admin/reindex.
// Items are resolved before responding; batches are queued in the background.
func (h *AdminHandler) StartReindex(w http.ResponseWriter, r *http.Request) {
	log := h.log(r)

	var req ReindexRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		HandleAPIError(w, r, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		HandleAPIError(w, r, err)
		return
	}

	driverReq, err := req.toDriverRequest()
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	progress, err := h.driver.Start(r.Context(), driverReq)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	log.Info("reindex requested",
		slog.String("account_id", req.AccountID),
		slog.Int("mailbox_id", req.MailboxID),
		slog.Int64("total", progress.Total))

	shared.RespondWithJSON(w, r, http.StatusAccepted, ReindexResponse{
		Progress:  progress,
		Enqueuing: h.driver.Running(req.AccountID),
	})
}

// GetReindexStatus handles GET /admin/reindex/{accountID}.
func (h *AdminHandler) GetReindexStatus(w http.ResponseWriter, r *http.Request) {
	accountID, err := getPathAccountID(r)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ReindexResponse{
		Progress:  h.driver.Status(accountID),
		Enqueuing: h.driver.Running(accountID),
	})
}

// AbortReindex handles POST /admin/reindex/{accountID}/abort.
func (h *AdminHandler) AbortReindex(w http.ResponseWriter, r *http.Request) {
	accountID, err := getPathAccountID(r)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	progress := h.driver.Abort(accountID)
	h.log(r).Info("reindex abort requested", slog.String("account_id", accountID))

	shared.RespondWithJSON(w, r, http.StatusOK, ReindexResponse{
		Progress:  progress,
		Enqueuing: h.driver.Running(accountID),
	})
}

// ResetReindex handles DELETE /admin/reindex/{accountID}.
func (h *AdminHandler) ResetReindex(w http.ResponseWriter, r *http.Request) {
	accountID, err := getPathAccountID(r)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	h.driver.Reset(accountID)
	h.log(r).Info("reindex counters reset", slog.String("account_id", accountID))
	w.WriteHeader(http.StatusNoContent)
}

// GetQueue handles GET /admin/queue.
func (h *AdminHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	resp := QueueResponse{
		Length:       h.queue.Len(),
		Capacity:     h.queue.Capacity(),
		HasMoreItems: h.queue.HasMoreItems(),
	}
	if head, ok := h.queue.Peek(); ok {
		resp.Head = summarize(head)
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// DrainQueue handles POST /admin/queue/drain.
// Every queued task is discarded and all job counters are cleared.
func (h *AdminHandler) DrainQueue(w http.ResponseWriter, r *http.Request) {
	n := h.queue.Len()
	h.queue.Drain()
	h.log(r).Warn("indexing queue drained", slog.Int("discarded", n))
	w.WriteHeader(http.StatusNoContent)
}
