package httpx

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/marketfeed/catalogd/internal/domain/model"
	"github.com/marketfeed/catalogd/internal/service"
)

var errInvalidJobID = errors.New("job id must be a uuid")

// QueueHandlers provides HTTP handlers for queue introspection.
type QueueHandlers struct {
	Svc *service.JobService
}

// Stats handles GET /api/queue/stats?type=: returns per-stage queue depth
// counters, optionally filtered to one stage.
func (h *QueueHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}

	if raw := r.URL.Query().Get("type"); raw != "" {
		jobType := model.JobType(raw)
		if !jobType.Valid() {
			WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_query", Err: errInvalidJobType})
			return
		}
		stats = &model.QueueStats{Stages: map[model.JobType]model.JobStats{
			jobType: stats.Stages[jobType],
		}}
	}

	WriteJSON(w, http.StatusOK, stats)
}

// GetJob handles GET /api/queue/jobs/{id}: returns one job with its retry
// bookkeeping, mainly for inspecting dead-lettered work.
func (h *QueueHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if _, err := uuid.Parse(jobID); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errInvalidJobID})
		return
	}

	job, err := h.Svc.GetByID(r.Context(), jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, job)
}
