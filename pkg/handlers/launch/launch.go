package launch

import (
	"log/slog"
	"net/http"

	"github.com/labring/testreport/pkg/common"
	apierrors "github.com/labring/testreport/pkg/errors"
	"github.com/labring/testreport/pkg/router"
	"github.com/labring/testreport/pkg/store"
)

// StartLaunch handles POST /api/v1/:project/launch
func (h *LaunchHandler) StartLaunch(w http.ResponseWriter, r *http.Request) {
	var rq common.StartLaunchRQ
	if err := common.ParseJSONBodyReturn(w, r, &rq); err != nil {
		return
	}
	if rq.Name == "" {
		apierrors.WriteError(w, apierrors.NewIncorrectRequestError("Launch name is required"))
		return
	}

	l := h.store.StartLaunch(router.Param(r, "project"), &rq)
	slog.Info("launch started",
		slog.String("launch_id", l.ID),
		slog.String("name", l.Name),
		slog.String("project", l.Project),
	)
	common.WriteCreatedResponse(w, l.ID)
}

// FinishLaunch handles PUT /api/v1/:project/launch/:id/finish
func (h *LaunchHandler) FinishLaunch(w http.ResponseWriter, r *http.Request) {
	id := router.Param(r, "id")

	var rq common.FinishExecutionRQ
	if err := common.ParseJSONBodyReturn(w, r, &rq); err != nil {
		return
	}

	l, err := h.store.FinishLaunch(id, &rq)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	slog.Info("launch finished", slog.String("launch_id", id), slog.String("status", string(l.Status)))
	common.WriteCompletedResponse(w, "Launch with ID = '%s' successfully finished.", id)
}

// GetLaunch handles GET /api/v1/:project/launch/:id
func (h *LaunchHandler) GetLaunch(w http.ResponseWriter, r *http.Request) {
	details, err := h.store.LaunchDetails(router.Param(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	common.WriteSuccessResponse(w, details)
}

// ListLaunches handles GET /api/v1/:project/launch
func (h *LaunchHandler) ListLaunches(w http.ResponseWriter, r *http.Request) {
	project := router.Param(r, "project")

	launches := make([]*store.Launch, 0)
	for _, l := range h.store.Launches() {
		if l.Project == project {
			launches = append(launches, l)
		}
	}
	common.WriteSuccessResponse(w, launches)
}
