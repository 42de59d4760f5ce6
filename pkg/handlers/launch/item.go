package launch

import (
	"log/slog"
	"net/http"

	"github.com/labring/testreport/pkg/common"
	"github.com/labring/testreport/pkg/router"
)

// StartItem handles POST /api/v1/:project/item and POST /api/v1/:project/item/:parent
func (h *LaunchHandler) StartItem(w http.ResponseWriter, r *http.Request) {
	parentID := router.Param(r, "parent")

	var rq common.StartTestItemRQ
	if err := common.ParseJSONBodyReturn(w, r, &rq); err != nil {
		return
	}

	item, err := h.store.StartItem(parentID, &rq)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	slog.Debug("test item started",
		slog.String("item_id", item.ID),
		slog.String("parent_id", parentID),
		slog.String("name", item.Name),
	)
	common.WriteCreatedResponse(w, item.ID)
}

// FinishItem handles PUT /api/v1/:project/item/:id
func (h *LaunchHandler) FinishItem(w http.ResponseWriter, r *http.Request) {
	id := router.Param(r, "id")

	var rq common.FinishTestItemRQ
	if err := common.ParseJSONBodyReturn(w, r, &rq); err != nil {
		return
	}

	item, err := h.store.FinishItem(id, &rq)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	slog.Debug("test item finished", slog.String("item_id", id), slog.String("status", string(item.Status)))
	common.WriteCompletedResponse(w, "Test item with ID = '%s' successfully finished.", id)
}

// GetItem handles GET /api/v1/:project/item/:id
func (h *LaunchHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.store.Item(router.Param(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	common.WriteSuccessResponse(w, item)
}
