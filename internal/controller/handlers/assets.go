package handlers

import (
	"net/http"

	"docplane/pkg/api"
)

// PreprocessAsset handles POST /assets/{id}/preprocess.
// Parsing and indexing run in the background; poll the asset's processes
// to see when its steps become runnable.
func (h *Handlers) PreprocessAsset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.pathID(w, r, "asset")
	if !ok {
		return
	}

	if _, err := h.store.GetAsset(ctx, nil, id); err != nil {
		h.engineError(w, r, err, "Failed to load asset")
		return
	}

	h.engine.SubmitPreprocess(id)
	h.respondJson(w, http.StatusAccepted, api.PreprocessResponse{
		AssetID: id.String(),
		Status:  "queued",
	})
}
