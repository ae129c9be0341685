package httpapi

import (
	"net/http"

	"github.com/dmitrijs2005/notesync/internal/server/models"
)

func (h *handlers) pull(w http.ResponseWriter, r *http.Request) {
	var req pullRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	cursor, err := parseVersion("cursor", req.Cursor)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	id := caller(r)
	res, err := h.Sync.Pull(r.Context(), id.UserID, id.DeviceID, cursor, req.Limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, pullResponse{
		Changes:    models.WireChanges(res.Changes),
		Cursor:     formatVersion(res.Cursor),
		HasMore:    res.HasMore,
		Checkpoint: formatVersion(res.Checkpoint),
	})
}

func (h *handlers) push(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	checkpoint, err := parseVersion("checkpoint", req.Checkpoint)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	// The token's device wins; older tokens without one fall back to the body.
	id := caller(r)
	device := id.DeviceID
	if device == "" {
		device = req.DeviceID
	}

	changes := make([]models.PushedChange, 0, len(req.Changes))
	for _, c := range req.Changes {
		changes = append(changes, models.PushedChange{
			ID:       c.ID,
			Table:    c.Table,
			RecordID: c.RecordID,
			Action:   c.Action,
			Data:     c.Data,
		})
	}

	res, err := h.Sync.Push(r.Context(), id.UserID, device, checkpoint, changes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, newPushResponse(res))
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	id := caller(r)
	st, err := h.Sync.Status(r.Context(), id.UserID, id.DeviceID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, statusResponse{
		LastSyncAt:     st.LastSyncAt,
		PendingChanges: st.PendingChanges,
		TotalNotes:     st.TotalNotes,
		DeviceCount:    st.DeviceCount,
	})
}

func (h *handlers) resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	resolutions := make([]models.Resolution, 0, len(req.Conflicts))
	for _, c := range req.Conflicts {
		resolutions = append(resolutions, models.Resolution{
			Table:      c.Table,
			RecordID:   c.RecordID,
			Kind:       c.Resolution,
			MergedData: c.MergedData,
		})
	}

	id := caller(r)
	if err := h.Sync.Resolve(r.Context(), id.UserID, id.DeviceID, resolutions); err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, nil)
}

func (h *handlers) subscribe(w http.ResponseWriter, r *http.Request) {
	id := caller(r)
	h.Feed.Serve(w, r, id.UserID, id.DeviceID)
}
