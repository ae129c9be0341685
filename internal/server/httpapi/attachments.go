package httpapi

import "net/http"

func (h *handlers) presign(w http.ResponseWriter, r *http.Request) {
	var req presignRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.Attachments.Presign(r.Context(), caller(r).UserID, req.NoteID, req.ContentType)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, presignResponse{Key: p.Key, URL: p.URL, ExpiresAt: p.ExpiresAt.UnixMilli()})
}
