package httpapi

import (
	"net/http"
)

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Auth.Register(r.Context(), req.Email, req.Password, req.DisplayName, req.DeviceInfo.model())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, newAuthResponse(res.User, res.Tokens))
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.Auth.Login(r.Context(), req.Email, req.Password, req.DeviceInfo.model())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, newAuthResponse(res.User, res.Tokens))
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "validation", "refresh token is required")
		return
	}
	pair, err := h.Auth.RefreshToken(r.Context(), req.RefreshToken, req.DeviceID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, newAuthResponse(nil, pair))
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Auth.Logout(r.Context(), caller(r).UserID, req.RefreshToken); err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, nil)
}
