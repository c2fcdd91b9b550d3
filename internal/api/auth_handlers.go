package api

import (
	"errors"
	"net/http"
)

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !bind(w, r, &req) {
		return
	}
	res, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{
		User:         toUserResponse(res.User),
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
	})
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !bind(w, r, &req) {
		return
	}
	access, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RefreshResponse{AccessToken: access})
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	// a missing body still logs out client-side
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}
	if err := h.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	u, err := h.auth.Me(r.Context(), actor(r))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}
