package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/DLMCQ/DermaClinic/internal/auth"
)

func (h *handlers) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := auth.UserFilter{Role: auth.Role(q.Get("role"))}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "active must be true or false")
			return
		}
		filter.Active = &active
	}
	users, err := h.auth.ListUsers(r.Context(), actor(r), filter)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	out := make([]UserResponse, 0, len(users))
	for i := range users {
		out = append(out, toUserResponse(&users[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.auth.GetUser(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *handlers) createUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !bind(w, r, &req) {
		return
	}
	u, err := h.auth.CreateUser(r.Context(), actor(r), auth.NewUser{
		Username: req.Username,
		Password: req.Password,
		Name:     req.Name,
		Role:     auth.Role(req.Role),
	})
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

func (h *handlers) updateUser(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if !bind(w, r, &req) {
		return
	}
	ch := auth.UserChanges{Name: req.Name, Password: req.Password, Active: req.Active}
	if req.Role != nil {
		role := auth.Role(*req.Role)
		ch.Role = &role
	}
	u, err := h.auth.UpdateUser(r.Context(), actor(r), chi.URLParam(r, "id"), ch)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *handlers) deactivateUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.auth.DeactivateUser(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *handlers) activateUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.auth.ActivateUser(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}
