package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/DLMCQ/DermaClinic/internal/auth"
	"github.com/DLMCQ/DermaClinic/internal/clinic"
)

type handlers struct {
	auth   *auth.Service
	clinic *clinic.Service
	errs   errorMapper
}

func actor(r *http.Request) *auth.Identity {
	id, _ := auth.IdentityFrom(r.Context())
	return id
}

// Patients

func (h *handlers) listPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := h.clinic.ListPatients(r.Context(), clinic.PatientFilter{Query: r.URL.Query().Get("q")})
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	out := make([]PatientResponse, 0, len(patients))
	for i := range patients {
		out = append(out, toPatientResponse(&patients[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getPatient(w http.ResponseWriter, r *http.Request) {
	p, err := h.clinic.GetPatient(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPatientResponse(p))
}

func (h *handlers) createPatient(w http.ResponseWriter, r *http.Request) {
	var req PatientRequest
	if !bind(w, r, &req) {
		return
	}
	p, err := h.clinic.CreatePatient(r.Context(), req.toPatient())
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPatientResponse(p))
}

func (h *handlers) updatePatient(w http.ResponseWriter, r *http.Request) {
	var req PatientPatchRequest
	if !bind(w, r, &req) {
		return
	}
	p, err := h.clinic.UpdatePatient(r.Context(), chi.URLParam(r, "id"), req.toPatch())
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPatientResponse(p))
}

func (h *handlers) deletePatient(w http.ResponseWriter, r *http.Request) {
	if err := h.clinic.DeletePatient(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.errs.write(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sessions

func (h *handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	patientID := q.Get("patient_id")
	if id := chi.URLParam(r, "id"); id != "" {
		patientID = id
		if _, err := h.clinic.GetPatient(r.Context(), id); err != nil {
			h.errs.write(w, r, err)
			return
		}
	}
	sessions, err := h.clinic.ListSessions(r.Context(), clinic.SessionFilter{
		PatientID: patientID,
		From:      q.Get("from"),
		To:        q.Get("to"),
	})
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	out := make([]SessionResponse, 0, len(sessions))
	for i := range sessions {
		out = append(out, toSessionResponse(&sessions[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.clinic.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !bind(w, r, &req) {
		return
	}
	s, err := h.clinic.CreateSession(r.Context(), clinic.Session{
		PatientID:   req.PatientID,
		VisitDate:   req.VisitDate,
		Treatment:   strings.TrimSpace(req.Treatment),
		Products:    req.Products,
		Notes:       req.Notes,
		ImageBefore: req.ImageBefore,
		ImageAfter:  req.ImageAfter,
	})
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(s))
}

func (h *handlers) updateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionPatchRequest
	if !bind(w, r, &req) {
		return
	}
	s, err := h.clinic.UpdateSession(r.Context(), chi.URLParam(r, "id"), clinic.SessionPatch{
		VisitDate:   req.VisitDate,
		Treatment:   req.Treatment,
		Products:    req.Products,
		Notes:       req.Notes,
		ImageBefore: req.ImageBefore,
		ImageAfter:  req.ImageAfter,
	})
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

func (h *handlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.clinic.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.errs.write(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
