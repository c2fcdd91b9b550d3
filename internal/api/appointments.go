package api

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/DLMCQ/DermaClinic/internal/clinic"
)

// parseInstant accepts RFC 3339 timestamps or plain dates (midnight UTC).
func parseInstant(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(clinic.DateLayout, v)
	if err != nil {
		return nil, fmt.Errorf("%q is not a date or RFC 3339 timestamp", v)
	}
	return &t, nil
}

func appointmentFilter(q url.Values) (clinic.AppointmentFilter, error) {
	from, err := parseInstant(q.Get("from"))
	if err != nil {
		return clinic.AppointmentFilter{}, err
	}
	to, err := parseInstant(q.Get("to"))
	if err != nil {
		return clinic.AppointmentFilter{}, err
	}
	staff := q.Get("staff_id")
	if staff == "" {
		staff = q.Get("doctor_id")
	}
	return clinic.AppointmentFilter{
		From:      from,
		To:        to,
		PatientID: q.Get("patient_id"),
		StaffID:   staff,
		Status:    clinic.AppointmentStatus(q.Get("status")),
	}, nil
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	filter, err := appointmentFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	appts, err := h.clinic.ListAppointments(r.Context(), filter)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	out := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		out = append(out, toAppointmentResponse(&appts[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	a, err := h.clinic.GetAppointment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(a))
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req AppointmentRequest
	if !bind(w, r, &req) {
		return
	}
	var actorID string
	if id := actor(r); id != nil {
		actorID = id.UserID
	}
	res, err := h.clinic.CreateAppointment(r.Context(), clinic.Appointment{
		PatientID:        req.PatientID,
		StaffID:          req.StaffID,
		StartsAt:         req.StartsAt,
		DurationMinutes:  req.DurationMinutes,
		PlannedTreatment: req.PlannedTreatment,
		Notes:            req.Notes,
		Status:           clinic.AppointmentStatus(req.Status),
	}, actorID)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentWriteResponse(res))
}

func (h *handlers) updateAppointment(w http.ResponseWriter, r *http.Request) {
	var req AppointmentPatchRequest
	if !bind(w, r, &req) {
		return
	}
	res, err := h.clinic.UpdateAppointment(r.Context(), chi.URLParam(r, "id"), req.toPatch())
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentWriteResponse(res))
}

func (h *handlers) completeAppointment(w http.ResponseWriter, r *http.Request) {
	a, err := h.clinic.CompleteAppointment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(a))
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	a, err := h.clinic.CancelAppointment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(a))
}

func (h *handlers) deleteAppointment(w http.ResponseWriter, r *http.Request) {
	if err := h.clinic.DeleteAppointment(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.errs.write(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
