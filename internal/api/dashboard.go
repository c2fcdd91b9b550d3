package api

import (
	"net/http"
	"strconv"
	"time"
)

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.clinic.Stats(r.Context())
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	resp := StatsResponse{
		TotalPatients:        st.TotalPatients,
		NewPatientsThisMonth: st.NewPatientsThisMonth,
		TotalSessions:        st.TotalSessions,
		SessionsThisMonth:    st.SessionsThisMonth,
		UpcomingAppointments: st.UpcomingAppointments,
		TopTreatments:        toTreatmentCounts(st.TopTreatments),
		RecentPatients:       make([]PatientResponse, 0, len(st.RecentPatients)),
	}
	for i := range st.RecentPatients {
		resp.RecentPatients = append(resp.RecentPatients, toPatientResponse(&st.RecentPatients[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) rangeStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rs, err := h.clinic.RangeStats(r.Context(), q.Get("from"), q.Get("to"))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RangeStatsResponse{
		From:       rs.From,
		To:         rs.To,
		Sessions:   rs.SessionsInRange,
		Patients:   rs.PatientsInRange,
		Treatments: toTreatmentCounts(rs.TreatmentsInRange),
	})
}

type ActivityResponse struct {
	SessionID   string    `json:"session_id"`
	VisitDate   string    `json:"visit_date"`
	Treatment   string    `json:"treatment"`
	CreatedAt   time.Time `json:"created_at"`
	PatientID   string    `json:"patient_id"`
	PatientName string    `json:"patient_name"`
}

func (h *handlers) activity(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be an integer")
			return
		}
		limit = n
	}
	items, err := h.clinic.RecentActivity(r.Context(), limit)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	out := make([]ActivityResponse, 0, len(items))
	for _, a := range items {
		out = append(out, ActivityResponse{
			SessionID:   a.SessionID,
			VisitDate:   a.VisitDate,
			Treatment:   a.Treatment,
			CreatedAt:   a.CreatedAt,
			PatientID:   a.PatientID,
			PatientName: a.PatientName,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
