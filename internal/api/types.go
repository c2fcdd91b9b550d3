package api

import (
	"time"

	"github.com/DLMCQ/DermaClinic/internal/auth"
	"github.com/DLMCQ/DermaClinic/internal/clinic"
)

// Auth

type LoginRequest struct {
	Username string `json:"username" validate:"required,max=100"`
	Password string `json:"password" validate:"required,max=200"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type LoginResponse struct {
	User         UserResponse `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
}

type RefreshResponse struct {
	AccessToken string `json:"access_token"`
}

// Users

type UserResponse struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Name      string     `json:"name"`
	Role      string     `json:"role"`
	Active    bool       `json:"active"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func toUserResponse(u *auth.User) UserResponse {
	resp := UserResponse{ID: u.ID, Username: u.Username, Name: u.Name, Role: string(u.Role), Active: u.Active}
	if !u.CreatedAt.IsZero() {
		resp.CreatedAt = &u.CreatedAt
		resp.UpdatedAt = &u.UpdatedAt
	}
	return resp
}

type CreateUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=100"`
	Password string `json:"password" validate:"required,min=8,max=200"`
	Name     string `json:"name" validate:"required,min=2,max=255"`
	Role     string `json:"role" validate:"omitempty,oneof=admin doctor"`
}

type UpdateUserRequest struct {
	Name     *string `json:"name" validate:"omitempty,min=2,max=255"`
	Password *string `json:"password" validate:"omitempty,min=8,max=200"`
	Role     *string `json:"role" validate:"omitempty,oneof=admin doctor"`
	Active   *bool   `json:"active"`
}

// Patients

type PatientRequest struct {
	FullName           string  `json:"full_name" validate:"required,min=2,max=255"`
	NationalID         string  `json:"national_id" validate:"required,min=6,max=50"`
	BirthDate          *string `json:"birth_date" validate:"omitempty,isodate"`
	Phone              *string `json:"phone" validate:"omitempty,max=50"`
	Email              *string `json:"email" validate:"omitempty,email,max=255"`
	Address            *string `json:"address"`
	InsuranceProvider  *string `json:"insurance_provider" validate:"omitempty,max=255"`
	InsuranceNumber    *string `json:"insurance_number" validate:"omitempty,max=100"`
	ConsultationReason *string `json:"consultation_reason"`
	Photo              *string `json:"photo"`
}

type PatientPatchRequest struct {
	FullName           *string `json:"full_name" validate:"omitempty,min=2,max=255"`
	NationalID         *string `json:"national_id" validate:"omitempty,min=6,max=50"`
	BirthDate          *string `json:"birth_date" validate:"omitempty,isodate"`
	Phone              *string `json:"phone" validate:"omitempty,max=50"`
	Email              *string `json:"email" validate:"omitempty,email,max=255"`
	Address            *string `json:"address"`
	InsuranceProvider  *string `json:"insurance_provider" validate:"omitempty,max=255"`
	InsuranceNumber    *string `json:"insurance_number" validate:"omitempty,max=100"`
	ConsultationReason *string `json:"consultation_reason"`
	Photo              *string `json:"photo"`
}

func (p PatientPatchRequest) toPatch() clinic.PatientPatch {
	return clinic.PatientPatch{
		FullName:           p.FullName,
		NationalID:         p.NationalID,
		BirthDate:          p.BirthDate,
		Phone:              p.Phone,
		Email:              p.Email,
		Address:            p.Address,
		InsuranceProvider:  p.InsuranceProvider,
		InsuranceNumber:    p.InsuranceNumber,
		ConsultationReason: p.ConsultationReason,
		Photo:              p.Photo,
	}
}

func (p PatientRequest) toPatient() clinic.Patient {
	return clinic.Patient{
		FullName:           p.FullName,
		NationalID:         p.NationalID,
		BirthDate:          p.BirthDate,
		Phone:              p.Phone,
		Email:              p.Email,
		Address:            p.Address,
		InsuranceProvider:  p.InsuranceProvider,
		InsuranceNumber:    p.InsuranceNumber,
		ConsultationReason: p.ConsultationReason,
		Photo:              p.Photo,
	}
}

type PatientResponse struct {
	ID                 string            `json:"id"`
	FullName           string            `json:"full_name"`
	NationalID         string            `json:"national_id"`
	BirthDate          *string           `json:"birth_date"`
	Phone              *string           `json:"phone"`
	Email              *string           `json:"email"`
	Address            *string           `json:"address"`
	InsuranceProvider  *string           `json:"insurance_provider"`
	InsuranceNumber    *string           `json:"insurance_number"`
	ConsultationReason *string           `json:"consultation_reason"`
	Photo              *string           `json:"photo"`
	SessionCount       int64             `json:"session_count"`
	Sessions           []SessionResponse `json:"sessions,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

func toPatientResponse(p *clinic.Patient) PatientResponse {
	resp := PatientResponse{
		ID:                 p.ID,
		FullName:           p.FullName,
		NationalID:         p.NationalID,
		BirthDate:          p.BirthDate,
		Phone:              p.Phone,
		Email:              p.Email,
		Address:            p.Address,
		InsuranceProvider:  p.InsuranceProvider,
		InsuranceNumber:    p.InsuranceNumber,
		ConsultationReason: p.ConsultationReason,
		Photo:              p.Photo,
		SessionCount:       p.SessionCount,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
	if p.Sessions != nil {
		resp.Sessions = make([]SessionResponse, 0, len(p.Sessions))
		for i := range p.Sessions {
			resp.Sessions = append(resp.Sessions, toSessionResponse(&p.Sessions[i]))
		}
	}
	return resp
}

// Sessions

type SessionRequest struct {
	PatientID   string  `json:"patient_id" validate:"required,uuid"`
	VisitDate   string  `json:"visit_date" validate:"required,isodate"`
	Treatment   string  `json:"treatment" validate:"required,min=1,max=255"`
	Products    *string `json:"products"`
	Notes       *string `json:"notes"`
	ImageBefore *string `json:"image_before"`
	ImageAfter  *string `json:"image_after"`
}

type SessionPatchRequest struct {
	VisitDate   *string `json:"visit_date" validate:"omitempty,isodate"`
	Treatment   *string `json:"treatment" validate:"omitempty,min=1,max=255"`
	Products    *string `json:"products"`
	Notes       *string `json:"notes"`
	ImageBefore *string `json:"image_before"`
	ImageAfter  *string `json:"image_after"`
}

type SessionResponse struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patient_id"`
	VisitDate   string    `json:"visit_date"`
	Treatment   string    `json:"treatment"`
	Products    *string   `json:"products"`
	Notes       *string   `json:"notes"`
	ImageBefore *string   `json:"image_before"`
	ImageAfter  *string   `json:"image_after"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toSessionResponse(s *clinic.Session) SessionResponse {
	return SessionResponse{
		ID:          s.ID,
		PatientID:   s.PatientID,
		VisitDate:   s.VisitDate,
		Treatment:   s.Treatment,
		Products:    s.Products,
		Notes:       s.Notes,
		ImageBefore: s.ImageBefore,
		ImageAfter:  s.ImageAfter,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

// Appointments

type AppointmentRequest struct {
	PatientID        string    `json:"patient_id" validate:"required,uuid"`
	StaffID          *string   `json:"staff_id" validate:"omitempty,uuid"`
	StartsAt         time.Time `json:"starts_at" validate:"required"`
	DurationMinutes  int       `json:"duration_minutes" validate:"omitempty,min=15,max=480"`
	PlannedTreatment *string   `json:"planned_treatment" validate:"omitempty,max=255"`
	Notes            *string   `json:"notes"`
	Status           string    `json:"status" validate:"omitempty,oneof=pending confirmed completed cancelled"`
}

type AppointmentPatchRequest struct {
	StaffID          *string    `json:"staff_id" validate:"omitempty,uuid"`
	StartsAt         *time.Time `json:"starts_at"`
	DurationMinutes  *int       `json:"duration_minutes" validate:"omitempty,min=15,max=480"`
	PlannedTreatment *string    `json:"planned_treatment" validate:"omitempty,max=255"`
	Notes            *string    `json:"notes"`
	Status           *string    `json:"status" validate:"omitempty,oneof=pending confirmed completed cancelled"`
	ReminderSent     *bool      `json:"reminder_sent"`
}

func (p AppointmentPatchRequest) toPatch() clinic.AppointmentPatch {
	patch := clinic.AppointmentPatch{
		StaffID:          p.StaffID,
		StartsAt:         p.StartsAt,
		DurationMinutes:  p.DurationMinutes,
		PlannedTreatment: p.PlannedTreatment,
		Notes:            p.Notes,
		ReminderSent:     p.ReminderSent,
	}
	if p.Status != nil {
		st := clinic.AppointmentStatus(*p.Status)
		patch.Status = &st
	}
	return patch
}

type AppointmentResponse struct {
	ID               string    `json:"id"`
	PatientID        string    `json:"patient_id"`
	PatientName      string    `json:"patient_name"`
	PatientPhone     *string   `json:"patient_phone"`
	StaffID          *string   `json:"staff_id"`
	StaffName        *string   `json:"staff_name"`
	StartsAt         time.Time `json:"starts_at"`
	EndsAt           time.Time `json:"ends_at"`
	DurationMinutes  int       `json:"duration_minutes"`
	PlannedTreatment *string   `json:"planned_treatment"`
	Notes            *string   `json:"notes"`
	Status           string    `json:"status"`
	ReminderSent     bool      `json:"reminder_sent"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *clinic.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:               a.ID,
		PatientID:        a.PatientID,
		PatientName:      a.PatientName,
		PatientPhone:     a.PatientPhone,
		StaffID:          a.StaffID,
		StaffName:        a.StaffName,
		StartsAt:         a.StartsAt,
		EndsAt:           a.EndsAt(),
		DurationMinutes:  a.DurationMinutes,
		PlannedTreatment: a.PlannedTreatment,
		Notes:            a.Notes,
		Status:           string(a.Status),
		ReminderSent:     a.ReminderSent,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

// AppointmentWriteResponse is returned by create and update. Conflicts are
// informational; the write has already succeeded.
type AppointmentWriteResponse struct {
	Appointment AppointmentResponse   `json:"appointment"`
	Conflicts   []AppointmentResponse `json:"conflicts"`
}

func toAppointmentWriteResponse(res *clinic.AppointmentResult) AppointmentWriteResponse {
	out := AppointmentWriteResponse{
		Appointment: toAppointmentResponse(res.Appointment),
		Conflicts:   make([]AppointmentResponse, 0, len(res.Conflicts)),
	}
	for i := range res.Conflicts {
		out.Conflicts = append(out.Conflicts, toAppointmentResponse(&res.Conflicts[i]))
	}
	return out
}

// Dashboard

type TreatmentCountResponse struct {
	Treatment string `json:"treatment"`
	Count     int64  `json:"count"`
}

type StatsResponse struct {
	TotalPatients        int64                    `json:"total_patients"`
	NewPatientsThisMonth int64                    `json:"new_patients_this_month"`
	TotalSessions        int64                    `json:"total_sessions"`
	SessionsThisMonth    int64                    `json:"sessions_this_month"`
	UpcomingAppointments int64                    `json:"upcoming_appointments"`
	TopTreatments        []TreatmentCountResponse `json:"top_treatments"`
	RecentPatients       []PatientResponse        `json:"recent_patients"`
}

type RangeStatsResponse struct {
	From       string                   `json:"from"`
	To         string                   `json:"to"`
	Sessions   int64                    `json:"sessions"`
	Patients   int64                    `json:"patients"`
	Treatments []TreatmentCountResponse `json:"treatments"`
}

func toTreatmentCounts(in []clinic.TreatmentCount) []TreatmentCountResponse {
	out := make([]TreatmentCountResponse, 0, len(in))
	for _, t := range in {
		out = append(out, TreatmentCountResponse{Treatment: t.Treatment, Count: t.Count})
	}
	return out
}
