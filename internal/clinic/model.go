package clinic

import (
	"time"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether an appointment may move from s to next.
// Completed and cancelled appointments never change status again.
func (s AppointmentStatus) CanTransition(next AppointmentStatus) bool {
	if s.Terminal() || !next.Valid() {
		return false
	}
	if next == StatusPending {
		return s == StatusPending
	}
	return true
}

const (
	DefaultDurationMinutes = 60
	MinDurationMinutes     = 15
	MaxDurationMinutes     = 480
)

type Patient struct {
	ID                 string
	FullName           string
	NationalID         string
	BirthDate          *string // YYYY-MM-DD
	Phone              *string
	Email              *string
	Address            *string
	InsuranceProvider  *string
	InsuranceNumber    *string
	ConsultationReason *string
	Photo              *string // data URI in local mode, storage path in cloud mode
	CreatedAt          time.Time
	UpdatedAt          time.Time

	SessionCount int64
	Sessions     []Session
}

type Session struct {
	ID          string
	PatientID   string
	VisitDate   string // YYYY-MM-DD
	Treatment   string
	Products    *string
	Notes       *string
	ImageBefore *string
	ImageAfter  *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Appointment struct {
	ID               string
	PatientID        string
	StaffID          *string
	StartsAt         time.Time
	DurationMinutes  int
	PlannedTreatment *string
	Notes            *string
	Status           AppointmentStatus
	ReminderSent     bool
	CreatedAt        time.Time
	UpdatedAt        time.Time

	PatientName  string
	PatientPhone *string
	StaffName    *string
}

func (a Appointment) EndsAt() time.Time {
	return a.StartsAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Overlaps reports whether a and b share any instant.
func (a Appointment) Overlaps(start time.Time, minutes int) bool {
	end := start.Add(time.Duration(minutes) * time.Minute)
	return a.StartsAt.Before(end) && start.Before(a.EndsAt())
}

// Staff is the subset of a user account appointments need.
type Staff struct {
	ID   string
	Name string
	Role string
}

// PatientPatch holds changed fields; nil means unchanged and a pointer to ""
// clears an optional column.
type PatientPatch struct {
	FullName           *string
	NationalID         *string
	BirthDate          *string
	Phone              *string
	Email              *string
	Address            *string
	InsuranceProvider  *string
	InsuranceNumber    *string
	ConsultationReason *string
	Photo              *string
}

func (p PatientPatch) Empty() bool {
	return p.FullName == nil && p.NationalID == nil && p.BirthDate == nil && p.Phone == nil &&
		p.Email == nil && p.Address == nil && p.InsuranceProvider == nil && p.InsuranceNumber == nil &&
		p.ConsultationReason == nil && p.Photo == nil
}

type SessionPatch struct {
	VisitDate   *string
	Treatment   *string
	Products    *string
	Notes       *string
	ImageBefore *string
	ImageAfter  *string
}

func (p SessionPatch) Empty() bool {
	return p.VisitDate == nil && p.Treatment == nil && p.Products == nil && p.Notes == nil &&
		p.ImageBefore == nil && p.ImageAfter == nil
}

type AppointmentPatch struct {
	StaffID          *string
	StartsAt         *time.Time
	DurationMinutes  *int
	PlannedTreatment *string
	Notes            *string
	Status           *AppointmentStatus
	ReminderSent     *bool
}

func (p AppointmentPatch) Empty() bool {
	return p.StaffID == nil && p.StartsAt == nil && p.DurationMinutes == nil && p.PlannedTreatment == nil &&
		p.Notes == nil && p.Status == nil && p.ReminderSent == nil
}

type PatientFilter struct {
	Query string // matches name or national id, case-insensitive
}

type SessionFilter struct {
	PatientID string
	From      string // YYYY-MM-DD, inclusive
	To        string // YYYY-MM-DD, inclusive
}

type AppointmentFilter struct {
	From      *time.Time
	To        *time.Time
	PatientID string
	StaffID   string
	Status    AppointmentStatus
}

type TreatmentCount struct {
	Treatment string
	Count     int64
}

type Stats struct {
	TotalPatients        int64
	NewPatientsThisMonth int64
	TotalSessions        int64
	SessionsThisMonth    int64
	UpcomingAppointments int64
	TopTreatments        []TreatmentCount
	RecentPatients       []Patient
}

type RangeStats struct {
	From              string
	To                string
	SessionsInRange   int64
	PatientsInRange   int64
	TreatmentsInRange []TreatmentCount
}

// Activity is one recently recorded session.
type Activity struct {
	SessionID   string
	VisitDate   string
	Treatment   string
	CreatedAt   time.Time
	PatientID   string
	PatientName string
}
