package clinic

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrPatientNotFound     = fmt.Errorf("patient %w", ErrNotFound)
	ErrSessionNotFound     = fmt.Errorf("session %w", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
	ErrStaffNotFound       = fmt.Errorf("doctor %w", ErrNotFound)
)

// Repository contains all DB interactions needed by the service. SQL is
// built for the adapter's dialect.
type Repository interface {
	ListPatients(ctx context.Context, filter PatientFilter) ([]Patient, error)
	GetPatient(ctx context.Context, id string) (*Patient, error)
	FindPatientByNationalID(ctx context.Context, nationalID string) (*Patient, error)
	CreatePatient(ctx context.Context, p *Patient) error
	UpdatePatient(ctx context.Context, id string, patch PatientPatch) error
	// DeletePatient removes the patient and all of its sessions.
	DeletePatient(ctx context.Context, id string) error

	ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	CreateSession(ctx context.Context, s *Session) error
	UpdateSession(ctx context.Context, id string, patch SessionPatch) error
	DeleteSession(ctx context.Context, id string) error

	ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error)
	GetAppointment(ctx context.Context, id string) (*Appointment, error)
	CreateAppointment(ctx context.Context, a *Appointment) error
	UpdateAppointment(ctx context.Context, id string, patch AppointmentPatch) error
	DeleteAppointment(ctx context.Context, id string) error
	// FindOverlapping returns active appointments of staffID sharing time with
	// [start, start+minutes), excluding excludeID.
	FindOverlapping(ctx context.Context, staffID string, start time.Time, minutes int, excludeID string) ([]Appointment, error)
	// FindStaff returns an active doctor or admin.
	FindStaff(ctx context.Context, id string) (*Staff, error)

	Stats(ctx context.Context, now time.Time, withAppointments bool) (*Stats, error)
	RangeStats(ctx context.Context, from, to string) (*RangeStats, error)
	RecentActivity(ctx context.Context, limit int) ([]Activity, error)
}
