package clinic

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DLMCQ/DermaClinic/internal/metrics"
	redisclient "github.com/DLMCQ/DermaClinic/internal/redis"
)

const DateLayout = "2006-01-02"

var (
	ErrNationalIDTaken         = errors.New("a patient with this national id already exists")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrNoFieldsToUpdate        = errors.New("at least one field must be provided")
	ErrCloudOnly               = errors.New("not available in local mode")
	ErrInvalidImage            = errors.New("image does not match the storage strategy")
	ErrInvalidDuration         = errors.New("duration must be between 15 and 480 minutes")
	ErrInvalidDate             = errors.New("dates must be YYYY-MM-DD")
	ErrInvalidRange            = errors.New("from must not be after to")
	ErrInvalidInput            = errors.New("invalid input")
)

type Service struct {
	repo   Repository
	locker redisclient.Locker
	cloud  bool
	log    *zap.Logger
	now    func() time.Time
}

// NewService wires the clinic records service. cloud enables appointments and
// selects the image strategy; locker may be nil.
func NewService(repo Repository, locker redisclient.Locker, cloud bool, log *zap.Logger) *Service {
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, locker: locker, cloud: cloud, log: log, now: time.Now}
}

func (s *Service) Cloud() bool { return s.cloud }

// checkImage enforces the storage strategy: inline data URIs in local mode,
// storage paths in cloud mode. Empty values clear the field.
func (s *Service) checkImage(v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	isData := strings.HasPrefix(*v, "data:")
	if s.cloud && isData {
		return ErrInvalidImage
	}
	if !s.cloud && !strings.HasPrefix(*v, "data:image/") {
		return ErrInvalidImage
	}
	return nil
}

func checkDate(v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	if _, err := time.Parse(DateLayout, *v); err != nil {
		return ErrInvalidDate
	}
	return nil
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	return &t
}

// Patients

func (s *Service) ListPatients(ctx context.Context, filter PatientFilter) ([]Patient, error) {
	return s.repo.ListPatients(ctx, filter)
}

func (s *Service) GetPatient(ctx context.Context, id string) (*Patient, error) {
	return s.repo.GetPatient(ctx, id)
}

func (s *Service) CreatePatient(ctx context.Context, p Patient) (*Patient, error) {
	p.FullName = strings.TrimSpace(p.FullName)
	p.NationalID = strings.TrimSpace(p.NationalID)
	if p.FullName == "" || p.NationalID == "" {
		return nil, ErrInvalidInput
	}
	if err := checkDate(p.BirthDate); err != nil {
		return nil, err
	}
	if err := s.checkImage(p.Photo); err != nil {
		return nil, err
	}

	if _, err := s.repo.FindPatientByNationalID(ctx, p.NationalID); err == nil {
		return nil, ErrNationalIDTaken
	} else if !errors.Is(err, ErrPatientNotFound) {
		return nil, err
	}

	if err := s.repo.CreatePatient(ctx, &p); err != nil {
		return nil, err
	}
	s.log.Info("patient created", zap.String("patient_id", p.ID))
	return s.repo.GetPatient(ctx, p.ID)
}

func (s *Service) UpdatePatient(ctx context.Context, id string, patch PatientPatch) (*Patient, error) {
	if patch.Empty() {
		return nil, ErrNoFieldsToUpdate
	}
	patch.FullName = trimmed(patch.FullName)
	patch.NationalID = trimmed(patch.NationalID)
	if (patch.FullName != nil && *patch.FullName == "") || (patch.NationalID != nil && *patch.NationalID == "") {
		return nil, ErrInvalidInput
	}
	if err := checkDate(patch.BirthDate); err != nil {
		return nil, err
	}
	if err := s.checkImage(patch.Photo); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetPatient(ctx, id); err != nil {
		return nil, err
	}
	if patch.NationalID != nil {
		other, err := s.repo.FindPatientByNationalID(ctx, *patch.NationalID)
		switch {
		case err == nil && other.ID != id:
			return nil, ErrNationalIDTaken
		case err != nil && !errors.Is(err, ErrPatientNotFound):
			return nil, err
		}
	}

	if err := s.repo.UpdatePatient(ctx, id, patch); err != nil {
		return nil, err
	}
	return s.repo.GetPatient(ctx, id)
}

// DeletePatient removes the patient together with its sessions and appointments.
func (s *Service) DeletePatient(ctx context.Context, id string) error {
	if err := s.repo.DeletePatient(ctx, id); err != nil {
		return err
	}
	s.log.Info("patient deleted", zap.String("patient_id", id))
	return nil
}

// Sessions

func (s *Service) ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error) {
	if err := checkDate(&filter.From); err != nil {
		return nil, err
	}
	if err := checkDate(&filter.To); err != nil {
		return nil, err
	}
	return s.repo.ListSessions(ctx, filter)
}

func (s *Service) GetSession(ctx context.Context, id string) (*Session, error) {
	return s.repo.GetSession(ctx, id)
}

func (s *Service) CreateSession(ctx context.Context, sess Session) (*Session, error) {
	sess.Treatment = strings.TrimSpace(sess.Treatment)
	if sess.Treatment == "" || sess.VisitDate == "" {
		return nil, ErrInvalidInput
	}
	if err := checkDate(&sess.VisitDate); err != nil {
		return nil, err
	}
	if err := s.checkImage(sess.ImageBefore); err != nil {
		return nil, err
	}
	if err := s.checkImage(sess.ImageAfter); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetPatient(ctx, sess.PatientID); err != nil {
		return nil, err
	}
	if err := s.repo.CreateSession(ctx, &sess); err != nil {
		return nil, err
	}
	return s.repo.GetSession(ctx, sess.ID)
}

func (s *Service) UpdateSession(ctx context.Context, id string, patch SessionPatch) (*Session, error) {
	if patch.Empty() {
		return nil, ErrNoFieldsToUpdate
	}
	patch.Treatment = trimmed(patch.Treatment)
	if (patch.Treatment != nil && *patch.Treatment == "") || (patch.VisitDate != nil && *patch.VisitDate == "") {
		return nil, ErrInvalidInput
	}
	if err := checkDate(patch.VisitDate); err != nil {
		return nil, err
	}
	if err := s.checkImage(patch.ImageBefore); err != nil {
		return nil, err
	}
	if err := s.checkImage(patch.ImageAfter); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateSession(ctx, id, patch); err != nil {
		return nil, err
	}
	return s.repo.GetSession(ctx, id)
}

func (s *Service) DeleteSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}

// Appointments

func (s *Service) ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error) {
	if !s.cloud {
		return nil, ErrCloudOnly
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, ErrInvalidInput
	}
	return s.repo.ListAppointments(ctx, filter)
}

func (s *Service) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	if !s.cloud {
		return nil, ErrCloudOnly
	}
	return s.repo.GetAppointment(ctx, id)
}

// AppointmentResult carries the stored appointment and any overlapping
// appointments of the same staff member found while saving it. Overlaps are
// reported, not rejected.
type AppointmentResult struct {
	Appointment *Appointment
	Conflicts   []Appointment
}

// CreateAppointment books an appointment. When no staff member is given the
// booking is assigned to actorID.
func (s *Service) CreateAppointment(ctx context.Context, a Appointment, actorID string) (*AppointmentResult, error) {
	if !s.cloud {
		return nil, ErrCloudOnly
	}
	if a.DurationMinutes == 0 {
		a.DurationMinutes = DefaultDurationMinutes
	}
	if a.DurationMinutes < MinDurationMinutes || a.DurationMinutes > MaxDurationMinutes {
		return nil, ErrInvalidDuration
	}
	if a.StartsAt.IsZero() {
		return nil, ErrInvalidInput
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
	if !a.Status.Valid() {
		return nil, ErrInvalidInput
	}
	if a.StaffID == nil && actorID != "" {
		a.StaffID = &actorID
	}
	a.StartsAt = a.StartsAt.UTC()

	if _, err := s.repo.GetPatient(ctx, a.PatientID); err != nil {
		return nil, err
	}
	if a.StaffID != nil {
		if _, err := s.repo.FindStaff(ctx, *a.StaffID); err != nil {
			return nil, err
		}
	}

	var conflicts []Appointment
	err := s.withStaffLock(ctx, a.StaffID, func(ctx context.Context) error {
		var err error
		if conflicts, err = s.overlaps(ctx, &a, ""); err != nil {
			return err
		}
		return s.repo.CreateAppointment(ctx, &a)
	})
	if err != nil {
		return nil, err
	}

	created, err := s.repo.GetAppointment(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info("appointment created",
		zap.String("appointment_id", created.ID),
		zap.String("patient_id", created.PatientID),
		zap.Int("conflicts", len(conflicts)),
	)
	return &AppointmentResult{Appointment: created, Conflicts: conflicts}, nil
}

func (s *Service) UpdateAppointment(ctx context.Context, id string, patch AppointmentPatch) (*AppointmentResult, error) {
	if !s.cloud {
		return nil, ErrCloudOnly
	}
	if patch.Empty() {
		return nil, ErrNoFieldsToUpdate
	}
	if patch.DurationMinutes != nil && (*patch.DurationMinutes < MinDurationMinutes || *patch.DurationMinutes > MaxDurationMinutes) {
		return nil, ErrInvalidDuration
	}

	current, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Status != nil && *patch.Status != current.Status && !current.Status.CanTransition(*patch.Status) {
		return nil, ErrInvalidStatusTransition
	}
	if patch.StaffID != nil && *patch.StaffID != "" {
		if _, err := s.repo.FindStaff(ctx, *patch.StaffID); err != nil {
			return nil, err
		}
	}

	next := *current
	if patch.StaffID != nil {
		next.StaffID = patch.StaffID
		if *patch.StaffID == "" {
			next.StaffID = nil
		}
	}
	if patch.StartsAt != nil {
		t := patch.StartsAt.UTC()
		patch.StartsAt = &t
		next.StartsAt = t
	}
	if patch.DurationMinutes != nil {
		next.DurationMinutes = *patch.DurationMinutes
	}
	if patch.Status != nil {
		next.Status = *patch.Status
	}
	rescheduled := patch.StaffID != nil || patch.StartsAt != nil || patch.DurationMinutes != nil

	var conflicts []Appointment
	err = s.withStaffLock(ctx, next.StaffID, func(ctx context.Context) error {
		if rescheduled && !next.Status.Terminal() {
			var err error
			if conflicts, err = s.overlaps(ctx, &next, id); err != nil {
				return err
			}
		}
		return s.repo.UpdateAppointment(ctx, id, patch)
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	return &AppointmentResult{Appointment: updated, Conflicts: conflicts}, nil
}

func (s *Service) CompleteAppointment(ctx context.Context, id string) (*Appointment, error) {
	return s.transition(ctx, id, StatusCompleted)
}

func (s *Service) CancelAppointment(ctx context.Context, id string) (*Appointment, error) {
	return s.transition(ctx, id, StatusCancelled)
}

func (s *Service) transition(ctx context.Context, id string, to AppointmentStatus) (*Appointment, error) {
	if !s.cloud {
		return nil, ErrCloudOnly
	}
	current, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransition(to) {
		return nil, ErrInvalidStatusTransition
	}
	if err := s.repo.UpdateAppointment(ctx, id, AppointmentPatch{Status: &to}); err != nil {
		return nil, err
	}
	s.log.Info("appointment status changed",
		zap.String("appointment_id", id),
		zap.String("from", string(current.Status)),
		zap.String("to", string(to)),
	)
	return s.repo.GetAppointment(ctx, id)
}

func (s *Service) DeleteAppointment(ctx context.Context, id string) error {
	if !s.cloud {
		return ErrCloudOnly
	}
	return s.repo.DeleteAppointment(ctx, id)
}

func (s *Service) overlaps(ctx context.Context, a *Appointment, excludeID string) ([]Appointment, error) {
	if a.StaffID == nil || a.Status.Terminal() {
		return nil, nil
	}
	found, err := s.repo.FindOverlapping(ctx, *a.StaffID, a.StartsAt, a.DurationMinutes, excludeID)
	if err != nil {
		return nil, err
	}
	if len(found) > 0 {
		metrics.AppointmentConflictsTotal.Inc()
		ids := make([]string, 0, len(found))
		for _, c := range found {
			ids = append(ids, c.ID)
		}
		s.log.Warn("appointment overlaps existing bookings",
			zap.String("staff_id", *a.StaffID),
			zap.Time("starts_at", a.StartsAt),
			zap.Strings("conflicting_ids", ids),
		)
	}
	return found, nil
}

// withStaffLock serializes bookings for one staff member while the lock
// backend is reachable. Lock contention or outages degrade to an unlocked run.
func (s *Service) withStaffLock(ctx context.Context, staffID *string, fn func(ctx context.Context) error) error {
	if staffID == nil {
		return fn(ctx)
	}
	ran := false
	err := s.locker.WithStaffLock(ctx, *staffID, func(ctx context.Context) error {
		ran = true
		return fn(ctx)
	})
	if ran {
		return err
	}
	s.log.Warn("staff schedule lock unavailable, continuing", zap.String("staff_id", *staffID), zap.Error(err))
	return fn(ctx)
}

// Dashboard

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.repo.Stats(ctx, s.now(), s.cloud)
}

func (s *Service) RangeStats(ctx context.Context, from, to string) (*RangeStats, error) {
	if from == "" || to == "" {
		return nil, ErrInvalidDate
	}
	if err := checkDate(&from); err != nil {
		return nil, err
	}
	if err := checkDate(&to); err != nil {
		return nil, err
	}
	if from > to {
		return nil, ErrInvalidRange
	}
	return s.repo.RangeStats(ctx, from, to)
}

const (
	defaultActivityLimit = 10
	maxActivityLimit     = 100
)

// RecentActivity lists the latest recorded sessions across all patients.
func (s *Service) RecentActivity(ctx context.Context, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}
	return s.repo.RecentActivity(ctx, limit)
}
