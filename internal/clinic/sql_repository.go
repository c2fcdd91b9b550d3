package clinic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DLMCQ/DermaClinic/internal/db"
)

// SQLRepository implements Repository over either storage backend.
type SQLRepository struct {
	db db.Adapter
	d  db.Dialect
	// now is stamped into created_at/updated_at; the embedded schema has no defaults.
	now func() time.Time
}

func NewSQLRepository(adapter db.Adapter) *SQLRepository {
	return &SQLRepository{db: adapter, d: adapter.Dialect(), now: time.Now}
}

const patientColumns = `p.id, p.full_name, p.national_id, p.birth_date, p.phone, p.email, p.address,
	p.insurance_provider, p.insurance_number, p.consultation_reason, p.photo, p.created_at, p.updated_at`

const sessionColumns = `s.id, s.patient_id, s.visit_date, s.treatment, s.products, s.notes,
	s.image_before, s.image_after, s.created_at, s.updated_at`

const appointmentSelect = `SELECT a.id, a.patient_id, a.staff_id, a.starts_at, a.duration_minutes,
	a.planned_treatment, a.notes, a.status, a.reminder_sent, a.created_at, a.updated_at,
	p.full_name AS patient_name, p.phone AS patient_phone, u.display_name AS staff_name
FROM appointments a
JOIN patients p ON p.id = a.patient_id
LEFT JOIN users u ON u.id = a.staff_id`

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// nullable maps "" to NULL so optional columns can be cleared.
func nullable(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func scanPatient(row db.Row) Patient {
	return Patient{
		ID:                 row.String("id"),
		FullName:           row.String("full_name"),
		NationalID:         row.String("national_id"),
		BirthDate:          row.Date("birth_date"),
		Phone:              row.StringPtr("phone"),
		Email:              row.StringPtr("email"),
		Address:            row.StringPtr("address"),
		InsuranceProvider:  row.StringPtr("insurance_provider"),
		InsuranceNumber:    row.StringPtr("insurance_number"),
		ConsultationReason: row.StringPtr("consultation_reason"),
		Photo:              row.StringPtr("photo"),
		CreatedAt:          row.Time("created_at"),
		UpdatedAt:          row.Time("updated_at"),
		SessionCount:       row.Int("session_count"),
	}
}

func scanSession(row db.Row) Session {
	s := Session{
		ID:          row.String("id"),
		PatientID:   row.String("patient_id"),
		Treatment:   row.String("treatment"),
		Products:    row.StringPtr("products"),
		Notes:       row.StringPtr("notes"),
		ImageBefore: row.StringPtr("image_before"),
		ImageAfter:  row.StringPtr("image_after"),
		CreatedAt:   row.Time("created_at"),
		UpdatedAt:   row.Time("updated_at"),
	}
	if d := row.Date("visit_date"); d != nil {
		s.VisitDate = *d
	}
	return s
}

func scanAppointment(row db.Row) Appointment {
	return Appointment{
		ID:               row.String("id"),
		PatientID:        row.String("patient_id"),
		StaffID:          row.StringPtr("staff_id"),
		StartsAt:         row.Time("starts_at"),
		DurationMinutes:  int(row.Int("duration_minutes")),
		PlannedTreatment: row.StringPtr("planned_treatment"),
		Notes:            row.StringPtr("notes"),
		Status:           AppointmentStatus(row.String("status")),
		ReminderSent:     row.Bool("reminder_sent"),
		CreatedAt:        row.Time("created_at"),
		UpdatedAt:        row.Time("updated_at"),
		PatientName:      row.String("patient_name"),
		PatientPhone:     row.StringPtr("patient_phone"),
		StaffName:        row.StringPtr("staff_name"),
	}
}

// Patients

func (r *SQLRepository) ListPatients(ctx context.Context, filter PatientFilter) ([]Patient, error) {
	args := db.NewArgs(r.d)
	q := `SELECT ` + patientColumns + `,
	(SELECT COUNT(*) FROM sessions s WHERE s.patient_id = p.id) AS session_count
FROM patients p`
	if term := strings.TrimSpace(filter.Query); term != "" {
		pattern := db.ContainsPattern(term)
		q += fmt.Sprintf(" WHERE (%s OR %s)",
			r.d.ContainsFold("p.full_name", args.Add(pattern)), r.d.ContainsFold("p.national_id", args.Add(pattern)))
	}
	q += " ORDER BY p.full_name ASC"

	rows, err := r.db.Query(ctx, q, args.Values()...)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	out := make([]Patient, 0, len(rows))
	for _, row := range rows {
		out = append(out, scanPatient(row))
	}
	return out, nil
}

func (r *SQLRepository) GetPatient(ctx context.Context, id string) (*Patient, error) {
	if !validID(id) {
		return nil, ErrPatientNotFound
	}
	args := db.NewArgs(r.d)
	row, err := r.db.QueryOne(ctx, `SELECT `+patientColumns+` FROM patients p WHERE p.id = `+args.Add(id), args.Values()...)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("get patient: %w", err)
	}
	p := scanPatient(row)

	sessions, err := r.ListSessions(ctx, SessionFilter{PatientID: id})
	if err != nil {
		return nil, err
	}
	p.Sessions = sessions
	p.SessionCount = int64(len(sessions))
	return &p, nil
}

func (r *SQLRepository) FindPatientByNationalID(ctx context.Context, nationalID string) (*Patient, error) {
	args := db.NewArgs(r.d)
	row, err := r.db.QueryOne(ctx, `SELECT `+patientColumns+` FROM patients p WHERE p.national_id = `+args.Add(nationalID), args.Values()...)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("find patient by national id: %w", err)
	}
	p := scanPatient(row)
	return &p, nil
}

func (r *SQLRepository) CreatePatient(ctx context.Context, p *Patient) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := r.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	args := db.NewArgs(r.d)
	q := fmt.Sprintf(`INSERT INTO patients (id, full_name, national_id, birth_date, phone, email, address,
	insurance_provider, insurance_number, consultation_reason, photo, created_at, updated_at)
VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		args.Add(p.ID), args.Add(p.FullName), args.Add(p.NationalID), args.Add(nullable(p.BirthDate)),
		args.Add(nullable(p.Phone)), args.Add(nullable(p.Email)), args.Add(nullable(p.Address)),
		args.Add(nullable(p.InsuranceProvider)), args.Add(nullable(p.InsuranceNumber)),
		args.Add(nullable(p.ConsultationReason)), args.Add(nullable(p.Photo)),
		args.Add(r.d.Time(now)), args.Add(r.d.Time(now)))

	if err := r.db.Execute(ctx, q, args.Values()...); err != nil {
		if errors.Is(err, db.ErrUniqueViolation) {
			return ErrNationalIDTaken
		}
		return fmt.Errorf("create patient: %w", err)
	}
	return nil
}

// setList builds "col = $n" assignments for an UPDATE.
type setList struct {
	args  *db.Args
	parts []string
}

func (s *setList) set(col string, v any) {
	s.parts = append(s.parts, col+" = "+s.args.Add(v))
}

func (s *setList) text(col string, v *string) {
	if v != nil {
		s.set(col, nullable(v))
	}
}

// update applies the assignments to table row id inside a transaction, so a
// missing row is reported as notFound.
func (r *SQLRepository) update(ctx context.Context, table, id string, sets *setList, notFound error) error {
	if !validID(id) {
		return notFound
	}
	sets.set("updated_at", r.d.Time(r.now().UTC()))

	return r.db.Transaction(ctx, func(ctx context.Context, tx db.Executor) error {
		check := db.NewArgs(r.d)
		if _, err := tx.QueryOne(ctx, "SELECT id FROM "+table+" WHERE id = "+check.Add(id), check.Values()...); err != nil {
			if errors.Is(err, db.ErrNoRows) {
				return notFound
			}
			return err
		}
		q := "UPDATE " + table + " SET " + strings.Join(sets.parts, ", ") + " WHERE id = " + sets.args.Add(id)
		return tx.Execute(ctx, q, sets.args.Values()...)
	})
}

func (r *SQLRepository) UpdatePatient(ctx context.Context, id string, patch PatientPatch) error {
	sets := &setList{args: db.NewArgs(r.d)}
	if patch.FullName != nil {
		sets.set("full_name", *patch.FullName)
	}
	if patch.NationalID != nil {
		sets.set("national_id", *patch.NationalID)
	}
	sets.text("birth_date", patch.BirthDate)
	sets.text("phone", patch.Phone)
	sets.text("email", patch.Email)
	sets.text("address", patch.Address)
	sets.text("insurance_provider", patch.InsuranceProvider)
	sets.text("insurance_number", patch.InsuranceNumber)
	sets.text("consultation_reason", patch.ConsultationReason)
	sets.text("photo", patch.Photo)

	err := r.update(ctx, "patients", id, sets, ErrPatientNotFound)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPatientNotFound):
		return err
	case errors.Is(err, db.ErrUniqueViolation):
		return ErrNationalIDTaken
	default:
		return fmt.Errorf("update patient: %w", err)
	}
}

func (r *SQLRepository) DeletePatient(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrPatientNotFound
	}
	err := r.db.Transaction(ctx, func(ctx context.Context, tx db.Executor) error {
		args := db.NewArgs(r.d)
		if _, err := tx.QueryOne(ctx, "SELECT id FROM patients WHERE id = "+args.Add(id), args.Values()...); err != nil {
			if errors.Is(err, db.ErrNoRows) {
				return ErrPatientNotFound
			}
			return err
		}
		if err := tx.Execute(ctx, "DELETE FROM sessions WHERE patient_id = "+r.d.Placeholder(1), id); err != nil {
			return err
		}
		return tx.Execute(ctx, "DELETE FROM patients WHERE id = "+r.d.Placeholder(1), id)
	})
	if err != nil && !errors.Is(err, ErrPatientNotFound) {
		return fmt.Errorf("delete patient: %w", err)
	}
	return err
}

// Sessions

func (r *SQLRepository) ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error) {
	args := db.NewArgs(r.d)
	var where []string
	if filter.PatientID != "" {
		if !validID(filter.PatientID) {
			return []Session{}, nil
		}
		where = append(where, "s.patient_id = "+args.Add(filter.PatientID))
	}
	if filter.From != "" {
		where = append(where, "s.visit_date >= "+args.Add(filter.From))
	}
	if filter.To != "" {
		where = append(where, "s.visit_date <= "+args.Add(filter.To))
	}

	q := "SELECT " + sessionColumns + " FROM sessions s"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY s.visit_date DESC, s.created_at DESC"

	rows, err := r.db.Query(ctx, q, args.Values()...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]Session, 0, len(rows))
	for _, row := range rows {
		out = append(out, scanSession(row))
	}
	return out, nil
}

func (r *SQLRepository) GetSession(ctx context.Context, id string) (*Session, error) {
	if !validID(id) {
		return nil, ErrSessionNotFound
	}
	row, err := r.db.QueryOne(ctx, "SELECT "+sessionColumns+" FROM sessions s WHERE s.id = "+r.d.Placeholder(1), id)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	s := scanSession(row)
	return &s, nil
}

func (r *SQLRepository) CreateSession(ctx context.Context, s *Session) error {
	if !validID(s.PatientID) {
		return ErrPatientNotFound
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := r.now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now

	args := db.NewArgs(r.d)
	q := fmt.Sprintf(`INSERT INTO sessions (id, patient_id, visit_date, treatment, products, notes,
	image_before, image_after, created_at, updated_at)
VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		args.Add(s.ID), args.Add(s.PatientID), args.Add(s.VisitDate), args.Add(s.Treatment),
		args.Add(nullable(s.Products)), args.Add(nullable(s.Notes)),
		args.Add(nullable(s.ImageBefore)), args.Add(nullable(s.ImageAfter)),
		args.Add(r.d.Time(now)), args.Add(r.d.Time(now)))

	if err := r.db.Execute(ctx, q, args.Values()...); err != nil {
		if errors.Is(err, db.ErrForeignKeyViolation) {
			return ErrPatientNotFound
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *SQLRepository) UpdateSession(ctx context.Context, id string, patch SessionPatch) error {
	sets := &setList{args: db.NewArgs(r.d)}
	if patch.VisitDate != nil {
		sets.set("visit_date", *patch.VisitDate)
	}
	if patch.Treatment != nil {
		sets.set("treatment", *patch.Treatment)
	}
	sets.text("products", patch.Products)
	sets.text("notes", patch.Notes)
	sets.text("image_before", patch.ImageBefore)
	sets.text("image_after", patch.ImageAfter)

	err := r.update(ctx, "sessions", id, sets, ErrSessionNotFound)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return fmt.Errorf("update session: %w", err)
	}
	return err
}

func (r *SQLRepository) DeleteSession(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "sessions", id, ErrSessionNotFound)
}

func (r *SQLRepository) deleteByID(ctx context.Context, table, id string, notFound error) error {
	if !validID(id) {
		return notFound
	}
	err := r.db.Transaction(ctx, func(ctx context.Context, tx db.Executor) error {
		if _, err := tx.QueryOne(ctx, "SELECT id FROM "+table+" WHERE id = "+r.d.Placeholder(1), id); err != nil {
			if errors.Is(err, db.ErrNoRows) {
				return notFound
			}
			return err
		}
		return tx.Execute(ctx, "DELETE FROM "+table+" WHERE id = "+r.d.Placeholder(1), id)
	})
	if err != nil && !errors.Is(err, notFound) {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return err
}

// Appointments

func (r *SQLRepository) ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error) {
	args := db.NewArgs(r.d)
	var where []string
	if filter.From != nil {
		where = append(where, "a.starts_at >= "+args.Add(r.d.Time(*filter.From)))
	}
	if filter.To != nil {
		where = append(where, "a.starts_at <= "+args.Add(r.d.Time(*filter.To)))
	}
	if filter.PatientID != "" {
		if !validID(filter.PatientID) {
			return []Appointment{}, nil
		}
		where = append(where, "a.patient_id = "+args.Add(filter.PatientID))
	}
	if filter.StaffID != "" {
		if !validID(filter.StaffID) {
			return []Appointment{}, nil
		}
		where = append(where, "a.staff_id = "+args.Add(filter.StaffID))
	}
	if filter.Status != "" {
		where = append(where, "a.status = "+args.Add(string(filter.Status)))
	}

	q := appointmentSelect
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY a.starts_at ASC"

	rows, err := r.db.Query(ctx, q, args.Values()...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	out := make([]Appointment, 0, len(rows))
	for _, row := range rows {
		out = append(out, scanAppointment(row))
	}
	return out, nil
}

func (r *SQLRepository) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	if !validID(id) {
		return nil, ErrAppointmentNotFound
	}
	row, err := r.db.QueryOne(ctx, appointmentSelect+" WHERE a.id = "+r.d.Placeholder(1), id)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	a := scanAppointment(row)
	return &a, nil
}

func (r *SQLRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := r.now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	var staff any
	if a.StaffID != nil {
		staff = *a.StaffID
	}

	args := db.NewArgs(r.d)
	q := fmt.Sprintf(`INSERT INTO appointments (id, patient_id, staff_id, starts_at, duration_minutes,
	planned_treatment, notes, status, reminder_sent, created_at, updated_at)
VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		args.Add(a.ID), args.Add(a.PatientID), args.Add(staff), args.Add(r.d.Time(a.StartsAt)),
		args.Add(a.DurationMinutes), args.Add(nullable(a.PlannedTreatment)), args.Add(nullable(a.Notes)),
		args.Add(string(a.Status)), args.Add(r.d.Bool(a.ReminderSent)),
		args.Add(r.d.Time(now)), args.Add(r.d.Time(now)))

	if err := r.db.Execute(ctx, q, args.Values()...); err != nil {
		if errors.Is(err, db.ErrForeignKeyViolation) {
			return ErrPatientNotFound
		}
		return fmt.Errorf("create appointment: %w", err)
	}
	return nil
}

func (r *SQLRepository) UpdateAppointment(ctx context.Context, id string, patch AppointmentPatch) error {
	sets := &setList{args: db.NewArgs(r.d)}
	if patch.StaffID != nil {
		sets.set("staff_id", nullable(patch.StaffID))
	}
	if patch.StartsAt != nil {
		sets.set("starts_at", r.d.Time(*patch.StartsAt))
	}
	if patch.DurationMinutes != nil {
		sets.set("duration_minutes", *patch.DurationMinutes)
	}
	sets.text("planned_treatment", patch.PlannedTreatment)
	sets.text("notes", patch.Notes)
	if patch.Status != nil {
		sets.set("status", string(*patch.Status))
	}
	if patch.ReminderSent != nil {
		sets.set("reminder_sent", r.d.Bool(*patch.ReminderSent))
	}

	err := r.update(ctx, "appointments", id, sets, ErrAppointmentNotFound)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAppointmentNotFound):
		return err
	case errors.Is(err, db.ErrForeignKeyViolation):
		return ErrStaffNotFound
	default:
		return fmt.Errorf("update appointment: %w", err)
	}
}

func (r *SQLRepository) DeleteAppointment(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "appointments", id, ErrAppointmentNotFound)
}

func (r *SQLRepository) FindOverlapping(ctx context.Context, staffID string, start time.Time, minutes int, excludeID string) ([]Appointment, error) {
	if !validID(staffID) {
		return nil, nil
	}
	end := start.Add(time.Duration(minutes) * time.Minute)
	// no appointment is longer than MaxDurationMinutes, which bounds how
	// early an overlapping one can start
	earliest := start.Add(-MaxDurationMinutes * time.Minute)

	args := db.NewArgs(r.d)
	where := []string{
		"a.staff_id = " + args.Add(staffID),
		fmt.Sprintf("a.status IN (%s, %s)", args.Add(string(StatusPending)), args.Add(string(StatusConfirmed))),
		"a.starts_at > " + args.Add(r.d.Time(earliest)),
		"a.starts_at < " + args.Add(r.d.Time(end)),
	}
	if excludeID != "" && validID(excludeID) {
		where = append(where, "a.id <> "+args.Add(excludeID))
	}

	rows, err := r.db.Query(ctx, appointmentSelect+" WHERE "+strings.Join(where, " AND ")+" ORDER BY a.starts_at ASC", args.Values()...)
	if err != nil {
		return nil, fmt.Errorf("find overlapping appointments: %w", err)
	}
	var out []Appointment
	for _, row := range rows {
		a := scanAppointment(row)
		if a.Overlaps(start, minutes) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *SQLRepository) FindStaff(ctx context.Context, id string) (*Staff, error) {
	if !validID(id) {
		return nil, ErrStaffNotFound
	}
	args := db.NewArgs(r.d)
	q := fmt.Sprintf(`SELECT id, display_name, role FROM users
WHERE id = %s AND is_active = %s AND role IN ('doctor', 'admin')`, args.Add(id), args.Add(r.d.Bool(true)))
	row, err := r.db.QueryOne(ctx, q, args.Values()...)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, ErrStaffNotFound
		}
		return nil, fmt.Errorf("find staff: %w", err)
	}
	return &Staff{ID: row.String("id"), Name: row.String("display_name"), Role: row.String("role")}, nil
}

// Stats

func monthStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
}

func (r *SQLRepository) Stats(ctx context.Context, now time.Time, withAppointments bool) (*Stats, error) {
	start := monthStart(now)
	st := &Stats{TopTreatments: []TreatmentCount{}, RecentPatients: []Patient{}}

	counts := []struct {
		dst  *int64
		q    string
		args []any
	}{
		{&st.TotalPatients, "SELECT COUNT(*) AS n FROM patients", nil},
		{&st.TotalSessions, "SELECT COUNT(*) AS n FROM sessions", nil},
		{&st.NewPatientsThisMonth, "SELECT COUNT(*) AS n FROM patients WHERE created_at >= " + r.d.Placeholder(1), []any{r.d.Time(start)}},
		{&st.SessionsThisMonth, "SELECT COUNT(*) AS n FROM sessions WHERE created_at >= " + r.d.Placeholder(1), []any{r.d.Time(start)}},
	}
	if withAppointments {
		counts = append(counts, struct {
			dst  *int64
			q    string
			args []any
		}{&st.UpcomingAppointments,
			fmt.Sprintf("SELECT COUNT(*) AS n FROM appointments WHERE starts_at > %s AND status <> %s", r.d.Placeholder(1), r.d.Placeholder(2)),
			[]any{r.d.Time(now), string(StatusCancelled)}})
	}
	for _, c := range counts {
		row, err := r.db.QueryOne(ctx, c.q, c.args...)
		if err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
		*c.dst = row.Int("n")
	}

	top, err := r.treatmentCounts(ctx, "", "", 5)
	if err != nil {
		return nil, err
	}
	st.TopTreatments = top

	rows, err := r.db.Query(ctx, "SELECT "+patientColumns+" FROM patients p ORDER BY p.created_at DESC LIMIT 5")
	if err != nil {
		return nil, fmt.Errorf("stats recent patients: %w", err)
	}
	for _, row := range rows {
		st.RecentPatients = append(st.RecentPatients, scanPatient(row))
	}
	return st, nil
}

func (r *SQLRepository) treatmentCounts(ctx context.Context, from, to string, limit int) ([]TreatmentCount, error) {
	args := db.NewArgs(r.d)
	var where []string
	if from != "" {
		where = append(where, "visit_date >= "+args.Add(from))
	}
	if to != "" {
		where = append(where, "visit_date <= "+args.Add(to))
	}
	q := "SELECT treatment, COUNT(*) AS n FROM sessions"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " GROUP BY treatment ORDER BY n DESC, treatment ASC"
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := r.db.Query(ctx, q, args.Values()...)
	if err != nil {
		return nil, fmt.Errorf("treatment counts: %w", err)
	}
	out := make([]TreatmentCount, 0, len(rows))
	for _, row := range rows {
		out = append(out, TreatmentCount{Treatment: row.String("treatment"), Count: row.Int("n")})
	}
	return out, nil
}

func (r *SQLRepository) RangeStats(ctx context.Context, from, to string) (*RangeStats, error) {
	fromT, err := time.Parse(DateLayout, from)
	if err != nil {
		return nil, ErrInvalidDate
	}
	toT, err := time.Parse(DateLayout, to)
	if err != nil {
		return nil, ErrInvalidDate
	}

	args := db.NewArgs(r.d)
	sessions, err := r.db.QueryOne(ctx, fmt.Sprintf(`SELECT COUNT(*) AS n FROM sessions WHERE visit_date >= %s AND visit_date <= %s`,
		args.Add(from), args.Add(to)), args.Values()...)
	if err != nil {
		return nil, fmt.Errorf("range stats sessions: %w", err)
	}

	// patients registered on any day of the range
	args = db.NewArgs(r.d)
	patients, err := r.db.QueryOne(ctx, fmt.Sprintf(`SELECT COUNT(*) AS n FROM patients WHERE created_at >= %s AND created_at < %s`,
		args.Add(r.d.Time(fromT)), args.Add(r.d.Time(toT.AddDate(0, 0, 1)))), args.Values()...)
	if err != nil {
		return nil, fmt.Errorf("range stats patients: %w", err)
	}

	treatments, err := r.treatmentCounts(ctx, from, to, 0)
	if err != nil {
		return nil, err
	}
	return &RangeStats{
		From:              from,
		To:                to,
		SessionsInRange:   sessions.Int("n"),
		PatientsInRange:   patients.Int("n"),
		TreatmentsInRange: treatments,
	}, nil
}

func (r *SQLRepository) RecentActivity(ctx context.Context, limit int) ([]Activity, error) {
	q := fmt.Sprintf(`SELECT s.id, s.visit_date, s.treatment, s.created_at, p.id AS patient_id, p.full_name AS patient_name
FROM sessions s
JOIN patients p ON p.id = s.patient_id
ORDER BY s.created_at DESC
LIMIT %s`, r.d.Placeholder(1))
	rows, err := r.db.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	out := make([]Activity, 0, len(rows))
	for _, row := range rows {
		a := Activity{
			SessionID:   row.String("id"),
			Treatment:   row.String("treatment"),
			CreatedAt:   row.Time("created_at"),
			PatientID:   row.String("patient_id"),
			PatientName: row.String("patient_name"),
		}
		if d := row.Date("visit_date"); d != nil {
			a.VisitDate = *d
		}
		out = append(out, a)
	}
	return out, nil
}
