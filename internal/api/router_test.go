package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DLMCQ/DermaClinic/internal/auth"
	"github.com/DLMCQ/DermaClinic/internal/clinic"
	"github.com/DLMCQ/DermaClinic/internal/db"
)

// cloudTables mirrors the networked schema for the embedded engine so the
// cloud-only routes can run without a server.
const cloudTables = `
CREATE TABLE users (
	id TEXT PRIMARY KEY, username TEXT NOT NULL UNIQUE, password_hash TEXT NOT NULL,
	display_name TEXT NOT NULL, role TEXT NOT NULL, is_active INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL, updated_at TEXT NOT NULL
);
CREATE TABLE refresh_tokens (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	token TEXT NOT NULL UNIQUE, expires_at TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE appointments (
	id TEXT PRIMARY KEY,
	patient_id TEXT NOT NULL REFERENCES patients(id) ON DELETE CASCADE,
	staff_id TEXT REFERENCES users(id) ON DELETE SET NULL,
	starts_at TEXT NOT NULL, duration_minutes INTEGER NOT NULL,
	planned_treatment TEXT, notes TEXT, status TEXT NOT NULL,
	reminder_sent INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL, updated_at TEXT NOT NULL
);`

type testServer struct {
	handler http.Handler
	tokens  *auth.TokenService
	admin   *auth.User
	doctor  *auth.User
}

func newAdapter(t *testing.T) *db.SQLiteAdapter {
	t.Helper()
	ctx := context.Background()
	adapter := db.NewSQLiteAdapter(filepath.Join(t.TempDir(), "clinic.db"), zap.NewNop())
	require.NoError(t, adapter.Connect(ctx))
	require.NoError(t, adapter.Migrate(ctx))
	t.Cleanup(func() { _ = adapter.Close(context.Background()) })
	return adapter
}

func newLocalServer(t *testing.T) *testServer {
	t.Helper()
	adapter := newAdapter(t)
	handler := NewRouter(RouterConfig{
		Env:     "test",
		Auth:    auth.NewLocalService(nil),
		Clinic:  clinic.NewService(clinic.NewSQLRepository(adapter), nil, false, nil),
		Storage: adapter,
		Verbose: true,
	})
	return &testServer{handler: handler}
}

func newCloudServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	adapter := newAdapter(t)
	require.NoError(t, adapter.Execute(ctx, cloudTables))

	tokens, err := auth.NewTokenService("access-secret", "refresh-secret", time.Minute, time.Hour)
	require.NoError(t, err)
	authSvc := auth.NewService(auth.NewSQLUserStore(adapter), auth.NewSQLRefreshTokenStore(adapter), tokens, nil)

	admin, _, err := authSvc.EnsureAdmin(ctx, "admin", "Admin1234", "Clinic Admin")
	require.NoError(t, err)
	adminID := admin.Identity()
	doctor, err := authSvc.CreateUser(ctx, &adminID, auth.NewUser{Username: "dra.lopez", Password: "Doctor123", Name: "Dra. López", Role: auth.RoleDoctor})
	require.NoError(t, err)

	handler := NewRouter(RouterConfig{
		Cloud:   true,
		Env:     "test",
		Auth:    authSvc,
		Clinic:  clinic.NewService(clinic.NewSQLRepository(adapter), nil, true, nil),
		Storage: adapter,
		Verbose: true,
	})
	return &testServer{handler: handler, tokens: tokens, admin: admin, doctor: doctor}
}

func (s *testServer) tokenFor(t *testing.T, u *auth.User) string {
	t.Helper()
	tok, err := s.tokens.IssueAccessToken(u.Identity())
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestLocalMode_NoHeaderIsBypassed(t *testing.T) {
	s := newLocalServer(t)

	rec := s.do(t, http.MethodGet, "/api/patients", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	me := s.do(t, http.MethodGet, "/api/auth/me", "", nil)
	require.Equal(t, http.StatusOK, me.Code)
	u := decode[UserResponse](t, me)
	assert.Equal(t, "local-user", u.ID)
	assert.Equal(t, "admin", u.Role)
}

func TestCloudMode_NoHeaderIsRejected(t *testing.T) {
	s := newCloudServer(t)

	rec := s.do(t, http.MethodGet, "/api/patients", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodGet, "/api/patients", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/patients", s.tokenFor(t, s.doctor), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCloudMode_RoleGate(t *testing.T) {
	s := newCloudServer(t)

	rec := s.do(t, http.MethodGet, "/api/users", s.tokenFor(t, s.doctor), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodGet, "/api/users", s.tokenFor(t, s.admin), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decode[[]UserResponse](t, rec)
	assert.Len(t, users, 2)

	// doctors may read themselves but not others
	rec = s.do(t, http.MethodGet, "/api/users/"+s.doctor.ID, s.tokenFor(t, s.doctor), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/users/"+s.admin.ID, s.tokenFor(t, s.doctor), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/users/"+s.admin.ID, s.tokenFor(t, s.admin), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "self_deactivation", decode[ErrorResponse](t, rec).Error)
}

func TestLocalMode_CloudOnlyRoutesAreHidden(t *testing.T) {
	s := newLocalServer(t)

	for _, path := range []string{"/api/appointments", "/api/users"} {
		rec := s.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
	rec := s.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "admin", Password: "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCloudMode_LoginRefreshLogout(t *testing.T) {
	s := newCloudServer(t)

	rec := s.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "nobody", Password: "Doctor123"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credentials", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "DRA.LOPEZ", Password: "Doctor123"})
	require.Equal(t, http.StatusOK, rec.Code)
	login := decode[LoginResponse](t, rec)
	assert.Equal(t, "doctor", login.User.Role)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = s.do(t, http.MethodGet, "/api/auth/me", login.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, s.doctor.ID, decode[UserResponse](t, rec).ID)

	rec = s.do(t, http.MethodPost, "/api/auth/refresh", "", RefreshRequest{RefreshToken: login.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[RefreshResponse](t, rec).AccessToken)

	// a second login replaces the first refresh token
	rec = s.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "dra.lopez", Password: "Doctor123"})
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[LoginResponse](t, rec)
	require.NotEqual(t, login.RefreshToken, second.RefreshToken)

	rec = s.do(t, http.MethodPost, "/api/auth/refresh", "", RefreshRequest{RefreshToken: login.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token_invalid", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/api/auth/refresh", "", RefreshRequest{RefreshToken: second.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/logout", "", RefreshRequest{RefreshToken: second.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/refresh", "", RefreshRequest{RefreshToken: second.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token_invalid", decode[ErrorResponse](t, rec).Error)
}

func TestPatientsAndSessionsOverHTTP(t *testing.T) {
	s := newLocalServer(t)

	rec := s.do(t, http.MethodPost, "/api/patients", "", PatientRequest{FullName: "A", NationalID: "123"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	verr := decode[struct {
		Error   string       `json:"error"`
		Details []FieldError `json:"details"`
	}](t, rec)
	assert.Equal(t, "validation_failed", verr.Error)
	assert.ElementsMatch(t, []string{"full_name", "national_id"}, []string{verr.Details[0].Field, verr.Details[1].Field})

	birth := "1985-03-12"
	rec = s.do(t, http.MethodPost, "/api/patients", "", PatientRequest{FullName: "Ana Pérez", NationalID: "20111222", BirthDate: &birth})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	patient := decode[PatientResponse](t, rec)
	assert.Equal(t, "1985-03-12", *patient.BirthDate)

	rec = s.do(t, http.MethodPost, "/api/patients", "", PatientRequest{FullName: "Otra Persona", NationalID: "20111222"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "national_id_taken", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/api/sessions", "", SessionRequest{PatientID: patient.ID, VisitDate: "2024-05-02", Treatment: "Peeling"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/patients/"+patient.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[PatientResponse](t, rec)
	require.Len(t, got.Sessions, 1)
	assert.Equal(t, "Peeling", got.Sessions[0].Treatment)

	rec = s.do(t, http.MethodGet, "/api/patients/"+patient.ID+"/sessions", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]SessionResponse](t, rec), 1)

	rec = s.do(t, http.MethodPatch, "/api/patients/"+patient.ID, "", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "no_fields_to_update", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPatch, "/api/patients/"+patient.ID, "", map[string]any{"unknown": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/patients/"+patient.ID, "", map[string]any{"phone": "11-5555-1234"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "11-5555-1234", *decode[PatientResponse](t, rec).Phone)

	rec = s.do(t, http.MethodGet, "/api/dashboard/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[StatsResponse](t, rec)
	assert.Equal(t, int64(1), stats.TotalPatients)
	assert.Equal(t, int64(1), stats.TotalSessions)

	rec = s.do(t, http.MethodDelete, "/api/patients/"+patient.ID, "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/patients/"+patient.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "patient_not_found", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodGet, "/api/sessions?patient_id="+patient.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestCloudMode_AppointmentsOverHTTP(t *testing.T) {
	s := newCloudServer(t)
	doctorTok := s.tokenFor(t, s.doctor)

	rec := s.do(t, http.MethodPost, "/api/patients", doctorTok, PatientRequest{FullName: "Ana Pérez", NationalID: "20111222"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	patient := decode[PatientResponse](t, rec)

	start := time.Date(2030, 3, 4, 10, 0, 0, 0, time.UTC)
	rec = s.do(t, http.MethodPost, "/api/appointments", doctorTok, AppointmentRequest{PatientID: patient.ID, StartsAt: start})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[AppointmentWriteResponse](t, rec)
	assert.Equal(t, "pending", first.Appointment.Status)
	assert.Equal(t, 60, first.Appointment.DurationMinutes)
	assert.Equal(t, s.doctor.ID, *first.Appointment.StaffID)
	assert.Empty(t, first.Conflicts)

	rec = s.do(t, http.MethodPost, "/api/appointments", doctorTok, AppointmentRequest{PatientID: patient.ID, StartsAt: start.Add(30 * time.Minute), DurationMinutes: 30})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	second := decode[AppointmentWriteResponse](t, rec)
	require.Len(t, second.Conflicts, 1)
	assert.Equal(t, first.Appointment.ID, second.Conflicts[0].ID)

	rec = s.do(t, http.MethodPost, "/api/appointments", doctorTok, AppointmentRequest{PatientID: patient.ID, StartsAt: start, DurationMinutes: 5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPatch, "/api/appointments/"+first.Appointment.ID+"/complete", doctorTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPatch, "/api/appointments/"+first.Appointment.ID+"/cancel", doctorTok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodGet, "/api/appointments?status=pending&from=2030-03-04", doctorTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]AppointmentResponse](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, second.Appointment.ID, list[0].ID)
	assert.Equal(t, "Ana Pérez", list[0].PatientName)

	rec = s.do(t, http.MethodGet, "/api/appointments?from=yesterday", doctorTok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/appointments/"+second.Appointment.ID, doctorTok, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// the completed visit is still in the future and counts as upcoming
	rec = s.do(t, http.MethodGet, "/api/dashboard/stats", doctorTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decode[StatsResponse](t, rec).UpcomingAppointments)
}

func TestHealthEndpoints(t *testing.T) {
	s := newLocalServer(t)

	rec := s.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[StatusResponse](t, rec)
	assert.Equal(t, "local", status.Mode)
	assert.Equal(t, "sqlite", status.Database)

	rec = s.do(t, http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "ok", ready.Dependencies["sqlite"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dermaclinic_http_requests_total")
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return db.ErrClosed }

func TestReadiness_StorageDown(t *testing.T) {
	h := NewHealthHandler(downPinger{}, nil, "cloud", "test", "v1")
	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "down", decode[ReadinessResponse](t, rec).Dependencies["postgres"])
}
