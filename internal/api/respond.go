package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/DLMCQ/DermaClinic/internal/auth"
	"github.com/DLMCQ/DermaClinic/internal/clinic"
	"github.com/DLMCQ/DermaClinic/internal/db"
)

const maxBodyBytes = 12 << 20 // inline images in local mode

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

var errEmptyBody = errors.New("request body is empty")

// decodeJSON reads the body into dst. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

// errorMapper turns service errors into HTTP responses. Internal detail is
// only echoed outside production.
type errorMapper struct {
	log     *zap.Logger
	verbose bool
}

type mapped struct {
	status int
	code   string
}

func classify(err error) (mapped, bool) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return mapped{http.StatusUnauthorized, "invalid_credentials"}, true
	case errors.Is(err, auth.ErrTokenExpired):
		return mapped{http.StatusUnauthorized, "token_expired"}, true
	case errors.Is(err, auth.ErrTokenInvalid):
		return mapped{http.StatusUnauthorized, "token_invalid"}, true
	case errors.Is(err, auth.ErrAccountDisabled):
		return mapped{http.StatusUnauthorized, "account_disabled"}, true
	case errors.Is(err, auth.ErrUnauthenticated):
		return mapped{http.StatusUnauthorized, "unauthenticated"}, true
	case errors.Is(err, auth.ErrForbidden):
		return mapped{http.StatusForbidden, "forbidden"}, true
	case errors.Is(err, auth.ErrSelfDeactivation):
		return mapped{http.StatusBadRequest, "self_deactivation"}, true
	case errors.Is(err, auth.ErrWeakPassword):
		return mapped{http.StatusBadRequest, "weak_password"}, true
	case errors.Is(err, auth.ErrUsernameTaken):
		return mapped{http.StatusConflict, "username_taken"}, true
	case errors.Is(err, auth.ErrUserNotFound):
		return mapped{http.StatusNotFound, "user_not_found"}, true
	case errors.Is(err, auth.ErrLocalMode), errors.Is(err, clinic.ErrCloudOnly):
		return mapped{http.StatusNotFound, "not_available_in_local_mode"}, true
	case errors.Is(err, clinic.ErrPatientNotFound):
		return mapped{http.StatusNotFound, "patient_not_found"}, true
	case errors.Is(err, clinic.ErrSessionNotFound):
		return mapped{http.StatusNotFound, "session_not_found"}, true
	case errors.Is(err, clinic.ErrAppointmentNotFound):
		return mapped{http.StatusNotFound, "appointment_not_found"}, true
	case errors.Is(err, clinic.ErrStaffNotFound):
		return mapped{http.StatusNotFound, "doctor_not_found"}, true
	case errors.Is(err, clinic.ErrNotFound):
		return mapped{http.StatusNotFound, "not_found"}, true
	case errors.Is(err, clinic.ErrNationalIDTaken):
		return mapped{http.StatusConflict, "national_id_taken"}, true
	case errors.Is(err, clinic.ErrInvalidStatusTransition):
		return mapped{http.StatusConflict, "invalid_status_transition"}, true
	case errors.Is(err, clinic.ErrNoFieldsToUpdate):
		return mapped{http.StatusBadRequest, "no_fields_to_update"}, true
	case errors.Is(err, clinic.ErrInvalidImage):
		return mapped{http.StatusBadRequest, "invalid_image"}, true
	case errors.Is(err, clinic.ErrInvalidDuration),
		errors.Is(err, clinic.ErrInvalidDate),
		errors.Is(err, clinic.ErrInvalidRange),
		errors.Is(err, clinic.ErrInvalidInput):
		return mapped{http.StatusBadRequest, "validation_failed"}, true
	case errors.Is(err, db.ErrUniqueViolation):
		return mapped{http.StatusConflict, "conflict"}, true
	case errors.Is(err, db.ErrForeignKeyViolation):
		return mapped{http.StatusBadRequest, "invalid_reference"}, true
	case errors.Is(err, db.ErrNotSaved):
		return mapped{http.StatusServiceUnavailable, "storage_write_failed"}, false
	case errors.Is(err, db.ErrNotInitialized):
		return mapped{http.StatusInternalServerError, "storage_not_initialized"}, false
	}
	return mapped{http.StatusInternalServerError, "internal_error"}, false
}

func (m errorMapper) write(w http.ResponseWriter, r *http.Request, err error) {
	c, known := classify(err)
	if known {
		writeError(w, c.status, c.code, err.Error())
		return
	}
	m.log.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", GetRequestID(r.Context())),
		zap.Error(err),
	)
	msg := "internal server error"
	if m.verbose {
		msg = err.Error()
	}
	writeError(w, c.status, c.code, msg)
}
