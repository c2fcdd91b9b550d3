package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/DLMCQ/DermaClinic/internal/metrics"
)

// Guard derives the request identity and enforces roles. The token-verifying
// and local bypass implementations are interchangeable behind it.
type Guard interface {
	// Required rejects requests without a valid access token.
	Required(next http.Handler) http.Handler
	// Optional attaches the identity when a valid token is present and
	// otherwise continues anonymously.
	Optional(next http.Handler) http.Handler
	// RequireRole rejects identities whose role is not listed.
	RequireRole(roles ...Role) func(http.Handler) http.Handler
}

var (
	_ Guard = (*TokenGuard)(nil)
	_ Guard = BypassGuard{}
)

// ErrorResponder writes an auth failure. err wraps ErrUnauthenticated or ErrForbidden.
type ErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

type TokenGuard struct {
	tokens  *TokenService
	respond ErrorResponder
	log     *zap.Logger
}

func NewTokenGuard(tokens *TokenService, respond ErrorResponder, log *zap.Logger) *TokenGuard {
	if respond == nil {
		respond = writeAuthError
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TokenGuard{tokens: tokens, respond: respond, log: log}
}

type authFailure struct {
	reason string
	err    error
}

func (e *authFailure) Error() string { return e.err.Error() }
func (e *authFailure) Unwrap() []error {
	return []error{ErrUnauthenticated, e.err}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (g *TokenGuard) identify(r *http.Request) (*Identity, error) {
	token, ok := bearerToken(r)
	if !ok {
		return nil, &authFailure{reason: "missing_token", err: errors.New("missing or malformed bearer token")}
	}
	id, err := g.tokens.VerifyAccessToken(token)
	if err != nil {
		reason := "token_invalid"
		if errors.Is(err, ErrTokenExpired) {
			reason = "token_expired"
		}
		return nil, &authFailure{reason: reason, err: err}
	}
	return id, nil
}

func (g *TokenGuard) Required(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := g.identify(r)
		if err != nil {
			var f *authFailure
			if errors.As(err, &f) {
				metrics.AuthFailuresTotal.WithLabelValues(f.reason).Inc()
			}
			g.log.Debug("request rejected", zap.String("path", r.URL.Path), zap.Error(err))
			g.respond(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (g *TokenGuard) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := g.identify(r)
		if err != nil {
			id = nil
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (g *TokenGuard) RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				metrics.AuthFailuresTotal.WithLabelValues("missing_identity").Inc()
				g.respond(w, r, ErrUnauthenticated)
				return
			}
			if !id.HasRole(roles...) {
				metrics.AuthFailuresTotal.WithLabelValues("forbidden").Inc()
				g.log.Info("role check failed",
					zap.String("user_id", id.UserID),
					zap.String("role", string(id.Role)),
					zap.String("path", r.URL.Path),
				)
				g.respond(w, r, ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BypassGuard is used in local mode: every check passes and no identity is attached.
type BypassGuard struct{}

func (BypassGuard) Required(next http.Handler) http.Handler { return next }
func (BypassGuard) Optional(next http.Handler) http.Handler { return next }
func (BypassGuard) RequireRole(...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}

func writeAuthError(w http.ResponseWriter, _ *http.Request, err error) {
	status, code := http.StatusUnauthorized, "unauthenticated"
	if errors.Is(err, ErrForbidden) {
		status, code = http.StatusForbidden, "forbidden"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": err.Error()})
}
