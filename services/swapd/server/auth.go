package server

import (
	"context"
	"crypto/subtle"
	"crypto/x509"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"fixedswap/observability/logging"
)

const (
	methodBearer = "bearer"
	methodMTLS   = "mtls"
)

// AuthConfig configures operator authentication for the /ops endpoints.
// When OperatorSubjects is non-empty only client certificates whose common
// name is listed are accepted.
type AuthConfig struct {
	BearerToken      string
	AllowMTLS        bool
	OperatorSubjects []string
}

// Authenticator admits custody operators by shared bearer token or by client
// certificate.
type Authenticator struct {
	bearerToken []byte
	allowMTLS   bool
	subjects    map[string]struct{}
}

// Principal describes an authenticated operator.
type Principal struct {
	Method  string
	Subject string
}

type principalContextKey struct{}

// PrincipalFromContext extracts the authenticated operator from ctx.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	if ctx == nil {
		return nil, false
	}
	principal, ok := ctx.Value(principalContextKey{}).(*Principal)
	return principal, ok && principal != nil
}

// NewAuthenticator constructs an authenticator from configuration.
func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	token := strings.TrimSpace(cfg.BearerToken)
	if token == "" && !cfg.AllowMTLS {
		return nil, errors.New("operator auth needs a bearer token or mTLS")
	}
	if len(cfg.OperatorSubjects) > 0 && !cfg.AllowMTLS {
		return nil, errors.New("operator subjects require mTLS")
	}
	auth := &Authenticator{allowMTLS: cfg.AllowMTLS}
	if token != "" {
		auth.bearerToken = []byte(token)
	}
	for _, subject := range cfg.OperatorSubjects {
		if subject = strings.TrimSpace(subject); subject != "" {
			if auth.subjects == nil {
				auth.subjects = make(map[string]struct{})
			}
			auth.subjects[subject] = struct{}{}
		}
	}
	return auth, nil
}

// Middleware rejects requests without operator credentials. A nil
// authenticator disables the routes it guards.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			writeError(w, http.StatusServiceUnavailable, "ops_disabled", "", "operator authentication is not configured")
			return
		}
		principal := a.authenticate(r)
		if principal == nil {
			slog.Warn("operator authentication failed",
				"route", r.URL.Path,
				"authorization", logging.MaskBearer(r.Header.Get("Authorization")),
				"client_cert", r.TLS != nil && len(r.TLS.PeerCertificates) > 0)
			writeError(w, http.StatusUnauthorized, "unauthenticated", "", "operator authentication required")
			return
		}
		ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) authenticate(r *http.Request) *Principal {
	if a == nil || r == nil {
		return nil
	}
	if len(a.bearerToken) > 0 {
		if token := parseBearerToken(r.Header.Get("Authorization")); token != "" &&
			subtle.ConstantTimeCompare([]byte(token), a.bearerToken) == 1 {
			return &Principal{Method: methodBearer, Subject: "operator"}
		}
	}
	if a.allowMTLS {
		if cert := clientCertificate(r); cert != nil && a.subjectAllowed(cert.Subject.CommonName) {
			return &Principal{Method: methodMTLS, Subject: cert.Subject.CommonName}
		}
	}
	return nil
}

func (a *Authenticator) subjectAllowed(subject string) bool {
	if subject == "" {
		return false
	}
	if len(a.subjects) == 0 {
		return true
	}
	_, ok := a.subjects[subject]
	return ok
}

// clientCertificate prefers the verified chain leaf over the raw peer list.
func clientCertificate(r *http.Request) *x509.Certificate {
	state := r.TLS
	if state == nil {
		return nil
	}
	if len(state.VerifiedChains) > 0 && len(state.VerifiedChains[0]) > 0 {
		return state.VerifiedChains[0][0]
	}
	if state.HandshakeComplete && len(state.PeerCertificates) > 0 {
		return state.PeerCertificates[0]
	}
	return nil
}

func parseBearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(strings.TrimSpace(scheme), "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
