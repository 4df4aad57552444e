// Package access authenticates staff tokens and checks their capabilities.
package access

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

type Role string

const (
	RoleStaff   Role = "staff"
	RoleManager Role = "manager"
)

// Capability names one privileged operation.
type Capability string

const (
	CapConfirm        Capability = "bookings.confirm"
	CapComplete       Capability = "bookings.complete"
	CapCancelOverride Capability = "bookings.cancel_override"
	CapCapture        Capability = "payments.capture"
	CapReplay         Capability = "gateway.replay"
	CapDiagnostics    Capability = "diagnostics.read"
)

var roleCapabilities = map[Role][]Capability{
	RoleStaff:   {CapConfirm, CapComplete, CapDiagnostics},
	RoleManager: {CapConfirm, CapComplete, CapDiagnostics, CapCancelOverride, CapCapture, CapReplay},
}

var ErrInvalidToken = errors.New("invalid access token")

// AccessDeniedError is returned when a principal lacks a capability.
type AccessDeniedError struct {
	Subject    string
	Capability Capability
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("%s may not %s", e.Subject, e.Capability)
}

type Claims struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Principal is an authenticated staff member.
type Principal struct {
	Subject string
	Name    string
	Role    Role
}

// Can reports whether the principal's role grants c.
func (p *Principal) Can(c Capability) bool {
	if p == nil {
		return false
	}
	for _, have := range roleCapabilities[p.Role] {
		if have == c {
			return true
		}
	}
	return false
}

// Service issues and validates HS256 tokens.
type Service struct {
	secret []byte
	issuer string
	now    func() time.Time
	logger zerolog.Logger
}

func NewService(secret, issuer string, logger zerolog.Logger) *Service {
	return &Service{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
		logger: logger.With().Str("component", "access").Logger(),
	}
}

// IssueToken signs a token for subject. Used by ops tooling and tests.
func (s *Service) IssueToken(subject, name string, role Role, ttl time.Duration) (string, error) {
	if _, ok := roleCapabilities[role]; !ok {
		return "", fmt.Errorf("unknown role %q", role)
	}
	now := s.now()
	claims := Claims{
		Role: string(role),
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Authenticate validates a token and returns its principal.
func (s *Service) Authenticate(token string) (*Principal, error) {
	if len(s.secret) == 0 {
		return nil, ErrInvalidToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	t, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !t.Valid {
		s.logger.Debug().Err(err).Msg("token rejected")
		return nil, ErrInvalidToken
	}

	role := Role(claims.Role)
	if _, ok := roleCapabilities[role]; !ok || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &Principal{Subject: claims.Subject, Name: claims.Name, Role: role}, nil
}

// Authorize returns *AccessDeniedError when p lacks c.
func (s *Service) Authorize(p *Principal, c Capability) error {
	if p.Can(c) {
		return nil
	}
	subject := "anonymous"
	if p != nil {
		subject = p.Subject
	}
	s.logger.Warn().Str("subject", subject).Str("capability", string(c)).Msg("access denied")
	return &AccessDeniedError{Subject: subject, Capability: c}
}
