// Package auth turns identity-provider bearer tokens into the principal the
// scheduling core consumes: a role plus a worker or patient identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Role string

const (
	RolePatient      Role = "patient"
	RoleReceptionist Role = "receptionist"
	RoleNurse        Role = "nurse"
	RoleDoctor       Role = "doctor"
	RoleAdmin        Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleReceptionist, RoleNurse, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

var (
	ErrMissingToken     = errors.New("missing bearer token")
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidPrincipal = errors.New("token does not carry a usable principal")
)

// Principal is the authenticated caller. Exactly one of WorkerID/PatientID is
// set: PatientID for RolePatient, WorkerID for every staff role.
type Principal struct {
	Role      Role
	Specialty string
	WorkerID  uuid.UUID
	PatientID uuid.UUID
}

func (p Principal) IsStaff() bool {
	return p.Role != RolePatient
}

type claims struct {
	Role      string `json:"role"`
	Specialty string `json:"specialty,omitempty"`
	WorkerID  string `json:"worker_id,omitempty"`
	PatientID string `json:"patient_id,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens minted by the identity provider.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// ParseAuthorization accepts the raw Authorization header value.
func (v *Verifier) ParseAuthorization(header string) (Principal, error) {
	token, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return Principal{}, ErrMissingToken
	}
	return v.Parse(strings.TrimSpace(token))
}

func (v *Verifier) Parse(raw string) (Principal, error) {
	var c claims
	_, err := v.parser.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return c.principal()
}

func (c claims) principal() (Principal, error) {
	p := Principal{
		Role:      Role(c.Role),
		Specialty: strings.TrimSpace(c.Specialty),
	}
	if !p.Role.Valid() {
		return Principal{}, fmt.Errorf("%w: unknown role %q", ErrInvalidPrincipal, c.Role)
	}

	if p.Role == RolePatient {
		id, err := uuid.Parse(c.PatientID)
		if err != nil {
			return Principal{}, fmt.Errorf("%w: patient_id", ErrInvalidPrincipal)
		}
		p.PatientID = id
		return p, nil
	}

	id, err := uuid.Parse(c.WorkerID)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: worker_id", ErrInvalidPrincipal)
	}
	p.WorkerID = id
	return p, nil
}

// IssueToken signs a token for p. The identity provider owns real issuance;
// this is used by the seed/simulate tooling and tests.
func IssueToken(secret string, p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Role:      string(p.Role),
		Specialty: p.Specialty,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if p.Role == RolePatient {
		c.PatientID = p.PatientID.String()
		c.Subject = c.PatientID
	} else {
		c.WorkerID = p.WorkerID.String()
		c.Subject = c.WorkerID
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

type contextKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}
