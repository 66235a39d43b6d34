// Package auth resolves the caller's identity from HS256 bearer tokens.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Role string

const (
	RolePatient      Role = "PATIENT"
	RoleDoctor       Role = "DOCTOR"
	RoleCollaborator Role = "COLLABORATOR"
	RoleAdmin        Role = "ADMIN"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is the authenticated caller. DoctorID is the doctor's own id for
// doctors and the managed doctor for collaborators.
type Identity struct {
	UserID   uuid.UUID
	Role     Role
	Email    string
	Name     string
	DoctorID uuid.UUID
}

// ActsForDoctor reports whether the caller may manage the given doctor's
// schedule and appointments.
func (id Identity) ActsForDoctor(doctorID uuid.UUID) bool {
	switch id.Role {
	case RoleAdmin:
		return true
	case RoleDoctor, RoleCollaborator:
		return id.DoctorID == doctorID
	}
	return false
}

type claims struct {
	Role     Role   `json:"role"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	DoctorID string `json:"doctor_id,omitempty"`
	jwt.RegisteredClaims
}

type Parser struct {
	secret []byte
}

func NewParser(secret string) *Parser {
	return &Parser{secret: []byte(secret)}
}

func (p *Parser) Parse(tokenString string) (Identity, error) {
	c := &claims{}
	token, err := jwt.ParseWithClaims(tokenString, c, func(t *jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: subject is not a uuid", ErrInvalidToken)
	}

	id := Identity{UserID: userID, Role: c.Role, Email: c.Email, Name: c.Name}
	switch c.Role {
	case RolePatient, RoleAdmin:
	case RoleDoctor:
		id.DoctorID = userID
	case RoleCollaborator:
		if id.DoctorID, err = uuid.Parse(c.DoctorID); err != nil {
			return Identity{}, fmt.Errorf("%w: collaborator without doctor_id", ErrInvalidToken)
		}
	default:
		return Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, c.Role)
	}
	return id, nil
}

// Issue signs a token for id that expires after ttl.
func Issue(secret string, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Role:  id.Role,
		Email: id.Email,
		Name:  id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "clinic-scheduling",
		},
	}
	if id.Role == RoleCollaborator {
		c.DoctorID = id.DoctorID.String()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// Middleware rejects requests without a valid bearer token and stores the
// identity on the request context.
func Middleware(p *Parser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
				deny(w, http.StatusUnauthorized, ErrMissingToken.Error())
				return
			}

			id, err := p.Parse(strings.TrimSpace(token))
			if err != nil {
				deny(w, http.StatusUnauthorized, ErrInvalidToken.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireRole lets a request through only if the caller has one of roles.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok {
				deny(w, http.StatusUnauthorized, ErrMissingToken.Error())
				return
			}
			for _, role := range roles {
				if id.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			deny(w, http.StatusForbidden, "role not allowed")
		})
	}
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
