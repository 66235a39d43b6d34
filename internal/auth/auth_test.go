package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func TestIssueAndParse(t *testing.T) {
	p := NewParser(secret)

	tests := []struct {
		name string
		id   Identity
		want uuid.UUID
	}{
		{"patient", Identity{UserID: uuid.New(), Role: RolePatient, Email: "ana@example.com"}, uuid.Nil},
		{"admin", Identity{UserID: uuid.New(), Role: RoleAdmin}, uuid.Nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := Issue(secret, tt.id, time.Hour)
			require.NoError(t, err)

			got, err := p.Parse(token)
			require.NoError(t, err)
			assert.Equal(t, tt.id.UserID, got.UserID)
			assert.Equal(t, tt.id.Role, got.Role)
			assert.Equal(t, tt.id.Email, got.Email)
			assert.Equal(t, tt.want, got.DoctorID)
		})
	}

	t.Run("doctor acts for itself", func(t *testing.T) {
		doctorID := uuid.New()
		token, err := Issue(secret, Identity{UserID: doctorID, Role: RoleDoctor}, time.Hour)
		require.NoError(t, err)

		got, err := p.Parse(token)
		require.NoError(t, err)
		assert.Equal(t, doctorID, got.DoctorID)
		assert.True(t, got.ActsForDoctor(doctorID))
		assert.False(t, got.ActsForDoctor(uuid.New()))
	})

	t.Run("collaborator acts for managed doctor", func(t *testing.T) {
		doctorID := uuid.New()
		token, err := Issue(secret, Identity{UserID: uuid.New(), Role: RoleCollaborator, DoctorID: doctorID}, time.Hour)
		require.NoError(t, err)

		got, err := p.Parse(token)
		require.NoError(t, err)
		assert.Equal(t, doctorID, got.DoctorID)
		assert.True(t, got.ActsForDoctor(doctorID))
	})
}

func TestParseRejects(t *testing.T) {
	p := NewParser(secret)
	id := Identity{UserID: uuid.New(), Role: RolePatient}

	expired, err := Issue(secret, id, -time.Minute)
	require.NoError(t, err)
	wrongKey, err := Issue("other", id, time.Hour)
	require.NoError(t, err)
	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role:             "NURSE",
		RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString(), ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role:             RolePatient,
		RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()},
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":   expired,
		"wrong key": wrongKey,
		"bad role":  badRole,
		"no expiry": noExpiry,
		"garbage":   "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := p.Parse(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestMiddleware(t *testing.T) {
	p := NewParser(secret)
	id := Identity{UserID: uuid.New(), Role: RoleDoctor, Name: "Dr. House"}
	token, err := Issue(secret, id, time.Hour)
	require.NoError(t, err)

	var seen Identity
	h := Middleware(p)(RequireRole(RoleDoctor, RoleCollaborator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"invalid token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
	assert.Equal(t, id.UserID, seen.UserID)
	assert.Equal(t, "Dr. House", seen.Name)
}

func TestRequireRoleForbidden(t *testing.T) {
	patient, err := Issue(secret, Identity{UserID: uuid.New(), Role: RolePatient}, time.Hour)
	require.NoError(t, err)

	h := Middleware(NewParser(secret))(RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodDelete, "/admin/doctors/x", nil)
	req.Header.Set("Authorization", "Bearer "+patient)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
