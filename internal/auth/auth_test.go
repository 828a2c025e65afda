package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consultdesk/pkg/interfaces"
	"consultdesk/pkg/types"
)

const testSecret = "test-secret"

func newTestManager(t *testing.T) *TokenManager {
	t.Helper()
	m, err := NewTokenManager(TokenConfig{Secret: testSecret, Issuer: "consultdesk-test", TTL: time.Hour})
	require.NoError(t, err)
	return m
}

func TestNewTokenManager_RequiresSecret(t *testing.T) {
	_, err := NewTokenManager(TokenConfig{})
	assert.Error(t, err)
}

func TestTokenManager_IssueVerifyRoundTrip(t *testing.T) {
	m := newTestManager(t)

	in := types.Principal{
		ID:         "u1",
		Name:       "Asha",
		Email:      "asha@example.com",
		Role:       "Counsellor",
		Type:       "partner",
		BranchID:   "B1",
		BranchType: types.BranchTypeBranch,
	}
	token, err := m.Issue(in)
	require.NoError(t, err)

	p, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", p.ID)
	assert.Equal(t, "Asha", p.Name)
	assert.Equal(t, "B1", p.BranchID)
	assert.Equal(t, types.KindPartner, p.Kind)
	assert.Equal(t, "Counsellor", p.Role)
}

func TestTokenManager_ResolvesKindOnce(t *testing.T) {
	m := newTestManager(t)

	tests := []struct {
		role, userType string
		want           types.Kind
	}{
		{"", "agent", types.KindAgent},
		{"", "", types.KindLead},
		{"student", "", types.KindLead},
		{"admin", "", types.KindPartner},
	}
	for _, tt := range tests {
		token, err := m.Issue(types.Principal{ID: "u1", Role: tt.role, Type: tt.userType})
		require.NoError(t, err)
		p, err := m.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, tt.want, p.Kind, "role=%q type=%q", tt.role, tt.userType)
	}
}

func TestTokenManager_Verify_Failures(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Verify("")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = m.Verify("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewTokenManager(TokenConfig{Secret: "other-secret", TTL: time.Hour})
	require.NoError(t, err)
	foreign, err := other.Issue(types.Principal{ID: "u1"})
	require.NoError(t, err)
	_, err = m.Verify(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_Verify_Expired(t *testing.T) {
	m := newTestManager(t)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := m.Issue(types.Principal{ID: "u1"})
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenManager_Verify_RejectsNonHMAC(t *testing.T) {
	m := newTestManager(t)
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = m.Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_Verify_RequiresSubject(t *testing.T) {
	m := newTestManager(t)
	token, err := m.Issue(types.Principal{})
	require.NoError(t, err)

	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExtractBearer(t *testing.T) {
	assert.Equal(t, "abc", ExtractBearer("Bearer abc"))
	assert.Equal(t, "abc", ExtractBearer("bearer  abc "))
	assert.Equal(t, "abc", ExtractBearer("abc"))
	assert.Equal(t, "", ExtractBearer(""))
	assert.Equal(t, "", ExtractBearer("Bearer "))
}

func TestPasswordHasher(t *testing.T) {
	h := NewPasswordHasherWithCost(4)
	hash, err := h.Hash("s3cret")
	require.NoError(t, err)

	assert.True(t, h.Verify("s3cret", hash))
	assert.False(t, h.Verify("wrong", hash))
	assert.Equal(t, DefaultBcryptCost, NewPasswordHasher().cost)
}

func TestAuthenticate_Middleware(t *testing.T) {
	m := newTestManager(t)
	var seen *types.Principal
	handler := Authenticate(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "missing token")
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer garbage")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := m.Issue(types.Principal{ID: "u9", Type: "agent"})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "u9", seen.ID)
		assert.Equal(t, types.KindAgent, seen.Kind)
	})
}

func TestTokenErrors_AreUnauthorized(t *testing.T) {
	for _, err := range []error{ErrMissingToken, ErrInvalidToken, ErrExpiredToken} {
		assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
		assert.NotErrorIs(t, err, interfaces.ErrForbidden)
	}

	_, err := newTestManager(t).Verify("not-a-jwt")
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
}
