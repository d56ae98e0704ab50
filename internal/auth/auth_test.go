package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"eventtix/internal/auth"
	"eventtix/internal/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestExtractTokenFromRequest(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"", "", false},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"Bearer a b", "", false},
	}
	for _, tc := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			r.Header.Set("Authorization", tc.header)
		}
		token, err := auth.ExtractTokenFromRequest(r)
		if tc.ok {
			assert.NoError(t, err, tc.header)
			assert.Equal(t, tc.token, token)
		} else {
			assert.Error(t, err, tc.header)
		}
	}
}

func TestHMACVerifierRoundTrip(t *testing.T) {
	v := auth.NewHMACVerifier("secret")
	token, err := v.Issue(auth.Principal{UserID: "user-1", Email: "a@b.c", Roles: []string{"admin"}}, time.Hour)
	require.NoError(t, err)

	p, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.UserID)
	assert.True(t, p.HasRole("admin"))
	assert.False(t, p.HasRole("organizer"))
	assert.WithinDuration(t, time.Now().Add(time.Hour), p.ExpiresAt, 5*time.Second)

	_, err = auth.NewHMACVerifier("other").Verify(context.Background(), token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestHMACVerifierRejectsExpiredAndUnsigned(t *testing.T) {
	v := auth.NewHMACVerifier("secret")
	expired, err := v.Issue(auth.Principal{UserID: "user-1"}, -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), expired)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix()}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), unsigned)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}).
		SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), noSubject)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestHMACVerifierReadsRealmRoles(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":          "kc-user",
		"exp":          time.Now().Add(time.Hour).Unix(),
		"realm_access": map[string]any{"roles": []string{"admin", "offline_access"}},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	p, err := auth.NewHMACVerifier("secret").Verify(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, p.HasRole("admin"))
}

func TestMiddleware(t *testing.T) {
	v := auth.NewHMACVerifier("secret")
	var seen string
	h := auth.Middleware(v, logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	r := httptest.NewRequest(http.MethodGet, "/tickets", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	r = httptest.NewRequest(http.MethodGet, "/tickets", nil)
	r.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := v.Issue(auth.Principal{UserID: "user-7"}, time.Hour)
	require.NoError(t, err)
	r = httptest.NewRequest(http.MethodGet, "/tickets", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "user-7", seen)
}

func TestUserIDWithoutPrincipal(t *testing.T) {
	assert.Equal(t, "", auth.UserID(context.Background()))
	ctx := auth.WithPrincipal(context.Background(), auth.Principal{UserID: "u"})
	assert.Equal(t, "u", auth.UserID(ctx))
}

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(ctx context.Context, rawToken string) (auth.Principal, error) {
	args := m.Called(ctx, rawToken)
	return args.Get(0).(auth.Principal), args.Error(1)
}

func TestCachedVerifier(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	next := new(MockVerifier)
	p := auth.Principal{UserID: "user-1", ExpiresAt: time.Now().Add(10 * time.Minute)}
	next.On("Verify", mock.Anything, "good").Return(p, nil).Once()
	next.On("Verify", mock.Anything, "bad").Return(auth.Principal{}, errors.Join(auth.ErrInvalidToken)).Twice()

	cached := auth.NewCachedVerifier(next, client, logger.Discard())
	for i := 0; i < 3; i++ {
		got, err := cached.Verify(context.Background(), "good")
		require.NoError(t, err)
		assert.Equal(t, "user-1", got.UserID)
	}
	for i := 0; i < 2; i++ {
		_, err := cached.Verify(context.Background(), "bad")
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	}
	next.AssertExpectations(t)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.NotContains(t, keys[0], "good", "raw tokens are never stored")
}
