package authn

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newVerifier(t *testing.T, issuer string) *Verifier {
	t.Helper()
	v, err := NewVerifier("s3cret", issuer, func() time.Time { return now })
	require.NoError(t, err)
	return v
}

func TestVerifyRoundTrip(t *testing.T) {
	v := newVerifier(t, "accounts")
	tok, err := v.Issue(Identity{UserID: "u1", DisplayName: "Ann"}, "", time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(tok, "")
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, "Ann", id.DisplayName)
}

func TestVerifyRejects(t *testing.T) {
	v := newVerifier(t, "accounts")
	other := newVerifier(t, "someone-else")
	expired, _ := v.Issue(Identity{UserID: "u1"}, "", -time.Hour)
	foreign, _ := other.Issue(Identity{UserID: "u1"}, "", time.Hour)
	noSub, _ := v.Issue(Identity{}, "", time.Hour)
	player, _ := v.Issue(Identity{UserID: "u1"}, "", time.Hour)
	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u1"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	cases := map[string]struct {
		token    string
		audience string
	}{
		"empty":          {"", ""},
		"garbage":        {"not-a-jwt", ""},
		"expired":        {expired, ""},
		"wrong issuer":   {foreign, ""},
		"no subject":     {noSub, ""},
		"wrong audience": {player, "lobby"},
		"alg none":       {unsigned, ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(tc.token, tc.audience)
			assert.True(t, errors.Is(err, ErrUnauthenticated), "got %v", err)
		})
	}
}

func TestServiceAudience(t *testing.T) {
	v := newVerifier(t, "")
	tok, err := v.Issue(Identity{UserID: "lobby-service"}, "match-intake", time.Minute)
	require.NoError(t, err)
	id, err := v.Verify(tok, "match-intake")
	require.NoError(t, err)
	assert.Equal(t, "lobby-service", id.UserID)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=q", nil)
	assert.Equal(t, "q", TokenFromRequest(r))
	r.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", TokenFromRequest(r))
}

func TestSecretRequired(t *testing.T) {
	_, err := NewVerifier(" ", "", nil)
	assert.Error(t, err)
}
