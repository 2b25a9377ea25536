// Package authn verifies the HS256 bearer tokens issued by the account service.
package authn

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthenticated = errors.New("authn: unauthenticated")

// Identity is who a verified token speaks for. UserID comes from the subject claim.
type Identity struct {
	UserID      string
	Username    string
	DisplayName string
	Avatar      string
}

type claims struct {
	jwt.RegisteredClaims
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewVerifier requires a secret; issuer is checked only when non-empty.
func NewVerifier(secret, issuer string, now func() time.Time) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Verifier{secret: []byte(secret), issuer: strings.TrimSpace(issuer), now: now}, nil
}

// Verify checks signature, expiry and issuer, and the audience when one is given.
func (v *Verifier) Verify(token, audience string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
		jwt.WithLeeway(5 * time.Second), // 서버 간 시계 오차 허용
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	var c claims
	if _, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) { return v.secret, nil }, opts...); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	// sub 클레임이 곧 유저 ID
	sub := strings.TrimSpace(c.Subject)
	if sub == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrUnauthenticated)
	}
	return Identity{UserID: sub, Username: c.Username, DisplayName: c.DisplayName, Avatar: c.Avatar}, nil
}

// Issue signs a token for id. Used by tooling and tests; production tokens come from the account service.
func (v *Verifier) Issue(id Identity, audience string, ttl time.Duration) (string, error) {
	now := v.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username:    id.Username,
		DisplayName: id.DisplayName,
		Avatar:      id.Avatar,
	}
	if audience != "" {
		c.Audience = jwt.ClaimStrings{audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}

// TokenFromRequest reads a bearer token from the Authorization header, falling back to
// the token query parameter for browser websocket clients that cannot set headers.
func TokenFromRequest(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
