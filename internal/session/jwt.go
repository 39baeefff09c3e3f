package session

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token payload set by the web application.
// UserID may arrive either as the userId claim or as the registered subject.
type Claims struct {
	UserID int64 `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens carried in a cookie.
type JWTVerifier struct {
	secret     []byte
	cookieName string
	now        func() time.Time
}

// NewJWTVerifier constructs a verifier for the given shared secret.
func NewJWTVerifier(secret, cookieName string) *JWTVerifier {
	if strings.TrimSpace(cookieName) == "" {
		cookieName = DefaultCookie
	}
	return &JWTVerifier{
		secret:     []byte(strings.TrimSpace(secret)),
		cookieName: cookieName,
		now:        time.Now,
	}
}

// UserID extracts and validates the session cookie, returning the user id.
func (v *JWTVerifier) UserID(r *http.Request) (int64, error) {
	c, err := r.Cookie(v.cookieName)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		return 0, ErrNoSession
	}
	return v.Verify(c.Value)
}

// Verify validates a raw token string and returns the user id it carries.
func (v *JWTVerifier) Verify(raw string) (int64, error) {
	if len(v.secret) == 0 {
		return 0, fmt.Errorf("%w: verifier secret not configured", ErrNoSession)
	}

	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithLeeway(5*time.Second),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	if !tok.Valid {
		return 0, ErrNoSession
	}

	if claims.UserID > 0 {
		return claims.UserID, nil
	}
	if sub := strings.TrimSpace(claims.Subject); sub != "" {
		id, err := strconv.ParseInt(sub, 10, 64)
		if err == nil && id > 0 {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: token carries no user id", ErrNoSession)
}

// Sign issues a token for userID. The service itself never issues sessions;
// this exists for tests and local tooling that need a valid cookie.
func (v *JWTVerifier) Sign(userID int64, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Cookie wraps a signed token in the cookie shape the web application uses.
func (v *JWTVerifier) Cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     v.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

var _ Verifier = (*JWTVerifier)(nil)
