package jwt

import (
	"errors"
	"time"

	jw "github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSubject    = errors.New("no subject")
	ErrExpired      = errors.New("token expired")
)

// Verifier checks HS256 tokens issued by the auth service.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Parse validates the token, including exp, nbf and iat when present, and
// returns the "sub" claim.
func (v *Verifier) Parse(tok string) (string, error) {
	t, err := jw.Parse(tok, func(t *jw.Token) (any, error) {
		if _, ok := t.Method.(*jw.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}, jw.WithTimeFunc(v.now), jw.WithIssuedAt())
	if errors.Is(err, jw.ErrTokenExpired) {
		return "", ErrExpired
	}
	if err != nil || !t.Valid {
		return "", ErrInvalidToken
	}
	mc, ok := t.Claims.(jw.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	uid, _ := mc["sub"].(string)
	if uid == "" {
		return "", ErrNoSubject
	}
	return uid, nil
}

// Sign is used by tests and the seeder to mint service tokens.
func Sign(secret, subject string, ttl time.Duration) (string, error) {
	claims := jw.MapClaims{"sub": subject}
	if ttl > 0 {
		claims["exp"] = time.Now().Add(ttl).Unix()
	}
	return jw.NewWithClaims(jw.SigningMethodHS256, claims).SignedString([]byte(secret))
}
