package jwt

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	jw "github.com/golang-jwt/jwt/v5"
)

func TestParse(t *testing.T) {
	v := NewVerifier("s3cret")

	tok, err := Sign("s3cret", "user-1", time.Minute)
	assert.Equal(t, err, nil)
	uid, err := v.Parse(tok)
	assert.Equal(t, err, nil)
	assert.Equal(t, uid, "user-1")

	other, _ := Sign("other", "user-1", time.Minute)
	_, err = v.Parse(other)
	assert.Equal(t, err, ErrInvalidToken)

	noSub, _ := Sign("s3cret", "", time.Minute)
	_, err = v.Parse(noSub)
	assert.Equal(t, err, ErrNoSubject)

	expired, _ := Sign("s3cret", "user-1", time.Minute)
	v.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = v.Parse(expired)
	assert.Equal(t, err, ErrExpired)
}

func TestParseRejectsTokensNotYetValid(t *testing.T) {
	v := NewVerifier("s3cret")
	sign := func(claims jw.MapClaims) string {
		tok, err := jw.NewWithClaims(jw.SigningMethodHS256, claims).SignedString([]byte("s3cret"))
		assert.Equal(t, err, nil)
		return tok
	}

	future := time.Now().Add(time.Hour).Unix()
	_, err := v.Parse(sign(jw.MapClaims{"sub": "u1", "nbf": future}))
	assert.Equal(t, err, ErrInvalidToken)

	_, err = v.Parse(sign(jw.MapClaims{"sub": "u1", "iat": future}))
	assert.Equal(t, err, ErrInvalidToken)

	// the same token becomes valid once the clock reaches nbf
	v.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	uid, err := v.Parse(sign(jw.MapClaims{"sub": "u1", "nbf": future}))
	assert.Equal(t, err, nil)
	assert.Equal(t, uid, "u1")
}
