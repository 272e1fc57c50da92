package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken covers malformed, expired and wrongly signed tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrMissingSubject indicates a valid token without a sub claim.
	ErrMissingSubject = errors.New("token has no subject")
)

// Verifier validates HS256 access tokens issued by the identity provider.
type Verifier struct {
	secret []byte
	leeway time.Duration
}

// NewVerifier builds a verifier for tokens signed with secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), leeway: 30 * time.Second}
}

// Parse verifies the signature and time claims and returns the registered claims.
func (v *Verifier) Parse(token string) (*jwt.RegisteredClaims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseSubject returns the user id carried in the token's sub claim.
func (v *Verifier) ParseSubject(token string) (string, error) {
	claims, err := v.Parse(token)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", ErrMissingSubject
	}
	return claims.Subject, nil
}
