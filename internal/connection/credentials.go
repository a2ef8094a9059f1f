package connection

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/crewline/realtime/internal/backend"
)

// ErrMissingCredentials is returned when no token is supplied at all.
var ErrMissingCredentials = errors.New("connection: missing credentials")

// ErrExpiredCredentials is returned when the supplied token is a JWT whose
// expiry has already passed.
var ErrExpiredCredentials = errors.New("connection: credentials expired")

// validateCredentials runs a local pre-flight over the supplied token
// before any network attempt. A token that parses as a JWT with a past
// expiry is a permanent failure: burning the full retry budget on it would
// only delay the "check your credentials" signal to the user. Opaque
// (non-JWT) tokens pass through untouched; the backend is the authority on
// those.
func validateCredentials(credentials backend.Credentials) error {
	token := strings.TrimSpace(credentials.Token)
	if token == "" {
		return Permanent(ErrMissingCredentials)
	}
	if strings.Count(token, ".") != 2 {
		return nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		// Looks like a JWT but is not one; treat as opaque.
		return nil
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if exp.Before(time.Now()) {
		return Permanent(fmt.Errorf("%w: token expired at %s", ErrExpiredCredentials, exp.Format(time.RFC3339)))
	}
	return nil
}
