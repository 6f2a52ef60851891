package token

import (
	"github.com/golang-jwt/jwt/v5"
)

// IdentityExpiry extracts the exp claim from a JWT without verifying its
// signature. The broker rejects expired passwords either way; the value only
// steers the refresh schedule. Returns 0 for malformed tokens or tokens
// without a usable exp, which callers treat as expiry-unknown.
func IdentityExpiry(tok string) int64 {
	parser := jwt.NewParser(jwt.WithPaddingAllowed())

	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tok, claims); err != nil {
		return 0
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0
	}

	return exp.Unix()
}
