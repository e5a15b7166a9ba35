package api

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerPrefix = "Bearer "

// bearerToken extracts a compact JWT from an Authorization header value.
func bearerToken(header string) (string, error) {
	raw := strings.Trim(header, " ")
	if raw == "" {
		return "", errMissingAuthorization
	}
	if len(raw) <= len(bearerPrefix) || !strings.EqualFold(raw[:len(bearerPrefix)], bearerPrefix) {
		return "", errBadAuthorization
	}
	token := strings.TrimLeft(raw[len(bearerPrefix):], " ")
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}

// sharedTokenMatches compares an Authorization header against a static
// bearer secret in constant time.
func sharedTokenMatches(header, secret string) bool {
	raw := strings.Trim(header, " ")
	if secret == "" || len(raw) <= len(bearerPrefix) || !strings.EqualFold(raw[:len(bearerPrefix)], bearerPrefix) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(raw[len(bearerPrefix):]), []byte(secret)) == 1
}
