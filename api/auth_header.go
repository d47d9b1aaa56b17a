package api

import (
	"errors"
	"strings"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerPrefix = "Bearer "

// bearerToken returns the compact JWT carried by an Authorization header
// value. Anything other than "Bearer a.b.c" is rejected.
func bearerToken(header string) (string, error) {
	header = strings.Trim(header, " ")
	if header == "" {
		return "", errMissingAuthorization
	}
	if len(header) <= len(bearerPrefix) || !strings.HasPrefix(header, bearerPrefix) {
		return "", errBadAuthorization
	}
	token := header[len(bearerPrefix):]
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}
