package utils

import "crypto/subtle"

// VerifyCallbackToken compares a gateway callback token with the configured
// one in constant time. An empty expected token never verifies.
func VerifyCallbackToken(got, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}
