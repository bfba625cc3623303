package notify

import "strings"

// ExpoPushTokenPrefix marks a token issued by the Expo push gateway.
const ExpoPushTokenPrefix = "ExponentPushToken["

// TokenValidator reports whether a stored token is a dispatchable destination.
type TokenValidator func(token string) bool

// PrefixValidator accepts non-empty tokens starting with prefix. An empty
// prefix accepts every non-empty token.
func PrefixValidator(prefix string) TokenValidator {
	return func(token string) bool {
		return token != "" && strings.HasPrefix(token, prefix)
	}
}

// IsExpoPushToken is the validator for the Expo gateway.
var IsExpoPushToken = PrefixValidator(ExpoPushTokenPrefix)
