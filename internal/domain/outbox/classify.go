package outbox

import "strings"

// ErrorCode mirrors the server's push result errorCode enum (§4.5).
type ErrorCode string

const (
	CodeValidationError ErrorCode = "VALIDATION_ERROR"
	CodeOversized       ErrorCode = "OVERSIZED"
	CodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	CodeConflict        ErrorCode = "CONFLICT"
	CodeNetworkError    ErrorCode = "NETWORK_ERROR"
	CodeRateLimited     ErrorCode = "RATE_LIMITED"
	CodeServerError     ErrorCode = "SERVER_ERROR"
	CodeUnknown         ErrorCode = "UNKNOWN"
)

var permanentCodes = map[ErrorCode]struct{}{
	CodeValidationError: {},
	CodeOversized:       {},
	CodeUnauthorized:    {},
}

// legacy string fragments that, absent a structured errorCode, still mean
// "this will never succeed" (§4.5 failure policy).
var permanentMessageFragments = []string{
	"Value is too large",
	"Payload too large for",
	"exceeds 65536 bytes",
	"does not match the schema",
	"does not match validator",
	"missing the required field",
	"Invalid payload for",
	"invalid_type",
}

// isPermanent classifies a push failure as permanent (never retry) vs
// transient (retry per the backoff table), exactly per §4.5.
func isPermanent(code ErrorCode, message string) bool {
	if _, ok := permanentCodes[code]; ok {
		return true
	}
	if code != "" {
		return false
	}
	for _, frag := range permanentMessageFragments {
		if strings.Contains(message, frag) {
			return true
		}
	}
	return false
}
