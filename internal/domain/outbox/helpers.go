package outbox

import (
	"fmt"

	"github.com/driftsync/engine/internal/infra/jsonx"
)

func errorFromResult(code ErrorCode, message string) error {
	if code != "" {
		return fmt.Errorf("outbox: push failed [%s]: %s", code, message)
	}
	return fmt.Errorf("outbox: push failed: %s", message)
}

// payloadHasFields reports whether every required field is present (and
// non-null) in a JSON object payload, used by PurgeCorruptOps (§4.5).
func payloadHasFields(payload []byte, fields []string) bool {
	if len(payload) == 0 {
		return len(fields) == 0
	}
	var obj map[string]jsonx.RawMessage
	if err := jsonx.Unmarshal(payload, &obj); err != nil {
		return false
	}
	for _, f := range fields {
		raw, ok := obj[f]
		if !ok || string(raw) == "null" {
			return false
		}
	}
	return true
}
