package capture

import (
	"github.com/driftsync/engine/internal/domain/hlc"
	"github.com/driftsync/engine/internal/infra/jsonx"
)

func unmarshalClock(payload []byte, v any) error {
	if len(payload) == 0 {
		return nil
	}
	return jsonx.Unmarshal(payload, v)
}

// ensureOrderKey derives order_key from the stamp's HLC when the payload
// doesn't already carry one (messages only, §4.4, §6).
func ensureOrderKey(payload []byte, clock *hlc.Clock) ([]byte, error) {
	var probe struct {
		OrderKey string `json:"order_key"`
	}
	if len(payload) > 0 {
		if err := jsonx.Unmarshal(payload, &probe); err != nil {
			return nil, err
		}
	}
	if probe.OrderKey != "" {
		return payload, nil
	}

	var fields map[string]jsonx.RawMessage
	if len(payload) > 0 {
		if err := jsonx.Unmarshal(payload, &fields); err != nil {
			return nil, err
		}
	}
	if fields == nil {
		fields = make(map[string]jsonx.RawMessage)
	}
	orderKey, err := jsonx.Marshal(hlc.ToOrderKey(clock.Generate()))
	if err != nil {
		return nil, err
	}
	fields["order_key"] = orderKey
	return jsonx.Marshal(fields)
}
