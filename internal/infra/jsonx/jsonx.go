// Package jsonx centralizes payload encoding for the sync engine.
//
// jsoniter is used in place of encoding/json on the outbox and resolver hot
// paths (every push batch and every applied change round-trips through it).
// RawMessage stays the stdlib type so payloads remain interchangeable with
// any caller still on encoding/json.
package jsonx

import (
	"encoding/json"

	jsoniter "github.com/json-iterator/go"
)

var api = jsoniter.ConfigCompatibleWithStandardLibrary

type RawMessage = json.RawMessage

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

func MarshalToRaw(v any) (RawMessage, error) {
	b, err := api.Marshal(v)
	if err != nil {
		return nil, err
	}
	return RawMessage(b), nil
}
