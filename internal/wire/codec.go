package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// TimeLayout is the timestamp format used on the wire.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

var api = sonic.ConfigStd

// Marshal encodes v with the shared codec.
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// Unmarshal decodes data into v with the shared codec.
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// FormatTime renders t in UTC with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a timestamp produced by FormatTime.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// Encode serializes an envelope.
func Encode(env Envelope) ([]byte, error) {
	if env.Type == "" {
		return nil, fmt.Errorf("envelope without type")
	}
	b, err := Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Type, err)
	}
	return b, nil
}

// Decode parses an envelope, leaving Data undecoded.
func Decode(b []byte) (RawEnvelope, error) {
	var env RawEnvelope
	if err := Unmarshal(b, &env); err != nil {
		return RawEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return RawEnvelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// DecodeData decodes the payload into v.
func (e RawEnvelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty data", e.Type)
	}
	if err := Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: decode data: %w", e.Type, err)
	}
	return nil
}

// RawMessage is an already encoded JSON value.
type RawMessage = json.RawMessage
