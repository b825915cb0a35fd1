package protocol

import (
	"encoding/json"
	"fmt"
)

// DefaultMaxMessageSize bounds the wire length of a single envelope. File
// payloads are carried inline as base64, so callers sending files must budget
// for roughly 1.37x expansion of the raw bytes plus JSON escaping.
const DefaultMaxMessageSize int64 = 16 << 20

// DecodeReason classifies why an envelope failed to decode.
type DecodeReason int

// Decode failure reasons.
const (
	ReasonMalformed DecodeReason = iota
	ReasonUnknownKind
	ReasonTooLarge
)

func (r DecodeReason) String() string {
	switch r {
	case ReasonMalformed:
		return "malformed"
	case ReasonUnknownKind:
		return "unknown kind"
	case ReasonTooLarge:
		return "too large"
	default:
		return "unknown reason"
	}
}

// DecodeError reports a failed Decode together with its classification.
type DecodeError struct {
	Reason DecodeReason
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode envelope: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode envelope: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Codec encodes and decodes envelopes while enforcing the configured wire
// byte budget. The zero value is not usable; construct with NewCodec.
type Codec struct {
	maxBytes int64
}

// NewCodec returns a codec enforcing the given maximum wire length. A
// non-positive maximum falls back to DefaultMaxMessageSize.
func NewCodec(maxBytes int64) *Codec {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMessageSize
	}
	return &Codec{maxBytes: maxBytes}
}

// MaxBytes returns the wire byte budget enforced by Decode.
func (c *Codec) MaxBytes() int64 {
	return c.maxBytes
}

// Decode parses a wire envelope. The length check runs before any structural
// parsing so hostile oversized input costs no unmarshal work. The size and
// mime fields of file envelopes are passed through as unverified metadata;
// only the wire length itself is enforced.
func (c *Codec) Decode(data []byte) (*Envelope, error) {
	if int64(len(data)) > c.maxBytes {
		return nil, &DecodeError{Reason: ReasonTooLarge}
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Reason: ReasonMalformed, Err: err}
	}

	if !KnownKind(env.Type) {
		return nil, &DecodeError{Reason: ReasonUnknownKind, Err: fmt.Errorf("type %q", env.Type)}
	}

	return &env, nil
}

// Encode serializes an envelope to its wire form. It never fails for
// well-formed internal values; callers on budget-sensitive paths must
// pre-validate payload sizes before constructing the envelope.
func (c *Codec) Encode(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// FitsBudget reports whether the encoded form of env respects the wire byte
// budget, returning the encoded bytes when it does.
func (c *Codec) FitsBudget(env *Envelope) ([]byte, bool) {
	data, err := c.Encode(env)
	if err != nil {
		return nil, false
	}
	if int64(len(data)) > c.maxBytes {
		return nil, false
	}
	return data, true
}
