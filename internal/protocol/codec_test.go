package protocol

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeValidEnvelopes(t *testing.T) {
	codec := NewCodec(0)

	tests := []struct {
		name string
		wire string
		want Kind
	}{
		{"text", `{"type":"text","text":"hi"}`, KindText},
		{"file", `{"type":"file","name":"a.png","mime":"image/png","size":3,"data":"data:image/png;base64,AAAA"}`, KindFile},
		{"rename", `{"type":"rename","username":"alice"}`, KindRename},
		{"create", `{"type":"create","name":"abc"}`, KindCreate},
		{"join", `{"type":"join","room":"abc"}`, KindJoin},
		{"status", `{"type":"status","text":"alice joined","ts":1700000000}`, KindStatus},
		{"userList", `{"type":"userList","users":["alice","bob"]}`, KindUserList},
		{"roomList", `{"type":"roomList","rooms":[{"name":"abc","count":2}]}`, KindRoomList},
		{"error", `{"type":"error","code":"bad_room"}`, KindError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := codec.Decode([]byte(tt.wire))
			require.NoError(t, err)
			assert.Equal(t, tt.want, env.Type)
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	codec := NewCodec(0)

	for _, wire := range []string{
		`not json at all`,
		`{"type":`,
		`{"type":"text","text":42}`,
		`[1,2,3]`,
	} {
		_, err := codec.Decode([]byte(wire))
		require.Error(t, err, "input %q", wire)

		var decErr *DecodeError
		require.ErrorAs(t, err, &decErr)
		assert.Equal(t, ReasonMalformed, decErr.Reason)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	codec := NewCodec(0)

	_, err := codec.Decode([]byte(`{"type":"teleport"}`))

	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, ReasonUnknownKind, decErr.Reason)
}

func TestDecodeTooLargeBeforeParsing(t *testing.T) {
	codec := NewCodec(64)

	// Deliberately invalid JSON: the length check must trip before the
	// parser ever sees the payload.
	wire := []byte("{" + strings.Repeat("x", 128))
	_, err := codec.Decode(wire)

	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, ReasonTooLarge, decErr.Reason)
}

func TestDecodeAtExactLimit(t *testing.T) {
	wire := []byte(`{"type":"text","text":"hi"}`)
	codec := NewCodec(int64(len(wire)))

	env, err := codec.Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, "hi", env.Text)
}

func TestEncodeRoundTrip(t *testing.T) {
	codec := NewCodec(0)

	in := &Envelope{Type: KindText, Username: "alice", Text: "hello", TS: 1700000000}
	wire, err := codec.Encode(in)
	require.NoError(t, err)

	out, err := codec.Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEncodeOmitsZeroFields(t *testing.T) {
	codec := NewCodec(0)

	wire, err := codec.Encode(&Envelope{Type: KindText, Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"text","text":"hi"}`, string(wire))
}

func TestFitsBudget(t *testing.T) {
	codec := NewCodec(96)

	small := &Envelope{Type: KindText, Text: "hi"}
	if _, ok := codec.FitsBudget(small); !ok {
		t.Fatal("small envelope should fit the budget")
	}

	payload := base64.StdEncoding.EncodeToString(make([]byte, 256))
	big := &Envelope{Type: KindFile, Name: "blob", Mime: "application/octet-stream", Data: payload}
	if _, ok := codec.FitsBudget(big); ok {
		t.Fatal("oversized file envelope should not fit the budget")
	}
}

func TestDecodeErrorUnwraps(t *testing.T) {
	inner := errors.New("boom")
	err := &DecodeError{Reason: ReasonMalformed, Err: inner}
	assert.ErrorIs(t, err, inner)
}
