package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := &Frame{AgentID: 7, Opcode: OpNoop, Payload: []byte("hi")}

	var buf bytes.Buffer
	if err := f.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	if got.AgentID != f.AgentID || got.Opcode != f.Opcode || !bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, f)
	}
}

func TestReadFrameBadMagic(t *testing.T) {
	buf := bytes.NewBuffer(make([]byte, HeaderSize))
	if _, err := ReadFrame(buf); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestReadFrameShortEOF(t *testing.T) {
	buf := bytes.NewBuffer([]byte{1, 2, 3})
	_, err := ReadFrame(buf)
	if err == nil {
		t.Fatal("expected error on short header")
	}
}

func TestPayloadSizeBoundary(t *testing.T) {
	var buf bytes.Buffer
	atCap := &Frame{AgentID: 1, Opcode: OpNoop, Payload: make([]byte, MaxPayloadSize)}
	if err := atCap.Encode(&buf); err != nil {
		t.Fatalf("exact 1 MiB payload should be accepted: %v", err)
	}
	if _, err := ReadFrame(&buf); err != nil {
		t.Fatalf("reading exact 1 MiB payload should succeed: %v", err)
	}

	overCap := &Frame{AgentID: 1, Opcode: OpNoop, Payload: make([]byte, MaxPayloadSize+1)}
	if err := overCap.Encode(&bytes.Buffer{}); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestOpcodeName(t *testing.T) {
	if OpThink.Name() != "THINK" {
		t.Fatalf("got %q", OpThink.Name())
	}
	if Opcode(0x99).Name() != "UNKNOWN" {
		t.Fatalf("expected UNKNOWN for unregistered opcode")
	}
}

func TestIsNonDeterministic(t *testing.T) {
	for _, op := range []Opcode{OpThink, OpHTTP, OpExec} {
		if !op.IsNonDeterministic() {
			t.Fatalf("%s should be non-deterministic", op.Name())
		}
	}
	if OpStore.IsNonDeterministic() {
		t.Fatal("STORE should be deterministic")
	}
}
