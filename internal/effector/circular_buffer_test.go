package effector

import "testing"

func TestCircularBufferWriteUnderCapacity(t *testing.T) {
	cb := newCircularBuffer(16)
	cb.Write([]byte("hello"))
	if cb.String() != "hello" {
		t.Fatalf("expected %q, got %q", "hello", cb.String())
	}
	if cb.Len() != 5 {
		t.Fatalf("expected len 5, got %d", cb.Len())
	}
}

func TestCircularBufferOverwritesOldest(t *testing.T) {
	cb := newCircularBuffer(4)
	cb.Write([]byte("abcdef"))
	if cb.Len() != 4 {
		t.Fatalf("expected len capped at 4, got %d", cb.Len())
	}
	if cb.String() != "cdef" {
		t.Fatalf("expected oldest bytes dropped, got %q", cb.String())
	}
}

func TestCircularBufferReset(t *testing.T) {
	cb := newCircularBuffer(8)
	cb.Write([]byte("data"))
	cb.Reset()
	if cb.Len() != 0 || cb.String() != "" {
		t.Fatalf("expected empty buffer after reset, got len=%d str=%q", cb.Len(), cb.String())
	}
}

func TestCircularBufferCapacityDefault(t *testing.T) {
	cb := newCircularBuffer(0)
	if cb.Capacity() != 64*1024 {
		t.Fatalf("expected default 64KB capacity, got %d", cb.Capacity())
	}
}
