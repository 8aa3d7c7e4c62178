package effector

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadDeniedOutsideWhitelist(t *testing.T) {
	e := New(Config{ReadPaths: []string{"/tmp/allowed/*"}}, nil)
	got := e.Read("/etc/shadow")
	if got.Success || got.Error != "permission denied" {
		t.Fatalf("expected permission denied, got %+v", got)
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	e := New(Config{
		ReadPaths:  []string{filepath.Join(dir, "*")},
		WritePaths: []string{filepath.Join(dir, "*")},
	}, nil)

	wr := e.Write(path, "write", []byte("hello"))
	if !wr.Success || wr.BytesWritten != 5 {
		t.Fatalf("write failed: %+v", wr)
	}

	rr := e.Read(path)
	if !rr.Success || rr.Content != "hello" {
		t.Fatalf("read failed: %+v", rr)
	}

	wr2 := e.Write(path, "append", []byte(" world"))
	if !wr2.Success {
		t.Fatalf("append failed: %+v", wr2)
	}
	rr2 := e.Read(path)
	if rr2.Content != "hello world" {
		t.Fatalf("expected appended content, got %q", rr2.Content)
	}
}

func TestWriteDeniedOutsideWhitelist(t *testing.T) {
	e := New(Config{WritePaths: []string{"/tmp/allowed/*"}}, nil)
	got := e.Write("/etc/passwd", "write", []byte("x"))
	if got.Success || got.Error != "permission denied" {
		t.Fatalf("expected permission denied, got %+v", got)
	}
}

func TestReadOverCapFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.bin")
	if err := os.WriteFile(path, make([]byte, 16), 0o644); err != nil {
		t.Fatal(err)
	}

	e := New(Config{ReadPaths: []string{filepath.Join(dir, "*")}, ReadCapBytes: 8}, nil)
	got := e.Read(path)
	if got.Success || got.Error != "file too large" {
		t.Fatalf("expected file too large, got %+v", got)
	}
}

type stubOverlay struct {
	readOK bool
	data   []byte
}

func (s *stubOverlay) ReadFile(path string) ([]byte, bool, error) {
	return s.data, s.readOK, nil
}
func (s *stubOverlay) WriteFile(path, mode string, content []byte) (bool, error) { return false, nil }
func (s *stubOverlay) HTTPDo(req HTTPRequest) (HTTPResult, bool, error)          { return HTTPResult{}, false, nil }

func TestReadUsesOverlayWhenJoined(t *testing.T) {
	e := New(Config{}, &stubOverlay{readOK: true, data: []byte("virtual")})
	got := e.Read("/anything")
	if !got.Success || got.Content != "virtual" {
		t.Fatalf("expected overlay content, got %+v", got)
	}
}
