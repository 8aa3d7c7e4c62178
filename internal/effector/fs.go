package effector

import (
	"fmt"
	"os"
	"path/filepath"
)

// matchesAny reports whether path matches any of patterns, evaluated
// in declared order using shell glob semantics (spec §4.9: "glob-like
// lists evaluated in declared order"). An empty pattern list matches
// nothing.
func matchesAny(path string, patterns []string) bool {
	for _, pat := range patterns {
		if ok, err := filepath.Match(pat, path); err == nil && ok {
			return true
		}
	}
	return false
}

// ReadResult is READ's response payload (spec §4.7).
type ReadResult struct {
	Success bool   `json:"success"`
	Content string `json:"content,omitempty"`
	Size    int64  `json:"size,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Read implements SYS_READ. When a world is joined the virtual
// filesystem is consulted and the real filesystem is never touched.
func (e *Effector) Read(path string) ReadResult {
	if e.Overlay != nil {
		content, ok, err := e.Overlay.ReadFile(path)
		if err != nil {
			return ReadResult{Error: err.Error()}
		}
		if !ok {
			return ReadResult{Error: "no such file"}
		}
		return ReadResult{Success: true, Content: string(content), Size: int64(len(content))}
	}

	if !matchesAny(path, e.readWhitelist) {
		return ReadResult{Error: "permission denied"}
	}

	info, err := os.Stat(path)
	if err != nil {
		return ReadResult{Error: err.Error()}
	}
	if info.Size() > e.readCapBytes {
		return ReadResult{Error: "file too large"}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ReadResult{Error: err.Error()}
	}
	return ReadResult{Success: true, Content: string(data), Size: int64(len(data))}
}

// WriteResult is WRITE's response payload (spec §4.7).
type WriteResult struct {
	Success      bool   `json:"success"`
	BytesWritten int64  `json:"bytes_written,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Write implements SYS_WRITE. mode is "write" (truncate) or "append".
// Parent directories must already exist — callers use `exec mkdir -p`
// (spec §4.7).
func (e *Effector) Write(path, mode string, content []byte) WriteResult {
	if e.Overlay != nil {
		ok, err := e.Overlay.WriteFile(path, mode, content)
		if err != nil {
			return WriteResult{Error: err.Error()}
		}
		if !ok {
			return WriteResult{Error: "permission denied"}
		}
		return WriteResult{Success: true, BytesWritten: int64(len(content))}
	}

	if !matchesAny(path, e.writeWhitelist) {
		return WriteResult{Error: "permission denied"}
	}

	flags := os.O_CREATE | os.O_WRONLY
	switch mode {
	case "append":
		flags |= os.O_APPEND
	case "write", "":
		flags |= os.O_TRUNC
	default:
		return WriteResult{Error: fmt.Sprintf("unknown write mode %q", mode)}
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return WriteResult{Error: err.Error()}
	}
	defer f.Close()

	n, err := f.Write(content)
	if err != nil {
		return WriteResult{Error: err.Error()}
	}
	return WriteResult{Success: true, BytesWritten: int64(n)}
}
