// Package permission implements the kernel's per-agent capability model
// (spec §4.2): named levels that expand into a concrete capability set,
// plus the downgrade-only semantics of SYS_SET_PERMS.
package permission

// Level names a permission preset.
type Level string

const (
	Unrestricted Level = "unrestricted"
	Standard     Level = "standard"
	Sandboxed    Level = "sandboxed"
	Readonly     Level = "readonly"
	Minimal      Level = "minimal"
)

// Set is the concrete capability set held by a session, regardless of
// which named Level it was derived from.
type Set struct {
	Level Level `json:"level"`

	Spawn     bool `json:"spawn"`
	Exec      bool `json:"exec"`
	Write     bool `json:"write"`
	Network   bool `json:"network"`
	SetPerms  bool `json:"set_perms"`
	Think     bool `json:"think"`
	Read      bool `json:"read"`

	ReadPaths  []string `json:"read_paths,omitempty"`
	WritePaths []string `json:"write_paths,omitempty"`
	ExecAllow  []string `json:"exec_allowed,omitempty"`
	HTTPAllow  []string `json:"http_allowed,omitempty"`

	MemoryLimitBytes int64 `json:"memory_limit_bytes,omitempty"`
	CPUQuota         int64 `json:"cpu_quota,omitempty"`
	MaxPIDs          int64 `json:"max_pids,omitempty"`
}

// FromLevel returns the capability set for a named level (spec §4.2's
// table). Unknown levels fall back to Minimal — the most restrictive
// preset — rather than silently granting more than requested.
func FromLevel(level Level) Set {
	switch level {
	case Unrestricted:
		return Set{
			Level: level, Spawn: true, Exec: true, Write: true,
			Network: true, SetPerms: true, Think: true, Read: true,
		}
	case Standard:
		return Set{
			Level: level, Exec: true, Write: true, Network: true, Think: true, Read: true,
		}
	case Sandboxed:
		return Set{Level: level, Read: true, Think: true}
	case Readonly:
		return Set{Level: level, Read: true, Think: true, Network: true}
	case Minimal:
		return Set{Level: level, Think: true}
	default:
		return Set{Level: Minimal, Think: true}
	}
}

// Downgrade reports whether candidate is a strict-or-equal subset of cur's
// capabilities, i.e. whether applying candidate to a session currently at
// cur would never grant something it didn't already have. SYS_SET_PERMS
// on another session is rejected unless this holds, or the caller is
// Unrestricted (spec §4.2).
func Downgrade(cur, candidate Set) bool {
	if candidate.Spawn && !cur.Spawn {
		return false
	}
	if candidate.Exec && !cur.Exec {
		return false
	}
	if candidate.Write && !cur.Write {
		return false
	}
	if candidate.Network && !cur.Network {
		return false
	}
	if candidate.SetPerms && !cur.SetPerms {
		return false
	}
	return true
}
