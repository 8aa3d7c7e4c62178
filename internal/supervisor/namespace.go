package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// cgroupRoot is the cgroup v2 subtree the kernel manages directly. It
// must already be a valid cgroup v2 mount with delegated controllers
// (memory, cpu, pids) for setupCgroup to succeed.
const cgroupRoot = "/sys/fs/cgroup/clovekernel"

// BareBackend spawns agents directly via fork/exec, applying Linux
// namespace isolation and a cgroup v2 controller when spec.Sandboxed
// (spec §4.8: "new mount+pid+uts+net namespace... fresh cgroup"). It
// is the fallback sandboxed backend when Docker is unavailable, and
// the only backend for non-sandboxed spawns.
type BareBackend struct{}

// NewBareBackend returns a ready-to-use BareBackend.
func NewBareBackend() *BareBackend { return &BareBackend{} }

// Spawn starts spec.Command under sh -c. If spec.Sandboxed is set, the
// child is cloned into fresh mount/pid/uts namespaces (plus a net
// namespace unless spec.Network is true) and moved into a cgroup with
// spec.Limits applied; any failure here fails the spawn outright —
// isolation is never silently downgraded (spec §4.8).
func (b *BareBackend) Spawn(ctx context.Context, spec AgentSpec) (Handle, error) {
	cmd := exec.Command("sh", "-c", spec.Command)
	cmd.Dir = spec.Cwd
	cmd.Env = spec.Env

	if spec.Sandboxed {
		flags := uintptr(unix.CLONE_NEWNS | unix.CLONE_NEWPID | unix.CLONE_NEWUTS)
		if !spec.Network {
			flags |= unix.CLONE_NEWNET
		}
		cmd.SysProcAttr = &syscall.SysProcAttr{Cloneflags: flags}
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("supervisor: spawn agent %d: %w", spec.AgentID, err)
	}

	var cgroupPath string
	if spec.Sandboxed {
		path, err := setupCgroup(spec.AgentID, spec.Limits, cmd.Process.Pid)
		if err != nil {
			_ = cmd.Process.Kill()
			return nil, fmt.Errorf("supervisor: cgroup setup for agent %d: %w", spec.AgentID, err)
		}
		cgroupPath = path
	}

	return &bareHandle{cmd: cmd, cgroupPath: cgroupPath}, nil
}

// setupCgroup creates a cgroup under cgroupRoot for agentID, applies
// limits (zero fields left at the controller default), and moves pid
// into it.
func setupCgroup(agentID uint32, limits Limits, pid int) (string, error) {
	path := filepath.Join(cgroupRoot, fmt.Sprintf("agent-%d", agentID))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("mkdir cgroup: %w", err)
	}

	if limits.MemoryLimitBytes > 0 {
		if err := writeCgroupFile(path, "memory.max", strconv.FormatInt(limits.MemoryLimitBytes, 10)); err != nil {
			return "", err
		}
	}
	if limits.CPUQuota > 0 {
		if err := writeCgroupFile(path, "cpu.max", fmt.Sprintf("%d 100000", limits.CPUQuota)); err != nil {
			return "", err
		}
	}
	if limits.MaxPIDs > 0 {
		if err := writeCgroupFile(path, "pids.max", strconv.FormatInt(limits.MaxPIDs, 10)); err != nil {
			return "", err
		}
	}
	if err := writeCgroupFile(path, "cgroup.procs", strconv.Itoa(pid)); err != nil {
		return "", err
	}
	return path, nil
}

func writeCgroupFile(cgroupPath, file, value string) error {
	if err := os.WriteFile(filepath.Join(cgroupPath, file), []byte(value), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", file, err)
	}
	return nil
}

// bareHandle adapts one fork/exec'd process to the Handle interface.
type bareHandle struct {
	cmd        *exec.Cmd
	cgroupPath string
}

func (h *bareHandle) Signal(ctx context.Context, sig string) error {
	s, err := parseSignal(sig)
	if err != nil {
		return err
	}
	return h.cmd.Process.Signal(s)
}

func (h *bareHandle) Wait(ctx context.Context) (int, error) {
	err := h.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func (h *bareHandle) Release(ctx context.Context) error {
	if h.cgroupPath == "" {
		return nil
	}
	return os.RemoveAll(h.cgroupPath)
}

// CgroupPath implements the supervisor package's optional cgroup-path
// accessor used by SYS_METRICS_CGROUP; empty when the agent was not
// sandboxed.
func (h *bareHandle) CgroupPath() string { return h.cgroupPath }

func (h *bareHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func parseSignal(sig string) (os.Signal, error) {
	switch sig {
	case "SIGTERM":
		return syscall.SIGTERM, nil
	case "SIGKILL":
		return syscall.SIGKILL, nil
	case "SIGSTOP":
		return syscall.SIGSTOP, nil
	case "SIGCONT":
		return syscall.SIGCONT, nil
	default:
		return nil, fmt.Errorf("supervisor: unknown signal %q", sig)
	}
}
