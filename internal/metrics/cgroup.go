package metrics

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Cgroup samples cgroup v2 controller files for an agent's cgroup
// (spec §4.11: "cpu.stat, memory.current/max, and pids.current/max").
func (c *Collector) Cgroup(agentID uint32, cgroupPath string) (CgroupSnapshot, error) {
	snap := CgroupSnapshot{AgentID: agentID}

	cpuUsage, err := readCPUStatUsage(cgroupPath)
	if err == nil {
		snap.CPUUsageUsec = cpuUsage
	}

	snap.MemoryCurrent, _ = readCgroupInt(cgroupPath, "memory.current")
	snap.MemoryMax, _ = readCgroupMax(cgroupPath, "memory.max")
	snap.PIDsCurrent, _ = readCgroupInt(cgroupPath, "pids.current")
	snap.PIDsMax, _ = readCgroupMax(cgroupPath, "pids.max")

	return snap, nil
}

func readCPUStatUsage(cgroupPath string) (int64, error) {
	f, err := os.Open(cgroupPath + "/cpu.stat")
	if err != nil {
		return 0, fmt.Errorf("metrics: open cpu.stat: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[0] == "usage_usec" {
			v, _ := strconv.ParseInt(fields[1], 10, 64)
			return v, nil
		}
	}
	return 0, fmt.Errorf("metrics: usage_usec not found in cpu.stat")
}

func readCgroupInt(cgroupPath, file string) (int64, error) {
	data, err := os.ReadFile(cgroupPath + "/" + file)
	if err != nil {
		return 0, fmt.Errorf("metrics: read %s: %w", file, err)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("metrics: parse %s: %w", file, err)
	}
	return v, nil
}

// readCgroupMax parses a *.max file, which may contain the literal
// "max" meaning unlimited (represented here as -1).
func readCgroupMax(cgroupPath, file string) (int64, error) {
	data, err := os.ReadFile(cgroupPath + "/" + file)
	if err != nil {
		return 0, fmt.Errorf("metrics: read %s: %w", file, err)
	}
	s := strings.TrimSpace(string(data))
	if s == "max" {
		return -1, nil
	}
	fields := strings.Fields(s)
	v, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("metrics: parse %s: %w", file, err)
	}
	return v, nil
}
