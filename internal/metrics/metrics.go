// Package metrics implements the kernel's metrics collector (spec
// §4.11): periodic /proc sampling for system-wide and per-agent
// resource usage, plus cgroup v2 stats for sandboxed agents. Grounded
// in the teacher's idiom of small struct-returning functions with
// fmt.Errorf-wrapped file reads (no teacher file samples /proc
// directly — the sampler itself is new code written in that register).
package metrics

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SystemSnapshot is one system-wide metrics sample (spec §4.11).
type SystemSnapshot struct {
	CPUPercent    float64   `json:"cpu_percent"`
	LoadAvg1      float64   `json:"load_avg_1"`
	LoadAvg5      float64   `json:"load_avg_5"`
	LoadAvg15     float64   `json:"load_avg_15"`
	MemTotalBytes int64     `json:"mem_total_bytes"`
	MemUsedBytes  int64     `json:"mem_used_bytes"`
	MemPercent    float64   `json:"mem_percent"`
	DiskReadBytes  int64    `json:"disk_read_bytes"`
	DiskWriteBytes int64    `json:"disk_write_bytes"`
	NetSentBytes   int64    `json:"net_sent_bytes"`
	NetRecvBytes   int64    `json:"net_recv_bytes"`
	At             time.Time `json:"at"`
}

// AgentSnapshot is one agent's process stats (spec §4.11).
type AgentSnapshot struct {
	AgentID    uint32  `json:"agent_id"`
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   int64   `json:"rss_bytes"`
}

// CgroupSnapshot is exposed only for agents launched under a cgroup
// (spec §4.11).
type CgroupSnapshot struct {
	AgentID        uint32 `json:"agent_id"`
	CPUUsageUsec   int64  `json:"cpu_usage_usec"`
	MemoryCurrent  int64  `json:"memory_current"`
	MemoryMax      int64  `json:"memory_max"`
	PIDsCurrent    int64  `json:"pids_current"`
	PIDsMax        int64  `json:"pids_max"`
}

type cpuTimes struct {
	total, idle uint64
}

type procTimes struct {
	utime, stime uint64
	sampledAt    time.Time
}

// Collector samples /proc, keeping the previous sample around so rate
// values (CPU percent) can be derived from two samples at a small
// interval (spec §4.11).
type Collector struct {
	procRoot string

	mu         sync.Mutex
	prevCPU    cpuTimes
	prevAgents map[uint32]procTimes
}

// New creates a Collector reading from /proc. procRoot is overridable
// for tests.
func New(procRoot string) *Collector {
	if procRoot == "" {
		procRoot = "/proc"
	}
	return &Collector{procRoot: procRoot, prevAgents: make(map[uint32]procTimes)}
}

// System samples system-wide metrics.
func (c *Collector) System() (SystemSnapshot, error) {
	snap := SystemSnapshot{At: time.Now()}

	cur, err := c.readCPUTimes()
	if err != nil {
		return snap, err
	}
	c.mu.Lock()
	prev := c.prevCPU
	c.prevCPU = cur
	c.mu.Unlock()
	snap.CPUPercent = cpuPercent(prev, cur)

	l1, l5, l15, err := c.readLoadAvg()
	if err != nil {
		return snap, err
	}
	snap.LoadAvg1, snap.LoadAvg5, snap.LoadAvg15 = l1, l5, l15

	total, used, err := c.readMemInfo()
	if err != nil {
		return snap, err
	}
	snap.MemTotalBytes, snap.MemUsedBytes = total, used
	if total > 0 {
		snap.MemPercent = float64(used) / float64(total) * 100
	}

	readB, writeB, err := c.readDiskStats()
	if err == nil {
		snap.DiskReadBytes, snap.DiskWriteBytes = readB, writeB
	}

	sent, recv, err := c.readNetDev()
	if err == nil {
		snap.NetSentBytes, snap.NetRecvBytes = sent, recv
	}

	return snap, nil
}

// Agent samples one running agent's process stats by pid.
func (c *Collector) Agent(agentID uint32, pid int) (AgentSnapshot, error) {
	snap := AgentSnapshot{AgentID: agentID, PID: pid}

	utime, stime, rss, err := c.readProcStat(pid)
	if err != nil {
		return snap, err
	}
	snap.RSSBytes = rss

	now := time.Now()
	c.mu.Lock()
	prev, ok := c.prevAgents[agentID]
	c.prevAgents[agentID] = procTimes{utime: utime, stime: stime, sampledAt: now}
	c.mu.Unlock()

	if ok {
		elapsed := now.Sub(prev.sampledAt).Seconds()
		if elapsed > 0 {
			clockTicks := float64(clockTicksPerSec)
			delta := float64((utime+stime)-(prev.utime+prev.stime)) / clockTicks
			snap.CPUPercent = (delta / elapsed) * 100
		}
	}

	return snap, nil
}

const clockTicksPerSec = 100

func cpuPercent(prev, cur cpuTimes) float64 {
	totalDelta := cur.total - prev.total
	idleDelta := cur.idle - prev.idle
	if totalDelta == 0 {
		return 0
	}
	return (1 - float64(idleDelta)/float64(totalDelta)) * 100
}

func (c *Collector) readCPUTimes() (cpuTimes, error) {
	f, err := os.Open(c.procRoot + "/stat")
	if err != nil {
		return cpuTimes{}, fmt.Errorf("metrics: open /proc/stat: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return cpuTimes{}, fmt.Errorf("metrics: empty /proc/stat")
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 5 || fields[0] != "cpu" {
		return cpuTimes{}, fmt.Errorf("metrics: unexpected /proc/stat format")
	}

	var total uint64
	var idle uint64
	for i, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			continue
		}
		total += v
		if i == 3 { // idle column
			idle = v
		}
	}
	return cpuTimes{total: total, idle: idle}, nil
}

func (c *Collector) readLoadAvg() (l1, l5, l15 float64, err error) {
	data, err := os.ReadFile(c.procRoot + "/loadavg")
	if err != nil {
		return 0, 0, 0, fmt.Errorf("metrics: read /proc/loadavg: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return 0, 0, 0, fmt.Errorf("metrics: unexpected /proc/loadavg format")
	}
	l1, _ = strconv.ParseFloat(fields[0], 64)
	l5, _ = strconv.ParseFloat(fields[1], 64)
	l15, _ = strconv.ParseFloat(fields[2], 64)
	return l1, l5, l15, nil
}

func (c *Collector) readMemInfo() (total, used int64, err error) {
	f, err := os.Open(c.procRoot + "/meminfo")
	if err != nil {
		return 0, 0, fmt.Errorf("metrics: open /proc/meminfo: %w", err)
	}
	defer f.Close()

	var memTotal, memAvailable int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		v, _ := strconv.ParseInt(fields[1], 10, 64)
		switch strings.TrimSuffix(fields[0], ":") {
		case "MemTotal":
			memTotal = v * 1024
		case "MemAvailable":
			memAvailable = v * 1024
		}
	}
	return memTotal, memTotal - memAvailable, nil
}

func (c *Collector) readDiskStats() (readBytes, writeBytes int64, err error) {
	f, err := os.Open(c.procRoot + "/diskstats")
	if err != nil {
		return 0, 0, fmt.Errorf("metrics: open /proc/diskstats: %w", err)
	}
	defer f.Close()

	const sectorSize = 512
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 10 {
			continue
		}
		sectorsRead, _ := strconv.ParseInt(fields[5], 10, 64)
		sectorsWritten, _ := strconv.ParseInt(fields[9], 10, 64)
		readBytes += sectorsRead * sectorSize
		writeBytes += sectorsWritten * sectorSize
	}
	return readBytes, writeBytes, nil
}

func (c *Collector) readNetDev() (sent, recv int64, err error) {
	f, err := os.Open(c.procRoot + "/net/dev")
	if err != nil {
		return 0, 0, fmt.Errorf("metrics: open /proc/net/dev: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if lineNum <= 2 {
			continue // header lines
		}
		parts := strings.SplitN(scanner.Text(), ":", 2)
		if len(parts) != 2 {
			continue
		}
		fields := strings.Fields(parts[1])
		if len(fields) < 9 {
			continue
		}
		rx, _ := strconv.ParseInt(fields[0], 10, 64)
		tx, _ := strconv.ParseInt(fields[8], 10, 64)
		recv += rx
		sent += tx
	}
	return sent, recv, nil
}

func (c *Collector) readProcStat(pid int) (utime, stime uint64, rssBytes int64, err error) {
	data, err := os.ReadFile(fmt.Sprintf("%s/%d/stat", c.procRoot, pid))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("metrics: read /proc/%d/stat: %w", pid, err)
	}

	// Fields after the process name (which may contain spaces/parens)
	// start after the last ')'.
	idx := strings.LastIndexByte(string(data), ')')
	if idx < 0 {
		return 0, 0, 0, fmt.Errorf("metrics: unexpected /proc/%d/stat format", pid)
	}
	fields := strings.Fields(string(data)[idx+1:])
	// fields[0] is state; utime is field index 11 (0-based) per proc(5)
	// counting from state, i.e. overall field 14, stime is field 15.
	if len(fields) < 22 {
		return 0, 0, 0, fmt.Errorf("metrics: short /proc/%d/stat", pid)
	}
	ut, _ := strconv.ParseUint(fields[11], 10, 64)
	st, _ := strconv.ParseUint(fields[12], 10, 64)
	rssPages, _ := strconv.ParseInt(fields[21], 10, 64)

	pageSize := int64(4096)
	return ut, st, rssPages * pageSize, nil
}
