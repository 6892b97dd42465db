// Package monitor reports runtime resource usage and the processes owned
// by live terminal commands.
package monitor

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/bioinfoflow/backend/internal/terminal"
)

// historyPoints bounds the retained sample ring.
const historyPoints = 60

// SystemStats is one sample of backend resource usage.
type SystemStats struct {
	Timestamp  int64       `json:"timestamp"`
	Memory     MemoryStats `json:"memory"`
	CPU        CPUStats    `json:"cpu"`
	Goroutines int         `json:"goroutines"`
	Processes  int         `json:"processes"`
	Uptime     float64     `json:"uptime_seconds"`
}

// MemoryStats is the Go runtime's view of memory usage.
type MemoryStats struct {
	Allocated    uint64  `json:"allocated_bytes"`
	Total        uint64  `json:"total_bytes"`
	System       uint64  `json:"system_bytes"`
	NumGC        uint32  `json:"num_gc"`
	UsagePercent float64 `json:"usage_percent"`
}

// CPUStats describes available CPU resources.
type CPUStats struct {
	Cores   int `json:"cores"`
	Threads int `json:"threads"`
}

// ProcessInfo describes one live command process.
type ProcessInfo struct {
	PID       int    `json:"pid"`
	Pgid      int    `json:"pgid"`
	SessionID string `json:"session_id"`
	CommandID string `json:"command_id"`
	StartedAt int64  `json:"started_at"`
}

// SystemInfo is static host/process information.
type SystemInfo struct {
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	GoVersion string `json:"go_version"`
	CPUCount  int    `json:"cpu_count"`
	PID       int    `json:"pid"`
	Hostname  string `json:"hostname"`
	StartedAt int64  `json:"started_at"`
}

// Service samples runtime stats and keeps a bounded history ring.
type Service struct {
	registry  *terminal.Registry
	startedAt time.Time

	mu      sync.Mutex
	history []SystemStats
}

// NewService creates the monitor service. The registry supplies the live
// process listing; nil is allowed for stats-only use.
func NewService(registry *terminal.Registry) *Service {
	return &Service{
		registry:  registry,
		startedAt: time.Now(),
		history:   make([]SystemStats, 0, historyPoints),
	}
}

// Info returns static system information.
func (s *Service) Info() SystemInfo {
	hostname, _ := os.Hostname()
	return SystemInfo{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		GoVersion: runtime.Version(),
		CPUCount:  runtime.NumCPU(),
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: s.startedAt.Unix(),
	}
}

// Sample takes a stats snapshot and records it in the history ring.
func (s *Service) Sample() SystemStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	var usage float64
	if mem.Sys > 0 {
		usage = float64(mem.HeapAlloc) / float64(mem.Sys) * 100
	}

	processes := 0
	if s.registry != nil {
		processes = s.registry.Count()
	}

	stats := SystemStats{
		Timestamp: time.Now().Unix(),
		Memory: MemoryStats{
			Allocated:    mem.HeapAlloc,
			Total:        mem.TotalAlloc,
			System:       mem.Sys,
			NumGC:        mem.NumGC,
			UsagePercent: usage,
		},
		CPU: CPUStats{
			Cores:   runtime.NumCPU(),
			Threads: runtime.GOMAXPROCS(0),
		},
		Goroutines: runtime.NumGoroutine(),
		Processes:  processes,
		Uptime:     time.Since(s.startedAt).Seconds(),
	}

	s.mu.Lock()
	s.history = append(s.history, stats)
	if len(s.history) > historyPoints {
		s.history = s.history[len(s.history)-historyPoints:]
	}
	s.mu.Unlock()

	return stats
}

// History returns the retained samples, oldest first.
func (s *Service) History() []SystemStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SystemStats, len(s.history))
	copy(out, s.history)
	return out
}

// Processes lists the live command processes from the terminal registry.
func (s *Service) Processes() []ProcessInfo {
	if s.registry == nil {
		return []ProcessInfo{}
	}
	handles := s.registry.All()
	out := make([]ProcessInfo, 0, len(handles))
	for _, h := range handles {
		out = append(out, ProcessInfo{
			PID:       h.OSPid,
			Pgid:      h.Pgid,
			SessionID: h.SessionID,
			CommandID: h.CommandID,
			StartedAt: h.StartedAt.Unix(),
		})
	}
	return out
}
