// Package stats reports process and host resource usage for the /api/stats
// endpoint.
package stats

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot is a point-in-time view of the server process.
type Snapshot struct {
	UptimeSeconds   float64 `json:"uptimeSeconds"`
	Goroutines      int     `json:"goroutines"`
	ProcessRSSBytes uint64  `json:"processRssBytes"`
	ProcessCPUPct   float64 `json:"processCpuPct"`
	HostMemUsedPct  float64 `json:"hostMemUsedPct"`
	ActiveChats     int     `json:"activeChats"`
	Connections     int     `json:"connections"`
}

// Tracker samples the running process. Chat and connection counts are pushed
// in by the caller at read time.
type Tracker struct {
	startedAt time.Time
	proc      *process.Process
}

func NewTracker() *Tracker {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		proc = nil
	}
	return &Tracker{
		startedAt: time.Now(),
		proc:      proc,
	}
}

// Snapshot samples current usage. Sampling failures leave the corresponding
// fields zero rather than failing the endpoint.
func (t *Tracker) Snapshot(activeChats, connections int) Snapshot {
	s := Snapshot{
		UptimeSeconds: time.Since(t.startedAt).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
		ActiveChats:   activeChats,
		Connections:   connections,
	}
	if t.proc != nil {
		if info, err := t.proc.MemoryInfo(); err == nil && info != nil {
			s.ProcessRSSBytes = info.RSS
		}
		if pct, err := t.proc.CPUPercent(); err == nil {
			s.ProcessCPUPct = pct
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		s.HostMemUsedPct = vm.UsedPercent
	}
	return s
}
