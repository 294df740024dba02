package server

import (
	"os"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
)

var (
	selfOnce sync.Once
	self     *process.Process
	selfErr  error
)

// processStats reports CPU and memory usage of this process. Fields that
// cannot be read on the current platform are left out.
func processStats() map[string]any {
	selfOnce.Do(func() {
		self, selfErr = process.NewProcess(int32(os.Getpid()))
	})
	out := map[string]any{"pid": os.Getpid()}
	if selfErr != nil {
		out["error"] = selfErr.Error()
		return out
	}
	if cpu, err := self.CPUPercent(); err == nil {
		out["cpu_percent"] = cpu
	}
	if mem, err := self.MemoryInfo(); err == nil && mem != nil {
		out["rss_bytes"] = mem.RSS
	}
	if threads, err := self.NumThreads(); err == nil {
		out["threads"] = threads
	}
	return out
}
