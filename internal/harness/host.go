package harness

import (
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostInfo describes the machine a run was timed on.
type HostInfo struct {
	OS          string `json:"os"`
	Arch        string `json:"arch"`
	GoMaxProcs  int    `json:"gomaxprocs"`
	LogicalCPUs int    `json:"logical_cpus,omitempty"`
	CPUModel    string `json:"cpu_model,omitempty"`
	TotalMemory uint64 `json:"total_memory,omitempty"`
}

var (
	hostOnce sync.Once
	hostInfo HostInfo
)

// Host returns information about the current machine. It is gathered once;
// fields the platform cannot report are left empty.
func Host() HostInfo {
	hostOnce.Do(func() {
		hostInfo = HostInfo{
			OS:         runtime.GOOS,
			Arch:       runtime.GOARCH,
			GoMaxProcs: runtime.GOMAXPROCS(0),
		}
		if n, err := cpu.Counts(true); err == nil {
			hostInfo.LogicalCPUs = n
		}
		if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
			hostInfo.CPUModel = infos[0].ModelName
		}
		if vm, err := mem.VirtualMemory(); err == nil {
			hostInfo.TotalMemory = vm.Total
		}
	})
	return hostInfo
}
