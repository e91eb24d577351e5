package metrics

import (
	"context"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemMetric 进程/主机资源快照，由 /healthz 输出。
type SystemMetric struct {
	CPULoad        float64 `json:"cpuLoad"`
	CPUProcessors  int     `json:"cpuProcessors"`
	Goroutines     int     `json:"goroutines"`
	DiskTotalGB    float64 `json:"diskTotal"`
	DiskUsedGB     float64 `json:"diskUsed"`
	DiskUsageRatio float64 `json:"diskUsage"`
	HostMemoryGB   float64 `json:"hostMemory"`
	ProcUsedMemory float64 `json:"procUsedMemory"`
	ProcMemUsage   float64 `json:"procMemoryUsage"`
	Score          float64 `json:"score"`
}

// CollectSystemMetric 采集系统/进程指标；单项采集失败时该项保持零值。
// SSE 连接以定时器驱动，goroutine 数可用于发现定时器/连接泄漏。
func CollectSystemMetric(ctx context.Context) SystemMetric {
	var out SystemMetric
	if avg, err := load.AvgWithContext(ctx); err == nil {
		out.CPULoad = avg.Load1
	}
	out.CPUProcessors = runtime.NumCPU()
	out.Goroutines = runtime.NumGoroutine()
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil && du.Total > 0 {
		out.DiskTotalGB = float64(du.Total) / (1024 * 1024 * 1024)
		out.DiskUsedGB = float64(du.Used) / (1024 * 1024 * 1024)
		out.DiskUsageRatio = du.UsedPercent / 100.0
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm.Total > 0 {
		out.HostMemoryGB = float64(vm.Total) / (1024 * 1024 * 1024)
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if pm, err := p.MemoryInfoWithContext(ctx); err == nil && pm != nil {
			usedGB := float64(pm.RSS) / (1024 * 1024 * 1024)
			out.ProcUsedMemory = usedGB
			if out.HostMemoryGB > 0 {
				out.ProcMemUsage = usedGB / out.HostMemoryGB
			}
		}
	}
	score := 100.0
	if out.CPULoad > 0 {
		score -= out.CPULoad * 5
	}
	if out.DiskUsageRatio > 0 {
		score -= out.DiskUsageRatio * 20
	}
	if out.ProcMemUsage > 0 {
		score -= out.ProcMemUsage * 30
	}
	if score < 0 {
		score = 0
	}
	out.Score = score
	return out
}
