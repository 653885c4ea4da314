// Package sysstats reports host resource usage for the admin dashboard.
package sysstats

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

type Stats struct {
	CPU       CPUStats    `json:"cpu"`
	Memory    MemoryStats `json:"memory"`
	Disk      []DiskStats `json:"disk"`
	Host      HostInfo    `json:"host"`
	Timestamp time.Time   `json:"timestamp"`
	Uptime    string      `json:"uptime"`
}

type CPUStats struct {
	UsagePercent float64 `json:"usage_percent"`
	Cores        int     `json:"cores"`
}

type MemoryStats struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

type DiskStats struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

type HostInfo struct {
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	Architecture    string `json:"architecture"`
}

// CPUSample is how long Collect measures CPU usage.
const CPUSample = 200 * time.Millisecond

var startTime = time.Now()

// Collect gathers a snapshot. Probes that fail leave their section zeroed;
// the host section falls back to the runtime's view.
func Collect(ctx context.Context, paths []string) *Stats {
	stats := &Stats{
		Timestamp: time.Now(),
		Uptime:    FormatUptime(time.Since(startTime)),
		Disk:      []DiskStats{},
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		stats.Host = HostInfo{
			OS:              info.OS,
			Platform:        info.Platform,
			PlatformVersion: info.PlatformVersion,
			Architecture:    info.KernelArch,
		}
	} else {
		stats.Host = HostInfo{OS: runtime.GOOS, Architecture: runtime.GOARCH}
	}

	stats.CPU.Cores = runtime.NumCPU()
	if pct, err := cpu.PercentWithContext(ctx, CPUSample, false); err == nil && len(pct) > 0 {
		stats.CPU.UsagePercent = pct[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.Memory = MemoryStats{
			Total:       vm.Total,
			Used:        vm.Used,
			Free:        vm.Available,
			UsedPercent: vm.UsedPercent,
		}
	}

	for _, path := range paths {
		usage, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			continue
		}
		stats.Disk = append(stats.Disk, DiskStats{
			Path:        path,
			Total:       usage.Total,
			Used:        usage.Used,
			Free:        usage.Free,
			UsedPercent: usage.UsedPercent,
		})
	}
	return stats
}

// FormatUptime renders d as "1d 2h 3m 4s", dropping leading zero units.
func FormatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// MonitoredPaths is the root filesystem plus dataDir when it exists.
func MonitoredPaths(dataDir string) []string {
	paths := []string{"/"}
	if dataDir != "" {
		if _, err := os.Stat(dataDir); err == nil {
			paths = append(paths, dataDir)
		}
	}
	return paths
}
