package util

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Platform represents the current operating system.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
	PlatformDarwin  Platform = "darwin"
	PlatformUnknown Platform = "unknown"
)

// GetPlatform returns the current platform.
func GetPlatform() Platform {
	switch runtime.GOOS {
	case "windows":
		return PlatformWindows
	case "linux":
		return PlatformLinux
	case "darwin":
		return PlatformDarwin
	default:
		return PlatformUnknown
	}
}

// SystemInfo holds information about the host system.
type SystemInfo struct {
	Platform     Platform `json:"platform"`
	Hostname     string   `json:"hostname"`
	OS           string   `json:"os"`
	Architecture string   `json:"architecture"`
	CPUModel     string   `json:"cpu_model"`
	CPUCores     int      `json:"cpu_cores"`
	TotalMemory  uint64   `json:"total_memory_mb"`
}

// GetSystemInfo gathers system information for the health endpoint, the CLI
// sysinfo command, and telemetry metadata.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		Platform:     GetPlatform(),
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	if hostInfo, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
	}

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024)
	}

	return info
}

// MemoryUsage holds current system memory usage.
type MemoryUsage struct {
	Total       uint64  `json:"total_mb"`
	Used        uint64  `json:"used_mb"`
	Available   uint64  `json:"available_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// GetMemoryUsage returns current system memory usage.
func GetMemoryUsage() (*MemoryUsage, error) {
	memInfo, err := mem.VirtualMemory()
	if err != nil {
		return nil, err
	}

	return &MemoryUsage{
		Total:       memInfo.Total / (1024 * 1024),
		Used:        memInfo.Used / (1024 * 1024),
		Available:   memInfo.Available / (1024 * 1024),
		UsedPercent: memInfo.UsedPercent,
	}, nil
}

// GetCPUUsage returns the current CPU usage percentage.
func GetCPUUsage() (float64, error) {
	percentages, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percentages) > 0 {
		return percentages[0], nil
	}
	return 0, nil
}
