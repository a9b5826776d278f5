package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

const bytesPerMB = 1024 * 1024

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	version   string
	outputDir string
	startTime time.Time
}

// NewHealthHandler creates a new health handler. outputDir is the segment
// directory whose free space is reported.
func NewHealthHandler(version, outputDir string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		outputDir: outputDir,
		startTime: time.Now(),
	}
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status        string     `json:"status"`
	Timestamp     string     `json:"timestamp"`
	Version       string     `json:"version"`
	Uptime        string     `json:"uptime"`
	UptimeSeconds float64    `json:"uptime_seconds"`
	CPUInfo       CPUInfo    `json:"cpu_info"`
	Memory        MemoryInfo `json:"memory"`
	Output        DiskInfo   `json:"output"`
}

// CPUInfo contains CPU count and load averages.
type CPUInfo struct {
	Cores     int     `json:"cores"`
	Load1Min  float64 `json:"load_1min"`
	Load5Min  float64 `json:"load_5min"`
	Load15Min float64 `json:"load_15min"`
}

// MemoryInfo contains system and process memory usage.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessRSSMB      float64 `json:"process_rss_mb"`
}

// DiskInfo describes the filesystem holding the output directory.
type DiskInfo struct {
	Path        string  `json:"path"`
	FreeMB      float64 `json:"free_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns process health including memory and output disk usage",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the process.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	return &HealthOutput{
		Body: HealthResponse{
			Status:        "healthy",
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			CPUInfo:       h.getCPUInfo(ctx),
			Memory:        h.getMemoryInfo(ctx),
			Output:        h.getDiskInfo(ctx),
		},
	}, nil
}

func (h *HealthHandler) getCPUInfo(ctx context.Context) CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}
	if loadAvg, err := load.AvgWithContext(ctx); err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
	}
	return info
}

func (h *HealthHandler) getMemoryInfo(ctx context.Context) MemoryInfo {
	info := MemoryInfo{}
	if vmStat, err := mem.VirtualMemoryWithContext(ctx); err == nil && vmStat != nil {
		info.TotalMemoryMB = float64(vmStat.Total) / bytesPerMB
		info.AvailableMemoryMB = float64(vmStat.Available) / bytesPerMB
	}

	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return info
	}
	if memInfo, err := proc.MemoryInfoWithContext(ctx); err == nil && memInfo != nil {
		info.ProcessRSSMB = float64(memInfo.RSS) / bytesPerMB
	}
	return info
}

func (h *HealthHandler) getDiskInfo(ctx context.Context) DiskInfo {
	info := DiskInfo{Path: h.outputDir}
	if h.outputDir == "" {
		return info
	}
	if usage, err := disk.UsageWithContext(ctx, h.outputDir); err == nil && usage != nil {
		info.FreeMB = float64(usage.Free) / bytesPerMB
		info.UsedPercent = usage.UsedPercent
	}
	return info
}
