package sampler

import (
	"time"

	"github.com/bitville/postgres-agent/internal/adapters/ports"
	"github.com/bitville/postgres-agent/internal/domain"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

// diskUsagePaths are the fixed paths a PostgreSQL host is expected to
// carry; any path that can't be stat-ed (container without a mounted
// data volume, platform without /var/log/postgresql) is silently
// omitted rather than failing the whole sample.
var diskUsagePaths = []string{"/var/lib/postgresql", "/var/log/postgresql", "/"}

// HostMetrics snapshots CPU, load, memory, swap, disk and network I/O,
// and fixed-path disk usage. Every sub-collector degrades independently:
// a platform lacking load averages reports zeros rather than failing
// the whole sample.
func HostMetrics(logger ports.Logger) domain.Record {
	data := map[string]any{}

	cpuPercents, err := cpu.Percent(1*time.Second, false)
	cpuPercent := 0.0
	if err == nil && len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	} else if err != nil && logger != nil {
		logger.Warn("cpu sample failed", ports.Err(err))
	}

	loadAvg, err := load.Avg()
	load1, load5, load15 := 0.0, 0.0, 0.0
	if err == nil {
		load1, load5, load15 = loadAvg.Load1, loadAvg.Load5, loadAvg.Load15
	}

	data["cpu"] = map[string]any{
		"percent":      cpuPercent,
		"load_avg_1m":  load1,
		"load_avg_5m":  load5,
		"load_avg_15m": load15,
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		data["memory"] = map[string]any{
			"total":     vm.Total,
			"available": vm.Available,
			"used":      vm.Used,
			"percent":   vm.UsedPercent,
		}
	} else {
		data["memory"] = map[string]any{}
		if logger != nil {
			logger.Warn("memory sample failed", ports.Err(err))
		}
	}

	if sw, err := mem.SwapMemory(); err == nil {
		data["swap"] = map[string]any{
			"total":   sw.Total,
			"used":    sw.Used,
			"free":    sw.Free,
			"percent": sw.UsedPercent,
		}
	} else {
		data["swap"] = map[string]any{}
	}

	if ioCounters, err := disk.IOCounters(); err == nil {
		diskIO := map[string]any{}
		for _, c := range ioCounters {
			diskIO["read_count"] = c.ReadCount
			diskIO["write_count"] = c.WriteCount
			diskIO["read_bytes"] = c.ReadBytes
			diskIO["write_bytes"] = c.WriteBytes
			diskIO["read_time_ms"] = c.ReadTime
			diskIO["write_time_ms"] = c.WriteTime
			break
		}
		data["disk_io"] = diskIO
	} else {
		data["disk_io"] = map[string]any{}
	}

	if netCounters, err := net.IOCounters(false); err == nil && len(netCounters) > 0 {
		n := netCounters[0]
		data["network_io"] = map[string]any{
			"bytes_sent":   n.BytesSent,
			"bytes_recv":   n.BytesRecv,
			"packets_sent": n.PacketsSent,
			"packets_recv": n.PacketsRecv,
			"errin":        n.Errin,
			"errout":       n.Errout,
			"dropin":       n.Dropin,
			"dropout":      n.Dropout,
		}
	} else {
		data["network_io"] = map[string]any{}
	}

	diskUsage := map[string]any{}
	for _, path := range diskUsagePaths {
		usage, err := disk.Usage(path)
		if err != nil {
			continue
		}
		diskUsage[path] = map[string]any{
			"total":   usage.Total,
			"used":    usage.Used,
			"free":    usage.Free,
			"percent": usage.UsedPercent,
		}
	}
	data["disk_usage"] = diskUsage

	return domain.Record{Source: domain.SourceSystemMetrics, Data: data}
}
