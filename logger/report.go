package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
)

type flowStat struct {
	messages int64
	bytes    int64
}

var (
	warnCount      int64
	errorCount     int64
	ticksAccepted  int64
	ticksRejected  int64
	reconnects     int64
	snapshotSaves  int64
	snapshotFailed int64
	marketRequests int64
	flows          sync.Map // map[string]*flowStat
)

func recordWarn()  { atomic.AddInt64(&warnCount, 1) }
func recordError() { atomic.AddInt64(&errorCount, 1) }

// IncrementTick counts one inbound tick frame of size bytes.
func IncrementTick(accepted bool, size int) {
	if accepted {
		atomic.AddInt64(&ticksAccepted, 1)
	} else {
		atomic.AddInt64(&ticksRejected, 1)
	}
	RecordFlow("ticks", size)
}

func IncrementReconnect() {
	atomic.AddInt64(&reconnects, 1)
}

func IncrementSnapshotSave(ok bool, size int) {
	if !ok {
		atomic.AddInt64(&snapshotFailed, 1)
		return
	}
	atomic.AddInt64(&snapshotSaves, 1)
	RecordFlow("snapshot_write", size)
}

func IncrementMarketRequest(size int) {
	atomic.AddInt64(&marketRequests, 1)
	RecordFlow("market_rest", size)
}

// RecordFlow tallies messages and bytes moving through a named path.
func RecordFlow(name string, size int) {
	v, _ := flows.LoadOrStore(name, &flowStat{})
	fs := v.(*flowStat)
	atomic.AddInt64(&fs.messages, 1)
	atomic.AddInt64(&fs.bytes, int64(size))
}

// Counters returns the running totals kept by this package.
func Counters() map[string]int64 {
	return map[string]int64{
		"warnings":        atomic.LoadInt64(&warnCount),
		"errors":          atomic.LoadInt64(&errorCount),
		"ticks_accepted":  atomic.LoadInt64(&ticksAccepted),
		"ticks_rejected":  atomic.LoadInt64(&ticksRejected),
		"reconnects":      atomic.LoadInt64(&reconnects),
		"snapshot_saves":  atomic.LoadInt64(&snapshotSaves),
		"snapshot_failed": atomic.LoadInt64(&snapshotFailed),
		"market_requests": atomic.LoadInt64(&marketRequests),
	}
}

// StartReport logs system and flow statistics every interval until ctx ends.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	var memUsed, diskUsed uint64
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		memUsed = vm.Used
	}
	if du, err := disk.Usage("/"); err == nil && du != nil {
		diskUsed = du.Used
	}

	var bytesSent, bytesRecv uint64
	if netStats, err := gnet.IOCounters(false); err == nil && len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	flowData := map[string]map[string]int64{}
	flows.Range(func(k, v any) bool {
		fs := v.(*flowStat)
		flowData[k.(string)] = map[string]int64{
			"messages": atomic.LoadInt64(&fs.messages),
			"bytes":    atomic.LoadInt64(&fs.bytes),
		}
		return true
	})

	counters := Counters()
	fields := Fields{
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memUsed) / 1024 / 1024,
		"disk_mb":        int64(diskUsed) / 1024 / 1024,
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
		"flows":          flowData,
	}
	for k, v := range counters {
		fields[k] = v
	}
	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memUsed) / 1024 / 1024)},
		{MetricName: aws.String("DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskUsed) / 1024 / 1024)},
		{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	}
	for name, v := range counters {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String("Counter"),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{{Name: aws.String("Name"), Value: aws.String(name)}},
			Value:      aws.Float64(float64(v)),
		})
	}

	publishMetrics(ctx, data)
}
