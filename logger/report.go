package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net" //cloudwatch

	"github.com/aws/aws-sdk-go-v2/aws"                              //cloudwatch
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types" //cloudwatch
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsFeed     int64
	errorsPipeline int64
	warnsFeed      int64
	warnsPipeline  int64
	framesRead     int64
	updatesApplied int64
	gapsDetected   int64
	resyncRequests int64
	estimatesOK    int64
	estimatesErr   int64
	s3Writes       int64
	channels       sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "feed") || strings.Contains(component, "reader") {
		atomic.AddInt64(&warnsFeed, 1)
	} else {
		atomic.AddInt64(&warnsPipeline, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "feed") || strings.Contains(component, "reader") {
		atomic.AddInt64(&errorsFeed, 1)
	} else {
		atomic.AddInt64(&errorsPipeline, 1)
	}
}

// IncrementFrameRead counts one inbound feed frame of the given size.
func IncrementFrameRead(size int) {
	atomic.AddInt64(&framesRead, 1)
	recordChannel("feed_ws", size)
}

// IncrementUpdateApplied counts one book update accepted by the keeper.
func IncrementUpdateApplied() {
	atomic.AddInt64(&updatesApplied, 1)
}

// IncrementGap counts one detected sequence gap.
func IncrementGap() {
	atomic.AddInt64(&gapsDetected, 1)
}

// IncrementResync counts one snapshot re-request signalled upstream.
func IncrementResync() {
	atomic.AddInt64(&resyncRequests, 1)
}

// IncrementEstimate counts one estimate request by outcome.
func IncrementEstimate(ok bool) {
	if ok {
		atomic.AddInt64(&estimatesOK, 1)
	} else {
		atomic.AddInt64(&estimatesErr, 1)
	}
}

// IncrementS3Write counts one uploaded capture object of the given size.
func IncrementS3Write(size int64) {
	atomic.AddInt64(&s3Writes, 1)
	recordChannel("s3_capture_write", int(size))
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and channel statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_feed":     atomic.LoadInt64(&errorsFeed),
		"errors_pipeline": atomic.LoadInt64(&errorsPipeline),
		"warns_feed":      atomic.LoadInt64(&warnsFeed),
		"warns_pipeline":  atomic.LoadInt64(&warnsPipeline),
		"frames_read":     atomic.LoadInt64(&framesRead),
		"updates_applied": atomic.LoadInt64(&updatesApplied),
		"gaps_detected":   atomic.LoadInt64(&gapsDetected),
		"resync_requests": atomic.LoadInt64(&resyncRequests),
		"estimates_ok":    atomic.LoadInt64(&estimatesOK),
		"estimates_err":   atomic.LoadInt64(&estimatesErr),
		"s3_writes":       atomic.LoadInt64(&s3Writes),
		"goroutines":      runtime.NumGoroutine(),
		"cpu_percent":     cpuPct,
		"memory_mb":       int64(memStats.Used) / 1024 / 1024,
		"disk_mb":         int64(diskStats.Used) / 1024 / 1024,
		"channels":        channelData,
		"net_bytes_sent":  int64(bytesSent),
		"net_bytes_recv":  int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("Trade-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("Trade-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Trade-DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Trade-ErrorsFeed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_feed"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Trade-ErrorsPipeline"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_pipeline"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Trade-WarnsFeed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_feed"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Trade-WarnsPipeline"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_pipeline"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Trade-FramesRead"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["frames_read"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Trade-UpdatesApplied"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["updates_applied"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Trade-GapsDetected"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["gaps_detected"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Trade-ResyncRequests"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["resync_requests"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Trade-EstimatesOK"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["estimates_ok"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Trade-EstimatesErr"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["estimates_err"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Trade-S3Writes"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["s3_writes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Trade-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("Trade-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("Trade-ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("Trade-ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
