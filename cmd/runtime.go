package main

import (
	"context"
	"runtime"
	"time"

	service "github.com/Dan-Hightower/hirebot/internal/app"
	"github.com/Dan-Hightower/hirebot/internal/domain/offer"
	"github.com/Dan-Hightower/hirebot/pkg/metrics"
)

const (
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

// runMetricsUpdaters refreshes process and workflow gauges until ctx ends.
func runMetricsUpdaters(ctx context.Context, svc *service.Service) {
	system := time.NewTicker(systemMetricsInterval)
	defer system.Stop()
	workflow := time.NewTicker(serviceMetricsInterval)
	defer workflow.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-system.C:
			updateSystemMetrics()
		case <-workflow.C:
			updateServiceMetrics(svc.GetStats())
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics publishes the gauges GetStats reports. States with
// no offers are reset to zero.
func updateServiceMetrics(stats map[string]interface{}) {
	if queueLen, ok := stats["queueLength"].(int); ok {
		metrics.UpdateQueueSize(queueLen)
	}
	offers, ok := stats["offers"].(map[string]int)
	if !ok {
		return
	}
	for _, st := range offer.States() {
		metrics.UpdateLedgerRecords(string(st), offers[string(st)])
	}
}
