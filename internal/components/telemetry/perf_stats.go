package telemetry

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const report_perf_stats = "perf-stats"

// InstrumentPerfStats registers process gauges that are sampled whenever the
// meter provider collects. The registration is dropped once ctx is done.
func InstrumentPerfStats(ctx context.Context, tel API) {
	meter := otel.Meter("portalbridge.perf_stats")
	cpuUsage, err1 := meter.Float64ObservableGauge("portalbridge.process.cpu", metric.WithUnit("%"))
	heap, err2 := meter.Int64ObservableGauge("portalbridge.process.heap", metric.WithUnit("By"))
	goroutines, err3 := meter.Int64ObservableGauge("portalbridge.process.goroutines")
	for _, err := range []error{err1, err2, err3} {
		if err != nil {
			tel.ReportWarning(report_perf_stats, err)
			return
		}
	}

	reg, err := meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		// interval 0 compares against the previous call
		percent, err := cpu.PercentWithContext(ctx, 0, false)
		if err != nil {
			tel.ReportWarning(report_perf_stats, err)
		} else if len(percent) > 0 {
			o.ObserveFloat64(cpuUsage, percent[0])
		}

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		o.ObserveInt64(heap, int64(mem.HeapAlloc))
		o.ObserveInt64(goroutines, int64(runtime.NumGoroutine()))
		return nil
	}, cpuUsage, heap, goroutines)
	if err != nil {
		tel.ReportWarning(report_perf_stats, err)
		return
	}

	go func() {
		<-ctx.Done()
		err := reg.Unregister()
		if err != nil {
			tel.ReportWarning(report_perf_stats, err)
		}
	}()
}
