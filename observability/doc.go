// Package observability exports OpenTelemetry metrics for autoflow runs.
//
//	mp, err := observability.InitMeter(ctx, cfg, log)
//	defer mp.Shutdown(ctx)
//	metrics, err := observability.NewMetrics(observability.Meter("autoflow"))
//	metrics.RecordTaskRun(ctx, "workflow", "success", elapsed)
//
// A nil *Metrics accepts every Record call and does nothing.
package observability
