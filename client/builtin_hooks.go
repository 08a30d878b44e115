package client

import (
	"context"
	"sync/atomic"
)

// LoggingHook logs session operations.
type LoggingHook struct {
	logger       Logger
	logDurations bool
}

// NewLoggingHook creates a new logging hook with the given logger.
func NewLoggingHook(logger Logger, logDurations bool) *LoggingHook {
	return &LoggingHook{logger: logger, logDurations: logDurations}
}

func (h *LoggingHook) Name() string {
	return "logging"
}

func (h *LoggingHook) Before(ctx context.Context, hookCtx *HookContext) error {
	h.logger.Debug("bulk copy operation starting",
		String("operation", hookCtx.Operation),
		String("table", hookCtx.Table),
		String("session_id", hookCtx.SessionID))
	return nil
}

func (h *LoggingHook) After(ctx context.Context, hookCtx *HookContext) error {
	fields := []LogField{
		String("operation", hookCtx.Operation),
		String("table", hookCtx.Table),
		String("session_id", hookCtx.SessionID),
		Int64("rows", hookCtx.Rows),
	}

	if h.logDurations {
		fields = append(fields, Duration("duration", hookCtx.Duration))
	}

	if hookCtx.Error != nil {
		fields = append(fields, Error("error", hookCtx.Error))
		h.logger.Error("bulk copy operation failed", fields...)
	} else {
		h.logger.Info("bulk copy operation completed", fields...)
	}
	return nil
}

// MetricsHook counts session operations using atomic counters.
type MetricsHook struct {
	Sessions        atomic.Uint64
	Batches         atomic.Uint64
	RowsCommitted   atomic.Uint64
	TotalErrors     atomic.Uint64
	TotalDurationNs atomic.Uint64
}

// NewMetricsHook creates a new metrics collection hook.
func NewMetricsHook() *MetricsHook {
	return &MetricsHook{}
}

func (h *MetricsHook) Name() string {
	return "metrics"
}

func (h *MetricsHook) Before(ctx context.Context, hookCtx *HookContext) error {
	return nil
}

func (h *MetricsHook) After(ctx context.Context, hookCtx *HookContext) error {
	h.TotalDurationNs.Add(uint64(hookCtx.Duration.Nanoseconds()))
	if hookCtx.Error != nil {
		h.TotalErrors.Add(1)
		return nil
	}

	switch hookCtx.Operation {
	case OpInit:
		h.Sessions.Add(1)
	case OpBatch:
		h.Batches.Add(1)
	case OpDone:
		h.RowsCommitted.Add(uint64(hookCtx.Rows))
	}
	return nil
}

// GetStats returns current metrics as a map.
func (h *MetricsHook) GetStats() map[string]interface{} {
	totalDur := h.TotalDurationNs.Load()
	return map[string]interface{}{
		"sessions":          h.Sessions.Load(),
		"batches":           h.Batches.Load(),
		"rows_committed":    h.RowsCommitted.Load(),
		"total_errors":      h.TotalErrors.Load(),
		"total_duration_ns": totalDur,
		"total_duration_ms": float64(totalDur) / 1_000_000,
	}
}

// Reset clears all metrics.
func (h *MetricsHook) Reset() {
	h.Sessions.Store(0)
	h.Batches.Store(0)
	h.RowsCommitted.Store(0)
	h.TotalErrors.Store(0)
	h.TotalDurationNs.Store(0)
}

// ProgressHook reports the running committed row count of a session after
// every successful batch commit and at Done.
type ProgressHook struct {
	report    func(table string, committed int64, final bool)
	committed atomic.Int64
}

// NewProgressHook calls report with the rows committed so far.
func NewProgressHook(report func(table string, committed int64, final bool)) *ProgressHook {
	return &ProgressHook{report: report}
}

func (h *ProgressHook) Name() string {
	return "progress"
}

func (h *ProgressHook) Before(ctx context.Context, hookCtx *HookContext) error {
	if hookCtx.Operation == OpInit {
		h.committed.Store(0)
	}
	return nil
}

func (h *ProgressHook) After(ctx context.Context, hookCtx *HookContext) error {
	if hookCtx.Error != nil {
		return nil
	}
	switch hookCtx.Operation {
	case OpBatch:
		h.report(hookCtx.Table, h.committed.Add(hookCtx.Rows), false)
	case OpDone:
		h.committed.Store(hookCtx.Rows)
		h.report(hookCtx.Table, hookCtx.Rows, true)
	}
	return nil
}
