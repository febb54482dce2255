package store

import (
	"context"
	"errors"
	"time"

	"github.com/kart-io/logger"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kart-io/docask/pkg/infra/tracing"
)

// sqlLogger 将 gorm 日志写入全局 logger。
// 记录不存在由 DocumentStore 转换为 ErrDocumentNotFound，不作为错误记录。
type sqlLogger struct {
	level gormlogger.LogLevel
	slow  time.Duration
}

func newSQLLogger(level gormlogger.LogLevel, slow time.Duration) *sqlLogger {
	return &sqlLogger{level: level, slow: slow}
}

func (l *sqlLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &sqlLogger{level: level, slow: l.slow}
}

func (l *sqlLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		logger.Global().WithCtx(ctx).Infof(msg, data...)
	}
}

func (l *sqlLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		logger.Global().WithCtx(ctx).Warnf(msg, data...)
	}
}

func (l *sqlLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		logger.Global().WithCtx(ctx).Errorf(msg, data...)
	}
}

// Trace 失败的语句记为 error，慢查询记为 warn，Info 级别下其余语句记为 debug。
func (l *sqlLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := l.slow > 0 && elapsed > l.slow

	var log func(msg string, keysAndValues ...any)
	switch {
	case failed && l.level >= gormlogger.Error:
		log = logger.Global().WithCtx(ctx).Errorw
	case slow && l.level >= gormlogger.Warn:
		log = logger.Global().WithCtx(ctx).Warnw
	case l.level >= gormlogger.Info:
		log = logger.Global().WithCtx(ctx).Debugw
	default:
		return
	}

	sql, rows := fc()
	fields := []any{"sql", sql, "rows", rows, "elapsed", elapsed.String()}
	if failed {
		fields = append(fields, "error", err.Error())
	}
	if slow {
		fields = append(fields, "slow_threshold", l.slow.String())
	}
	if traceID := tracing.TraceIDFromContext(ctx); traceID != "" {
		fields = append(fields, "trace_id", traceID)
	}
	log("document store query", fields...)
}

var _ gormlogger.Interface = (*sqlLogger)(nil)
