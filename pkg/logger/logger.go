package logger

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/log"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"corpusd/config"
	"corpusd/pkg/telemetry"
)

type LoggerParams struct {
	fx.In
	Lc        fx.Lifecycle
	AppConfig *config.AppConfig
	Telemetry telemetry.Telemetry `optional:"true"`
}

func NewLogger(p LoggerParams) *zap.Logger {
	loggerCtx, cancel := context.WithCancel(context.Background())
	p.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})

	level := zapcore.InfoLevel
	switch strings.ToLower(p.AppConfig.LogLevel) {
	case "debug":
		level = zapcore.DebugLevel
	case "warn", "warning":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	var cfg zap.Config
	if level > zapcore.InfoLevel {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	if p.Telemetry == nil || p.Telemetry.GetLogger() == nil {
		lg, err := cfg.Build()
		if err != nil {
			// log failed to build, return a default one
			return zap.NewExample()
		}
		return lg
	}

	lg, err := cfg.Build(
		zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return &mirrorCore{Core: core, sink: p.Telemetry.GetLogger(), ctx: loggerCtx}
		}),
		zap.AddCaller(),
	)
	if err != nil {
		return zap.NewExample()
	}
	return lg
}

// mirrorCore decorates a zapcore.Core so every entry is also emitted as an
// OpenTelemetry log record.
type mirrorCore struct {
	zapcore.Core
	sink log.Logger
	ctx  context.Context
}

func (m *mirrorCore) With(fields []zapcore.Field) zapcore.Core {
	return &mirrorCore{Core: m.Core.With(fields), sink: m.sink, ctx: m.ctx}
}

// Check registers this core, not the inner one, so Write sees every entry.
func (m *mirrorCore) Check(ent zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if m.Enabled(ent.Level) {
		return checked.AddCore(ent, m)
	}
	return checked
}

func (m *mirrorCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if err := m.Core.Write(ent, fields); err != nil {
		return err
	}

	rec := log.Record{}
	rec.SetTimestamp(ent.Time)
	rec.SetBody(log.StringValue(ent.Message))
	rec.SetSeverityText(ent.Level.String())
	for _, f := range fields {
		rec.AddAttributes(log.KeyValue{Key: f.Key, Value: fieldValue(f)})
	}

	m.sink.Emit(m.ctx, rec)
	return nil
}

func fieldValue(f zapcore.Field) log.Value {
	switch f.Type {
	case zapcore.BoolType:
		return log.BoolValue(f.Integer != 0)
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type,
		zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type:
		return log.Int64Value(f.Integer)
	case zapcore.Float64Type:
		if v, ok := f.Interface.(float64); ok {
			return log.Float64Value(v)
		}
	case zapcore.StringType:
		return log.StringValue(f.String)
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok {
			return log.StringValue(err.Error())
		}
	}
	return log.StringValue(fmt.Sprint(f.Interface))
}
