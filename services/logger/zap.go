package logsvc

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/trezcool/tahadhari/core"
)

// NewZap builds the process logger: human readable in debug, JSON otherwise.
func NewZap(conf *core.Config) (*zap.Logger, error) {
	if conf.Debug {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.InitialFields = map[string]interface{}{"app": conf.AppName, "env": conf.Env}
	return zc.Build()
}

// Fields converts core.Logger args into zap fields.
func Fields(args []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case nil:
		case error:
			fields = append(fields, zap.Error(v))
		case map[string]interface{}:
			for k, val := range v {
				fields = append(fields, zap.Any(k, val))
			}
		case core.Identity:
			fields = append(fields, zap.Int("user_id", v.UserID), zap.String("role", v.Role))
		default:
			fields = append(fields, zap.Any(fmt.Sprintf("arg%d", i), v))
		}
	}
	return fields
}

// ZapLogger is a core.Logger without error reporting, used by CLIs and tests.
type ZapLogger struct {
	zl *zap.Logger
}

var _ core.Logger = (*ZapLogger)(nil)

func NewZapLogger(zl *zap.Logger) *ZapLogger {
	return &ZapLogger{zl: zl.WithOptions(zap.AddCallerSkip(1))}
}

// NewNopLogger discards everything.
func NewNopLogger() *ZapLogger { return &ZapLogger{zl: zap.NewNop()} }

func (l ZapLogger) Zap() *zap.Logger { return l.zl }

func (l ZapLogger) Debug(msg string, args ...interface{}) { l.zl.Debug(msg, Fields(args)...) }
func (l ZapLogger) Info(msg string, args ...interface{}) { l.zl.Info(msg, Fields(args)...) }
func (l ZapLogger) Warn(msg string, args ...interface{}) { l.zl.Warn(msg, Fields(args)...) }
func (l ZapLogger) Error(msg string, args ...interface{}) { l.zl.Error(msg, Fields(args)...) }
func (l ZapLogger) Fatal(msg string, args ...interface{}) { l.zl.Fatal(msg, Fields(args)...) }
