package job_runner

import (
	"time"

	"go.uber.org/zap"
)

type Logger interface {
	Debug(msg string, args ...Field)
	Info(msg string, args ...Field)
	Warn(msg string, args ...Field)
	Error(msg string, args ...Field)
}

// Field 日志字段，Val保留原始类型，由具体的Logger决定编码方式
type Field struct {
	Key string
	Val any
}

func Int64Field(key string, val int64) Field {
	return Field{Key: key, Val: val}
}

func StringField(key, val string) Field {
	return Field{Key: key, Val: val}
}

func StringsField(key string, val []string) Field {
	return Field{Key: key, Val: val}
}

func BoolField(key string, val bool) Field {
	return Field{Key: key, Val: val}
}

func TimeField(key string, val time.Time) Field {
	return Field{Key: key, Val: val}
}

// ErrField 错误统一使用err作为键，err为nil时值为空
func ErrField(err error) Field {
	return Field{Key: "err", Val: err}
}

type ZapLogger struct {
	zap *zap.Logger
}

func NewZapLogger(zap *zap.Logger) Logger {
	return &ZapLogger{zap: zap}
}

// NewNopLogger 丢弃所有日志，测试中使用
func NewNopLogger() Logger {
	return &ZapLogger{zap: zap.NewNop()}
}

func (z *ZapLogger) Debug(msg string, args ...Field) {
	z.zap.Debug(msg, z.toZapFields(args)...)
}

func (z *ZapLogger) Info(msg string, args ...Field) {
	z.zap.Info(msg, z.toZapFields(args)...)
}

func (z *ZapLogger) Warn(msg string, args ...Field) {
	z.zap.Warn(msg, z.toZapFields(args)...)
}

func (z *ZapLogger) Error(msg string, args ...Field) {
	z.zap.Error(msg, z.toZapFields(args)...)
}

func (z *ZapLogger) toZapFields(args []Field) []zap.Field {
	res := make([]zap.Field, 0, len(args))
	for _, arg := range args {
		switch v := arg.Val.(type) {
		case error:
			res = append(res, zap.NamedError(arg.Key, v))
		case nil:
			res = append(res, zap.String(arg.Key, ""))
		case int64:
			res = append(res, zap.Int64(arg.Key, v))
		case string:
			res = append(res, zap.String(arg.Key, v))
		case []string:
			res = append(res, zap.Strings(arg.Key, v))
		case bool:
			res = append(res, zap.Bool(arg.Key, v))
		case time.Time:
			res = append(res, zap.Time(arg.Key, v))
		default:
			res = append(res, zap.Any(arg.Key, v))
		}
	}
	return res
}
