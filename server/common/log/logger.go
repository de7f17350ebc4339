// Package log is the process-wide levelled logger. Messages follow the
// "event=... status=... key=value" convention; records are encoded by zap and
// written to stdout and, when LOG_FILE_PATH is set, to a size-rotated file.
package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultMaxSizeBytes = 20 * 1024 * 1024
	envLogFilePath      = "LOG_FILE_PATH"
	envLogMaxSizeMB     = "LOG_MAX_SIZE_MB"
	envLogFormat        = "LOG_FORMAT"
	envLogLevel         = "LOG_LEVEL"
	logFormatText       = "text"
	logFormatJSON       = "json"
)

type logger struct {
	base  *zap.Logger
	sugar *zap.SugaredLogger
}

var global = newLoggerFromEnv()

func newLoggerFromEnv() *logger {
	format := strings.ToLower(strings.TrimSpace(os.Getenv(envLogFormat)))
	if format != logFormatJSON {
		format = logFormatText
	}
	level := parseLevel(os.Getenv(envLogLevel))

	cores := []zapcore.Core{
		zapcore.NewCore(newEncoder(format, true), zapcore.Lock(os.Stdout), level),
	}
	if path := strings.TrimSpace(os.Getenv(envLogFilePath)); path != "" {
		maxSizeBytes := int64(defaultMaxSizeBytes)
		if raw := strings.TrimSpace(os.Getenv(envLogMaxSizeMB)); raw != "" {
			if sizeMB, err := strconv.Atoi(raw); err == nil && sizeMB > 0 {
				maxSizeBytes = int64(sizeMB) * 1024 * 1024
			}
		}
		file := &rotatingFile{filePath: path, maxSizeBytes: maxSizeBytes}
		cores = append(cores, zapcore.NewCore(newEncoder(format, false), file, level))
	}

	base := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	return &logger{base: base, sugar: base.Sugar()}
}

func newEncoder(format string, color bool) zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if format == logFormatJSON {
		return zapcore.NewJSONEncoder(cfg)
	}
	if color {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.ConsoleSeparator = ":"
	return zapcore.NewConsoleEncoder(cfg)
}

func parseLevel(v string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func Debugf(format string, args ...any) {
	global.sugar.Debugf(format, args...)
}

func Infof(format string, args ...any) {
	global.sugar.Infof(format, args...)
}

func Warnf(format string, args ...any) {
	global.sugar.Warnf(format, args...)
}

func Errorf(format string, args ...any) {
	global.sugar.Errorf(format, args...)
}

// Exceptionf logs at error level with the current stack attached.
func Exceptionf(format string, args ...any) {
	global.base.Error(fmt.Sprintf(format, args...), zap.Stack("stack"))
}

// Sync flushes buffered records; call it before the process exits.
func Sync() {
	_ = global.base.Sync()
}

// Printf adapts the logger to libraries that accept a Printf-style sink.
type Printf struct{}

func (Printf) Printf(format string, args ...any) {
	global.sugar.Infof(format, args...)
}

// rotatingFile is a zapcore.WriteSyncer that renames the file aside once it
// would grow past maxSizeBytes.
type rotatingFile struct {
	mu           sync.Mutex
	filePath     string
	maxSizeBytes int64
	file         *os.File
}

func (l *rotatingFile) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureOpen(); err != nil {
		fmt.Fprintf(os.Stderr, "logger open file error: %v\n", err)
		return 0, err
	}
	if err := l.rotateIfNeeded(int64(len(p))); err != nil {
		fmt.Fprintf(os.Stderr, "logger rotate error: %v\n", err)
		return 0, err
	}
	return l.file.Write(p)
}

func (l *rotatingFile) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Sync()
}

func (l *rotatingFile) ensureOpen() error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.filePath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

func (l *rotatingFile) rotateIfNeeded(incomingSize int64) error {
	stat, err := l.file.Stat()
	if err != nil {
		return err
	}
	if stat.Size()+incomingSize <= l.maxSizeBytes {
		return nil
	}

	if err := l.file.Sync(); err != nil {
		return err
	}
	if err := l.file.Close(); err != nil {
		return err
	}

	rotatedPath, err := nextRotatedPath(l.filePath)
	if err != nil {
		return err
	}
	if err := os.Rename(l.filePath, rotatedPath); err != nil {
		return err
	}

	f, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

func nextRotatedPath(currentPath string) (string, error) {
	dir := filepath.Dir(currentPath)
	ext := filepath.Ext(currentPath)
	base := strings.TrimSuffix(filepath.Base(currentPath), ext)
	ts := time.Now().Format("20060102_150405")

	for index := 1; ; index++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%s_%d%s", base, ts, index, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", err
		}
	}
}
