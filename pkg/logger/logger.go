package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config настройки логирования
type Config struct {
	Level    string `yaml:"level"`
	File     string `yaml:"file"`
	JSONFile string `yaml:"json_file"`
	Console  bool   `yaml:"console"`
	// Truncate очищает JSON-лог при старте
	Truncate bool `yaml:"truncate"`
}

// Глобальный экземпляр логгера
var (
	globalLogger *zap.Logger
	mu           sync.RWMutex
)

// Init инициализирует глобальный логгер
func Init(cfg Config) error {
	l, err := newLogger(cfg)
	if err != nil {
		return err
	}

	mu.Lock()
	globalLogger = l
	mu.Unlock()
	return nil
}

// GetLogger возвращает глобальный экземпляр логгера.
// До вызова Init возвращается no-op логгер.
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if globalLogger == nil {
		return zap.NewNop()
	}
	return globalLogger
}

// Sync сбрасывает буферы
func Sync() {
	_ = GetLogger().Sync()
}

// Вспомогательные функции для удобства использования
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, fields...)
}

// newLogger создает новый экземпляр логгера по конфигурации
func newLogger(cfg Config) (*zap.Logger, error) {
	level := zapcore.DebugLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, fmt.Errorf("неизвестный уровень логирования %q: %w", cfg.Level, err)
		}
	}

	// Конфигурация энкодера
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("02.01.2006 - 15:04:05.000000000Z07:00")
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	colorConfig := encoderConfig
	colorConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	var cores []zapcore.Core

	if cfg.Console {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(colorConfig), zapcore.AddSync(os.Stdout), level))
	}

	if cfg.File != "" {
		if err := ensureDir(cfg.File); err != nil {
			return nil, err
		}
		readableFile, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("ошибка открытия файла лога: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(colorConfig), zapcore.AddSync(readableFile), level))
	}

	if cfg.JSONFile != "" {
		flags := os.O_APPEND | os.O_CREATE | os.O_WRONLY
		// Очистка логов при перезапуске
		if cfg.Truncate {
			flags = os.O_TRUNC | os.O_CREATE | os.O_WRONLY
		}
		if err := ensureDir(cfg.JSONFile); err != nil {
			return nil, err
		}
		jsonFile, err := os.OpenFile(cfg.JSONFile, flags, 0644)
		if err != nil {
			return nil, fmt.Errorf("ошибка открытия JSON-лога: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(jsonFile), level))
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)), nil
}

// ensureDir создает каталог файла лога
func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ошибка создания каталога логов: %w", err)
	}
	return nil
}
