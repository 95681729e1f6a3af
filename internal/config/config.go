package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/skalibog/confluence/pkg/logger"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Trading   TradingConfig   `yaml:"trading"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Grading   GradingConfig   `yaml:"grading"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	State     StateConfig     `yaml:"state"`
	Storage   StorageConfig   `yaml:"storage"`
	Server    ServerConfig    `yaml:"server"`
	UI        UIConfig        `yaml:"ui"`
	Log       logger.Config   `yaml:"log"`
	Display   DisplayConfig   `yaml:"display"`
}

// ExchangeConfig содержит настройки источника свечей
type ExchangeConfig struct {
	// Provider binance | kucoin | influxdb | synthetic
	Provider  string `yaml:"provider"`
	// Market spot | futures (только для binance)
	Market    string        `yaml:"market"`
	APIKey    string        `yaml:"api_key"`
	APISecret string        `yaml:"api_secret"`
	Testnet   bool          `yaml:"testnet"`
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	// FallbackSynthetic подставляет случайное блуждание при недоступности биржи
	FallbackSynthetic bool `yaml:"fallback_synthetic"`
}

// TradingConfig содержит список инструментов и параметры свечей
type TradingConfig struct {
	Symbols    []string `yaml:"symbols"`
	Interval   string   `yaml:"interval"`
	WindowSize int      `yaml:"window_size"`
}

// AnalysisConfig содержит настройки стратегии конфлюенции
type AnalysisConfig struct {
	MaxWorkers int     `yaml:"max_workers"`
	MinScore   float64 `yaml:"min_score"`
	// MomentumMode current | closed
	MomentumMode string          `yaml:"momentum_mode"`
	RSI          RSIConfig       `yaml:"rsi"`
	Bollinger    BollingerConfig `yaml:"bollinger"`
}

// RSIConfig настройки RSI
type RSIConfig struct {
	Period     int     `yaml:"period"`
	Overbought float64 `yaml:"overbought"`
	Oversold   float64 `yaml:"oversold"`
}

// BollingerConfig настройки полос Боллинджера
type BollingerConfig struct {
	Period int     `yaml:"period"`
	StdDev float64 `yaml:"std_dev"`
}

// GradingConfig настройки оценки результата
type GradingConfig struct {
	SLTPPercent    float64 `yaml:"sl_tp_percent"`
	Window         int     `yaml:"window"`
	GradeSynthetic bool    `yaml:"grade_synthetic"`
}

// SchedulerConfig настройки цикла анализа
type SchedulerConfig struct {
	// Schedule cron-выражение с секундами, задающее границы циклов
	Schedule     string        `yaml:"schedule"`
	StartupDelay time.Duration `yaml:"startup_delay"`
	BackoffMin   time.Duration `yaml:"backoff_min"`
	BackoffMax   time.Duration `yaml:"backoff_max"`
}

// StateConfig настройки хранилища состояния
type StateConfig struct {
	MaxHistory int `yaml:"max_history"`
}

// StorageConfig настройки журнала InfluxDB
type StorageConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// ServerConfig настройки HTTP
type ServerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Addr            string        `yaml:"addr"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// UIConfig настройки пользовательского интерфейса
type UIConfig struct {
	Enabled     bool `yaml:"enabled"`
	RefreshRate int  `yaml:"refresh_rate_ms"`
}

// DisplayConfig настройки отображения
type DisplayConfig struct {
	Timezone string `yaml:"timezone"`
}

// Провайдеры свечей
const (
	ProviderBinance   = "binance"
	ProviderKuCoin    = "kucoin"
	ProviderInfluxDB  = "influxdb"
	ProviderSynthetic = "synthetic"
)

// Режимы правила моментума
const (
	MomentumCurrent = "current"
	MomentumClosed  = "closed"
)

// CronParser разбирает расписание планировщика (с секундами и дескрипторами вида @every)
var CronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyDerived()
	return cfg
}

// Load загружает конфигурацию из файла
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	logger.Debug("Загружена конфигурация", zap.String("path", path), zap.Any("config", cfg))
	logger.Info("Загружена конфигурация", zap.Strings("Symbols", cfg.Trading.Symbols))
	return cfg, nil
}

// Parse разбирает YAML, подставляет значения по умолчанию, переменные окружения и проверяет результат
func Parse(data []byte) (*Config, error) {
	// значения по умолчанию заполняются до разбора, поэтому явный 0 в файле сохраняется
	cfg := &Config{}
	cfg.applyDefaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
	}

	// .env необязателен
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Не удалось прочитать .env", zap.Error(err))
	}

	cfg.applyEnv()
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("некорректная конфигурация: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("EXCHANGE_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv("EXCHANGE_API_SECRET"); v != "" {
		c.Exchange.APISecret = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		var symbols []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, s)
			}
		}
		c.Trading.Symbols = symbols
	}
	if v := os.Getenv("INFLUXDB_TOKEN"); v != "" {
		c.Storage.Token = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.Server.Addr = v
	}
}

func (c *Config) applyDefaults() {
	if c.Exchange.Provider == "" {
		c.Exchange.Provider = ProviderKuCoin
	}
	if c.Exchange.Market == "" {
		c.Exchange.Market = "spot"
	}
	if c.Exchange.Timeout == 0 {
		c.Exchange.Timeout = 8 * time.Second
	}
	if len(c.Trading.Symbols) == 0 {
		c.Trading.Symbols = []string{"BTC-USDT", "ETH-USDT", "EUR-USDT", "DOT-USDT", "ADA-USDT"}
	}
	if c.Trading.Interval == "" {
		c.Trading.Interval = "1m"
	}
	if c.Trading.WindowSize == 0 {
		c.Trading.WindowSize = 30
	}
	if c.Analysis.MaxWorkers == 0 {
		c.Analysis.MaxWorkers = 5
	}
	if c.Analysis.MinScore == 0 {
		c.Analysis.MinScore = 80
	}
	if c.Analysis.MomentumMode == "" {
		c.Analysis.MomentumMode = MomentumCurrent
	}
	if c.Analysis.RSI.Period == 0 {
		c.Analysis.RSI.Period = 14
	}
	if c.Analysis.RSI.Overbought == 0 {
		c.Analysis.RSI.Overbought = 70
	}
	if c.Analysis.RSI.Oversold == 0 {
		c.Analysis.RSI.Oversold = 30
	}
	if c.Analysis.Bollinger.Period == 0 {
		c.Analysis.Bollinger.Period = 14
	}
	if c.Analysis.Bollinger.StdDev == 0 {
		c.Analysis.Bollinger.StdDev = 2
	}
	if c.Grading.SLTPPercent == 0 {
		c.Grading.SLTPPercent = 0.0005
	}
	if c.Grading.Window == 0 {
		c.Grading.Window = 2
	}
	if c.Scheduler.Schedule == "" {
		c.Scheduler.Schedule = "0 * * * * *"
	}
	if c.Scheduler.StartupDelay == 0 {
		c.Scheduler.StartupDelay = time.Second
	}
	if c.Scheduler.BackoffMin == 0 {
		c.Scheduler.BackoffMin = 5 * time.Second
	}
	if c.Scheduler.BackoffMax == 0 {
		c.Scheduler.BackoffMax = time.Minute
	}
	if c.State.MaxHistory == 0 {
		c.State.MaxHistory = 10
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":5000"
	}
	if c.Server.RefreshInterval == 0 {
		c.Server.RefreshInterval = 5 * time.Second
	}
	if c.UI.RefreshRate == 0 {
		c.UI.RefreshRate = 1000
	}
	if c.Display.Timezone == "" {
		c.Display.Timezone = "America/Sao_Paulo"
	}
}

// applyDerived заполняет настройки, которые зависят от выбранного провайдера
func (c *Config) applyDerived() {
	if c.Exchange.BaseURL == "" && c.Exchange.Provider == ProviderKuCoin {
		c.Exchange.BaseURL = "https://api.kucoin.com"
	}
}

// Validate проверяет согласованность настроек
func (c *Config) Validate() error {
	switch c.Exchange.Provider {
	case ProviderBinance, ProviderKuCoin, ProviderInfluxDB, ProviderSynthetic:
	default:
		return fmt.Errorf("exchange.provider: неизвестный провайдер %q", c.Exchange.Provider)
	}
	if c.Exchange.Provider == ProviderBinance && c.Exchange.Market != "spot" && c.Exchange.Market != "futures" {
		return fmt.Errorf("exchange.market должен быть spot или futures, получено %q", c.Exchange.Market)
	}
	if c.Exchange.Timeout <= 0 {
		return fmt.Errorf("exchange.timeout должен быть положительным, получено %v", c.Exchange.Timeout)
	}
	if c.Exchange.Provider == ProviderInfluxDB && c.Storage.URL == "" {
		return errors.New("exchange.provider=influxdb требует storage.url")
	}
	if len(c.Trading.Symbols) == 0 {
		return errors.New("trading.symbols не может быть пустым")
	}
	seen := make(map[string]bool, len(c.Trading.Symbols))
	for _, s := range c.Trading.Symbols {
		if seen[s] {
			return fmt.Errorf("trading.symbols: дубликат %q", s)
		}
		seen[s] = true
	}
	if c.Trading.WindowSize < 2 {
		return fmt.Errorf("trading.window_size должен быть не меньше 2, получено %d", c.Trading.WindowSize)
	}
	if c.Analysis.MaxWorkers < 1 {
		return fmt.Errorf("analysis.max_workers должен быть положительным, получено %d", c.Analysis.MaxWorkers)
	}
	if c.Analysis.MinScore < 0 || c.Analysis.MinScore > 100 {
		return fmt.Errorf("analysis.min_score вне диапазона [0,100]: %v", c.Analysis.MinScore)
	}
	if c.Analysis.MomentumMode != MomentumCurrent && c.Analysis.MomentumMode != MomentumClosed {
		return fmt.Errorf("analysis.momentum_mode должен быть current или closed, получено %q", c.Analysis.MomentumMode)
	}
	if c.Analysis.RSI.Period < 2 || c.Analysis.Bollinger.Period < 2 {
		return errors.New("периоды RSI и Боллинджера должны быть не меньше 2")
	}
	if c.Analysis.Bollinger.StdDev <= 0 {
		return fmt.Errorf("analysis.bollinger.std_dev должен быть положительным, получено %v", c.Analysis.Bollinger.StdDev)
	}
	if c.Analysis.RSI.Oversold >= c.Analysis.RSI.Overbought {
		return fmt.Errorf("analysis.rsi: oversold (%v) должен быть меньше overbought (%v)",
			c.Analysis.RSI.Oversold, c.Analysis.RSI.Overbought)
	}
	if c.Grading.SLTPPercent <= 0 || c.Grading.SLTPPercent >= 1 {
		return fmt.Errorf("grading.sl_tp_percent вне диапазона (0,1): %v", c.Grading.SLTPPercent)
	}
	if c.Grading.Window < 1 {
		return fmt.Errorf("grading.window должен быть положительным, получено %d", c.Grading.Window)
	}
	if _, err := CronParser.Parse(c.Scheduler.Schedule); err != nil {
		return fmt.Errorf("scheduler.schedule: %w", err)
	}
	if c.Scheduler.BackoffMin > c.Scheduler.BackoffMax {
		return errors.New("scheduler.backoff_min больше backoff_max")
	}
	if c.State.MaxHistory < 1 {
		return fmt.Errorf("state.max_history должен быть положительным, получено %d", c.State.MaxHistory)
	}
	if _, err := time.LoadLocation(c.Display.Timezone); err != nil {
		return fmt.Errorf("display.timezone: %w", err)
	}
	return nil
}
