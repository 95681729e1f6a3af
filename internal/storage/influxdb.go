// internal/storage/influxdb.go
package storage

import (
	"context"
	"fmt"
	"strings"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/skalibog/confluence/internal/config"
	"github.com/skalibog/confluence/pkg/logger"
	"github.com/skalibog/confluence/pkg/models"
	"go.uber.org/zap"
)

// Journal журнал сигналов и результатов. Только запись, состояние из него не восстанавливается.
type Journal interface {
	SaveSignal(ctx context.Context, signal models.Signal) error
	SaveOutcome(ctx context.Context, entry models.HistoryEntry) error
	Close()
}

// NopJournal журнал, который ничего не пишет
type NopJournal struct{}

func (NopJournal) SaveSignal(context.Context, models.Signal) error        { return nil }
func (NopJournal) SaveOutcome(context.Context, models.HistoryEntry) error { return nil }
func (NopJournal) Close()                                                 {}

// InfluxDBStorage пишет журнал в InfluxDB и читает из него свечи
type InfluxDBStorage struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPI
	org      string
	bucket   string
}

// NewInfluxDBStorage создает новое хранилище InfluxDB
func NewInfluxDBStorage(ctx context.Context, cfg config.StorageConfig) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	writeAPI := client.WriteAPI(cfg.Organization, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			logger.Warn("Ошибка записи в InfluxDB", zap.Error(err))
		}
	}()

	return &InfluxDBStorage{
		client:   client,
		queryAPI: client.QueryAPI(cfg.Organization),
		writeAPI: writeAPI,
		org:      cfg.Organization,
		bucket:   cfg.Bucket,
	}, nil
}

// Close сбрасывает буфер и закрывает соединение
func (s *InfluxDBStorage) Close() {
	s.writeAPI.Flush()
	s.client.Close()
}

// SaveSignal сохраняет лучший сигнал цикла
func (s *InfluxDBStorage) SaveSignal(_ context.Context, signal models.Signal) error {
	s.writeAPI.WritePoint(signalPoint(signal))
	s.writeAPI.Flush()
	return nil
}

// SaveOutcome сохраняет результат проверки сигнала
func (s *InfluxDBStorage) SaveOutcome(_ context.Context, entry models.HistoryEntry) error {
	s.writeAPI.WritePoint(outcomePoint(entry))
	s.writeAPI.Flush()
	return nil
}

// SaveCandles сохраняет свечи, чтобы их можно было читать провайдером influxdb
func (s *InfluxDBStorage) SaveCandles(_ context.Context, candles []models.Candle) error {
	for _, candle := range candles {
		s.writeAPI.WritePoint(influxdb2.NewPoint(
			"candles",
			map[string]string{
				"symbol":   candle.Symbol,
				"interval": candle.Interval,
			},
			map[string]interface{}{
				"open":   candle.Open,
				"high":   candle.High,
				"low":    candle.Low,
				"close":  candle.Close,
				"volume": candle.Volume,
			},
			candle.OpenTime,
		))
	}
	s.writeAPI.Flush()
	return nil
}

// FetchCandles получает последние свечи от старых к новым
func (s *InfluxDBStorage) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	result, err := s.queryAPI.Query(ctx, candlesQuery(s.bucket, symbol, interval, limit))
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса свечей: %w", err)
	}
	defer result.Close()

	step := models.IntervalDuration(interval)
	var candles []models.Candle
	for result.Next() {
		record := result.Record()

		timestamp := record.Time()
		open, _ := record.ValueByKey("open").(float64)
		high, _ := record.ValueByKey("high").(float64)
		low, _ := record.ValueByKey("low").(float64)
		closePrice, _ := record.ValueByKey("close").(float64)
		volume, _ := record.ValueByKey("volume").(float64)

		candles = append(candles, models.Candle{
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  timestamp,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			CloseTime: timestamp.Add(step),
		})
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}

	// запрос отсортирован по убыванию времени
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

func signalPoint(signal models.Signal) *write.Point {
	return influxdb2.NewPoint(
		"signals",
		map[string]string{
			"symbol":    signal.Instrument,
			"direction": string(signal.Direction),
			"mode":      string(signal.Mode),
		},
		map[string]interface{}{
			"id":         signal.ID,
			"bias":       string(signal.Bias),
			"score":      signal.Score,
			"buy_score":  signal.BuyScore,
			"sell_score": signal.SellScore,
			"rsi":        signal.Indicators.RSI,
			"bb_upper":   signal.Indicators.Bollinger.Upper,
			"bb_mid":     signal.Indicators.Bollinger.Mid,
			"bb_lower":   signal.Indicators.Bollinger.Lower,
			"price":      signal.EntryPrice,
		},
		signal.Timestamp,
	)
}

func outcomePoint(entry models.HistoryEntry) *write.Point {
	return influxdb2.NewPoint(
		"outcomes",
		map[string]string{
			"symbol":    entry.Instrument,
			"direction": string(entry.Direction),
			"outcome":   string(entry.Outcome),
		},
		map[string]interface{}{
			"id":          entry.ID,
			"signal_id":   entry.SignalID,
			"score":       entry.Score,
			"entry_price": entry.EntryPrice,
			"exit_price":  entry.ExitPrice,
			"win":         entry.Outcome.IsWin(),
		},
		entry.GradedAt,
	)
}

// candlesQuery формирует Flux-запрос последних свечей
func candlesQuery(bucket, symbol, interval string, limit int) string {
	return fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -30d)
			|> filter(fn: (r) => r._measurement == "candles")
			|> filter(fn: (r) => r.symbol == "%s")
			|> filter(fn: (r) => r.interval == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, fluxString(bucket), fluxString(symbol), fluxString(interval), limit)
}

// fluxString экранирует значение для строкового литерала Flux
func fluxString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
