package exchange

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Kucoin/kucoin-go-sdk"
	"github.com/skalibog/confluence/pkg/models"
)

// KuCoinClient получает свечи через публичный API KuCoin
type KuCoinClient struct {
	api *kucoin.ApiService
	now func() time.Time
}

// NewKuCoinClient создает клиент KuCoin. Ключи не нужны: свечи отдаются публичным методом.
func NewKuCoinClient(baseURL string) *KuCoinClient {
	var opts []kucoin.ApiServiceOption
	if baseURL != "" {
		opts = append(opts, kucoin.ApiBaseURIOption(strings.TrimRight(baseURL, "/")))
	}
	return &KuCoinClient{
		api: kucoin.NewApiService(opts...),
		now: time.Now,
	}
}

// FetchCandles получает свечи. KuCoin отдает строки от новых к старым:
// [time, open, close, high, low, volume, turnover].
func (c *KuCoinClient) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	step := models.IntervalDuration(interval)
	end := c.now()
	start := end.Add(-time.Duration(limit+1) * step)

	resp, err := c.api.KLines(ctx, symbol, kucoinInterval(interval), start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса свечей KuCoin: %w", err)
	}
	if resp.Code != kucoin.ApiSuccess {
		return nil, fmt.Errorf("ошибка KuCoin %s: %s", resp.Code, resp.Message)
	}

	var rows kucoin.KLinesModel
	if err := resp.ReadData(&rows); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(rows) == 0 {
		return nil, ErrNoData
	}

	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			return nil, fmt.Errorf("%w: пустая строка", ErrMalformed)
		}
		candle, err := kucoinCandle(symbol, interval, step, *row)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime.Before(candles[j].OpenTime) })

	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

func kucoinCandle(symbol, interval string, step time.Duration, row []string) (models.Candle, error) {
	if len(row) < 5 {
		return models.Candle{}, fmt.Errorf("%w: строка из %d полей", ErrMalformed, len(row))
	}

	ts, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return models.Candle{}, parseErr("time", err)
	}

	var vals [4]float64
	for i, name := range []string{"open", "close", "high", "low"} {
		if vals[i], err = strconv.ParseFloat(row[i+1], 64); err != nil {
			return models.Candle{}, parseErr(name, err)
		}
	}

	var volume float64
	if len(row) > 5 {
		if volume, err = strconv.ParseFloat(row[5], 64); err != nil {
			return models.Candle{}, parseErr("volume", err)
		}
	}

	openTime := time.Unix(ts, 0)
	return models.Candle{
		Symbol:    symbol,
		Interval:  interval,
		OpenTime:  openTime,
		Open:      vals[0],
		Close:     vals[1],
		High:      vals[2],
		Low:       vals[3],
		Volume:    volume,
		CloseTime: openTime.Add(step),
	}, nil
}

// kucoinInterval переводит 1m в 1min и т.п.
func kucoinInterval(interval string) string {
	switch {
	case strings.HasSuffix(interval, "min"), strings.HasSuffix(interval, "hour"),
		strings.HasSuffix(interval, "day"), strings.HasSuffix(interval, "week"):
		return interval
	case strings.HasSuffix(interval, "m"):
		return strings.TrimSuffix(interval, "m") + "min"
	case strings.HasSuffix(interval, "h"):
		return strings.TrimSuffix(interval, "h") + "hour"
	case strings.HasSuffix(interval, "d"):
		return strings.TrimSuffix(interval, "d") + "day"
	case strings.HasSuffix(interval, "w"):
		return strings.TrimSuffix(interval, "w") + "week"
	default:
		return interval
	}
}
