package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/skalibog/confluence/internal/config"
	"github.com/skalibog/confluence/pkg/models"
)

// BinanceClient клиент для получения свечей Binance (spot или futures)
type BinanceClient struct {
	futures *futures.Client
	spot    *binance.Client
	market  string
}

// NewBinanceClient создает новый клиент Binance
func NewBinanceClient(cfg config.ExchangeConfig) (*BinanceClient, error) {
	if cfg.Market != "spot" && cfg.Market != "futures" {
		return nil, fmt.Errorf("неизвестный рынок Binance: %q", cfg.Market)
	}

	if cfg.Testnet {
		binance.UseTestnet = true
		futures.UseTestnet = true
	}

	return &BinanceClient{
		futures: futures.NewClient(cfg.APIKey, cfg.APISecret),
		spot:    binance.NewClient(cfg.APIKey, cfg.APISecret),
		market:  cfg.Market,
	}, nil
}

// FetchCandles получает исторические свечи
func (c *BinanceClient) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	pair := binanceSymbol(symbol)

	var rows []klineRow
	if c.market == "futures" {
		klines, err := c.futures.NewKlinesService().
			Symbol(pair).
			Interval(interval).
			Limit(limit).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("ошибка получения свечей: %w", err)
		}
		rows = make([]klineRow, len(klines))
		for i, k := range klines {
			rows[i] = klineRow{k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume, k.CloseTime}
		}
	} else {
		klines, err := c.spot.NewKlinesService().
			Symbol(pair).
			Interval(interval).
			Limit(limit).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("ошибка получения свечей: %w", err)
		}
		rows = make([]klineRow, len(klines))
		for i, k := range klines {
			rows[i] = klineRow{k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume, k.CloseTime}
		}
	}

	if len(rows) == 0 {
		return nil, ErrNoData
	}

	candles := make([]models.Candle, len(rows))
	for i, r := range rows {
		candle, err := r.candle(symbol, interval)
		if err != nil {
			return nil, err
		}
		candles[i] = candle
	}

	return candles, nil
}

// klineRow общая форма свечи spot и futures
type klineRow struct {
	openTime  int64
	open      string
	high      string
	low       string
	close     string
	volume    string
	closeTime int64
}

func (r klineRow) candle(symbol, interval string) (models.Candle, error) {
	var (
		vals [5]float64
		err  error
	)
	for i, f := range []struct{ name, raw string }{
		{"open", r.open}, {"high", r.high}, {"low", r.low}, {"close", r.close}, {"volume", r.volume},
	} {
		if vals[i], err = strconv.ParseFloat(f.raw, 64); err != nil {
			return models.Candle{}, parseErr(f.name, err)
		}
	}

	return models.Candle{
		Symbol:    symbol,
		Interval:  interval,
		OpenTime:  time.UnixMilli(r.openTime),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
		CloseTime: time.UnixMilli(r.closeTime),
	}, nil
}

// binanceSymbol переводит BTC-USDT в BTCUSDT
func binanceSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
}
