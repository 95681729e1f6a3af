package exchange

import (
	"errors"
	"fmt"
	"time"

	"github.com/skalibog/confluence/internal/config"
	"github.com/skalibog/confluence/internal/storage"
)

// NewProvider создает источник свечей по настройке exchange.provider.
// Для провайдера influxdb нужно открытое хранилище.
func NewProvider(cfg *config.Config, influx *storage.InfluxDBStorage) (CandleSource, error) {
	switch cfg.Exchange.Provider {
	case config.ProviderBinance:
		return NewBinanceClient(cfg.Exchange)
	case config.ProviderKuCoin:
		return NewKuCoinClient(cfg.Exchange.BaseURL), nil
	case config.ProviderInfluxDB:
		if influx == nil {
			return nil, errors.New("провайдер influxdb требует подключенного хранилища")
		}
		return influx, nil
	case config.ProviderSynthetic:
		return NewSyntheticSource(uint64(time.Now().UnixNano()), 0), nil
	default:
		return nil, fmt.Errorf("неизвестный провайдер: %s", cfg.Exchange.Provider)
	}
}

// NewSoftSourceFromConfig оборачивает провайдер с таймаутом и синтетическим резервом из настроек
func NewSoftSourceFromConfig(cfg *config.Config, source CandleSource) *SoftSource {
	var fallback *SyntheticSource
	if cfg.Exchange.FallbackSynthetic && cfg.Exchange.Provider != config.ProviderSynthetic {
		fallback = NewSyntheticSource(uint64(time.Now().UnixNano()), 0)
	}
	return NewSoftSource(source, cfg.Exchange.Timeout, fallback)
}
