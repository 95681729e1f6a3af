package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skalibog/confluence/internal/config"
	"github.com/skalibog/confluence/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	candles []models.Candle
	err     error
	delay   time.Duration
}

func (f *fakeSource) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.candles, f.err
}

type fakeRecorder struct {
	mu    sync.Mutex
	saved int
}

func (r *fakeRecorder) SaveCandles(_ context.Context, candles []models.Candle) error {
	r.mu.Lock()
	r.saved += len(candles)
	r.mu.Unlock()
	return nil
}

func liveCandles(closes ...float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{Symbol: "BTC-USDT", Open: c, High: c, Low: c, Close: c}
	}
	return out
}

func TestSoftSourceLive(t *testing.T) {
	rec := &fakeRecorder{}
	s := NewSoftSource(&fakeSource{candles: liveCandles(1, 2, 3)}, time.Second, nil).WithRecorder(rec)

	w := s.Window(context.Background(), "BTC-USDT", "1m", 3)
	assert.Equal(t, models.FeedLive, w.Mode)
	assert.Len(t, w.Candles, 3)
	assert.NoError(t, w.Err)
	assert.Equal(t, 3, rec.saved)

	last, ok := w.Last()
	require.True(t, ok)
	assert.Equal(t, 3.0, last.Close)
}

func TestSoftSourceUnavailable(t *testing.T) {
	s := NewSoftSource(&fakeSource{err: errors.New("boom")}, time.Second, nil)

	w := s.Window(context.Background(), "BTC-USDT", "1m", 3)
	assert.Equal(t, models.FeedUnavailable, w.Mode)
	assert.Empty(t, w.Candles)
	assert.EqualError(t, w.Err, "boom")
}

func TestSoftSourceEmptyIsNoData(t *testing.T) {
	s := NewSoftSource(&fakeSource{}, time.Second, nil)

	w := s.Window(context.Background(), "BTC-USDT", "1m", 3)
	assert.Equal(t, models.FeedUnavailable, w.Mode)
	assert.ErrorIs(t, w.Err, ErrNoData)
}

func TestSoftSourceTimeout(t *testing.T) {
	s := NewSoftSource(&fakeSource{candles: liveCandles(1), delay: time.Second}, 20*time.Millisecond, nil)

	start := time.Now()
	w := s.Window(context.Background(), "BTC-USDT", "1m", 1)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, models.FeedUnavailable, w.Mode)
	assert.ErrorIs(t, w.Err, context.DeadlineExceeded)
}

func TestSoftSourceSyntheticFallbackAnchorsOnLastClose(t *testing.T) {
	src := &fakeSource{candles: liveCandles(50000, 50010)}
	s := NewSoftSource(src, time.Second, NewSyntheticSource(1, 0.0001))

	w := s.Window(context.Background(), "BTC-USDT", "1m", 2)
	require.Equal(t, models.FeedLive, w.Mode)

	src.candles, src.err = nil, errors.New("down")
	w = s.Window(context.Background(), "BTC-USDT", "1m", 5)
	assert.Equal(t, models.FeedSynthetic, w.Mode)
	require.Len(t, w.Candles, 5)
	assert.Error(t, w.Err)
	// первое открытие синтетического окна равно последнему живому закрытию
	assert.Equal(t, 50010.0, w.Candles[0].Open)
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "no_data", failureReason(ErrNoData))
	assert.Equal(t, "malformed", failureReason(parseErr("open", errors.New("x"))))
	assert.Equal(t, "timeout", failureReason(context.DeadlineExceeded))
	assert.Equal(t, "canceled", failureReason(context.Canceled))
	assert.Equal(t, "error", failureReason(errors.New("x")))
}

func TestSyntheticSourceShape(t *testing.T) {
	s := NewSyntheticSource(42, 0.001)
	now := time.Date(2024, 5, 1, 12, 30, 45, 0, time.UTC)
	s.now = func() time.Time { return now }

	candles, err := s.FetchCandles(context.Background(), "ETH-USDT", "1m", 10)
	require.NoError(t, err)
	require.Len(t, candles, 10)

	assert.Equal(t, now.Truncate(time.Minute), candles[9].OpenTime)
	for i, c := range candles {
		assert.GreaterOrEqual(t, c.High, c.Open)
		assert.GreaterOrEqual(t, c.High, c.Close)
		assert.LessOrEqual(t, c.Low, c.Open)
		assert.LessOrEqual(t, c.Low, c.Close)
		if i > 0 {
			assert.Equal(t, candles[i-1].Close, c.Open)
			assert.Equal(t, time.Minute, c.OpenTime.Sub(candles[i-1].OpenTime))
		}
	}

	_, err = s.FetchCandles(context.Background(), "ETH-USDT", "1m", 0)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestNewProvider(t *testing.T) {
	cfg := config.Default()

	src, err := NewProvider(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &KuCoinClient{}, src)

	cfg.Exchange.Provider = config.ProviderSynthetic
	src, err = NewProvider(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &SyntheticSource{}, src)

	cfg.Exchange.Provider = config.ProviderInfluxDB
	_, err = NewProvider(cfg, nil)
	assert.Error(t, err)

	cfg.Exchange.Provider = "ftx"
	_, err = NewProvider(cfg, nil)
	assert.Error(t, err)
}
