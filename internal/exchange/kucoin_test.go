package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKuCoin(t *testing.T, handler http.HandlerFunc) *KuCoinClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewKuCoinClient(srv.URL)
	c.now = func() time.Time { return time.Unix(1700000180, 0) }
	return c
}

func TestKuCoinFetchCandles(t *testing.T) {
	var gotQuery map[string]string
	c := newTestKuCoin(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/market/candles", r.URL.Path)
		gotQuery = map[string]string{
			"symbol": r.URL.Query().Get("symbol"),
			"type":   r.URL.Query().Get("type"),
			"endAt":  r.URL.Query().Get("endAt"),
		}
		// от новых к старым
		_, _ = w.Write([]byte(`{"code":"200000","data":[
			["1700000160","102","103","104","101","5","500"],
			["1700000100","101","102","103","100","4","400"],
			["1700000040","100","101","102","99","3","300"]
		]}`))
	})

	candles, err := c.FetchCandles(context.Background(), "BTC-USDT", "1m", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)

	assert.Equal(t, "BTC-USDT", gotQuery["symbol"])
	assert.Equal(t, "1min", gotQuery["type"])
	assert.Equal(t, "1700000180", gotQuery["endAt"])

	// обрезано до двух последних и упорядочено от старых к новым
	assert.Equal(t, time.Unix(1700000100, 0), candles[0].OpenTime)
	assert.Equal(t, time.Unix(1700000160, 0), candles[1].OpenTime)

	last := candles[1]
	assert.Equal(t, 102.0, last.Open)
	assert.Equal(t, 103.0, last.Close)
	assert.Equal(t, 104.0, last.High)
	assert.Equal(t, 101.0, last.Low)
	assert.Equal(t, 5.0, last.Volume)
	assert.Equal(t, last.OpenTime.Add(time.Minute), last.CloseTime)
}

func TestKuCoinFetchCandlesErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		target error
	}{
		{name: "empty data", status: http.StatusOK, body: `{"code":"200000","data":[]}`, target: ErrNoData},
		{name: "bad number", status: http.StatusOK, body: `{"code":"200000","data":[["1700000040","x","1","1","1","1","1"]]}`, target: ErrMalformed},
		{name: "short row", status: http.StatusOK, body: `{"code":"200000","data":[["1700000040","1"]]}`, target: ErrMalformed},
		{name: "bad data", status: http.StatusOK, body: `{"code":"200000","data":{"rows":1}}`, target: ErrMalformed},
		{name: "bad json", status: http.StatusOK, body: `{"code":`},
		{name: "api error", status: http.StatusOK, body: `{"code":"400100","msg":"bad symbol"}`},
		{name: "http error", status: http.StatusBadGateway, body: `upstream`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestKuCoin(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.FetchCandles(context.Background(), "BTC-USDT", "1m", 10)
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestKuCoinInterval(t *testing.T) {
	assert.Equal(t, "1min", kucoinInterval("1m"))
	assert.Equal(t, "15min", kucoinInterval("15m"))
	assert.Equal(t, "1hour", kucoinInterval("1h"))
	assert.Equal(t, "1day", kucoinInterval("1d"))
	assert.Equal(t, "1week", kucoinInterval("1w"))
	assert.Equal(t, "4hour", kucoinInterval("4hour"))
}

func TestBinanceSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", binanceSymbol("BTC-USDT"))
	assert.Equal(t, "ETHUSDT", binanceSymbol("eth-usdt"))
}

func TestKlineRowCandle(t *testing.T) {
	row := klineRow{openTime: 1700000040000, open: "1.5", high: "2", low: "1", close: "1.8", volume: "10", closeTime: 1700000099999}
	c, err := row.candle("BTC-USDT", "1m")
	require.NoError(t, err)
	assert.Equal(t, 1.8, c.Close)
	assert.Equal(t, time.UnixMilli(1700000040000), c.OpenTime)

	row.high = "oops"
	_, err = row.candle("BTC-USDT", "1m")
	assert.ErrorIs(t, err, ErrMalformed)
}
