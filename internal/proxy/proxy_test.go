package proxy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/quantstash/go-tushare-cache/internal/cache"
	"github.com/quantstash/go-tushare-cache/internal/config"
	"github.com/quantstash/go-tushare-cache/internal/fingerprint"
	"github.com/quantstash/go-tushare-cache/internal/logger"
	"github.com/quantstash/go-tushare-cache/internal/models"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Call(ctx context.Context, apiName string, params fingerprint.Params) (*models.Fragment, error) {
	args := m.Called(ctx, apiName, params)
	var frag *models.Fragment
	if args.Get(0) != nil {
		frag = args.Get(0).(*models.Fragment)
	}
	return frag, args.Error(1)
}

func newTestProxy(t *testing.T, gateway *mockGateway) *Proxy {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Upstream.Token = "test-token"
	cfg.Cache.Root = t.TempDir()

	logs, err := logger.New(cfg.Logging)
	require.NoError(t, err)
	t.Cleanup(func() { logs.Close() })

	store, err := cache.New(cfg.Cache, logs.Logger())
	require.NoError(t, err)

	p, err := New(cfg, gateway, store, logs)
	require.NoError(t, err)
	return p
}

func marketDay(dates ...string) *models.Fragment {
	frag := models.NewFragment([]string{"ts_code", "trade_date", "close", "vol"})
	for i, d := range dates {
		code := "000001.SZ"
		if i%2 == 1 {
			code = "600000.SH"
		}
		frag.Append(models.Row{"ts_code": code, "trade_date": d, "close": "9.51", "vol": "120400"})
	}
	return frag
}

func TestDailyPointQueryIsCachedByItsOwnParameters(t *testing.T) {
	gateway := &mockGateway{}
	p := newTestProxy(t, gateway)

	gateway.On("Call", mock.Anything, "daily", mock.Anything).
		Return(marketDay("20240102", "20240102"), nil).Once()

	first, err := p.Daily(context.Background(), "", "20240102", "", "")
	require.NoError(t, err)
	assert.Equal(t, 2, first.Len())

	// Same query again: served from cache, gateway untouched.
	second, err := p.Daily(context.Background(), "", "20240102", "", "")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Len())

	gateway.AssertNumberOfCalls(t, "Call", 1)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Hit)
	assert.Equal(t, int64(1), stats.Miss)
}

func TestDailyResultIsTypeCoerced(t *testing.T) {
	gateway := &mockGateway{}
	p := newTestProxy(t, gateway)

	gateway.On("Call", mock.Anything, "daily", mock.Anything).
		Return(marketDay("20240102"), nil).Once()

	result, err := p.Daily(context.Background(), "", "20240102", "", "")
	require.NoError(t, err)
	require.Equal(t, 1, result.Len())

	closePrice, ok := result.Float(0, "close")
	require.True(t, ok, "close must coerce to float64")
	assert.InDelta(t, 9.51, closePrice, 0.0001)

	code, ok := result.String(0, "ts_code")
	require.True(t, ok)
	assert.Equal(t, "000001.SZ", code)
}

func TestDailyRangeQueryGoesThroughReconciler(t *testing.T) {
	gateway := &mockGateway{}
	p := newTestProxy(t, gateway)

	// The reconciler asks for the full reference window, not the caller's
	// narrow range.
	gateway.On("Call", mock.Anything, "daily", mock.MatchedBy(func(params fingerprint.Params) bool {
		start, _ := params["start_date"].(string)
		end, _ := params["end_date"].(string)
		return params["ts_code"] == "000001.SZ" && len(start) == 8 && len(end) == 8
	})).Return(marketDay("20240102"), nil).Once()

	result, err := p.Daily(context.Background(), "000001.SZ", "", "20240101", "20240110")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Len())

	gateway.AssertNumberOfCalls(t, "Call", 1)
}

func TestStkLimitRangeQueryStaysOnDirectPath(t *testing.T) {
	gateway := &mockGateway{}
	p := newTestProxy(t, gateway)

	// stk_limit's policy does not enable incremental updates, so the range
	// shape is cached directly under the caller's own parameters.
	gateway.On("Call", mock.Anything, "stk_limit", mock.MatchedBy(func(params fingerprint.Params) bool {
		return params["start_date"] == "20240101" && params["end_date"] == "20240110"
	})).Return(marketDay("20240102"), nil).Once()

	_, err := p.StkLimit(context.Background(), "000001.SZ", "", "20240101", "20240110")
	require.NoError(t, err)

	_, err = p.StkLimit(context.Background(), "000001.SZ", "", "20240101", "20240110")
	require.NoError(t, err)

	gateway.AssertNumberOfCalls(t, "Call", 1)
}

func TestUpstreamFailureCarriesCacheStats(t *testing.T) {
	gateway := &mockGateway{}
	p := newTestProxy(t, gateway)

	gateway.On("Call", mock.Anything, "daily", mock.Anything).
		Return(nil, errors.New("token invalid")).Once()

	_, err := p.Daily(context.Background(), "", "20240102", "", "")
	require.Error(t, err)

	var queryErr *UpstreamQueryError
	require.ErrorAs(t, err, &queryErr)
	assert.Equal(t, "daily", queryErr.Operation)
	assert.Equal(t, int64(1), queryErr.Stats.Miss)
	assert.Contains(t, queryErr.Error(), "cache:")
}

func TestEmptyUpstreamResultIsNotPersisted(t *testing.T) {
	gateway := &mockGateway{}
	p := newTestProxy(t, gateway)

	empty := models.NewFragment([]string{"ts_code", "trade_date"})
	gateway.On("Call", mock.Anything, "daily", mock.Anything).Return(empty, nil).Twice()

	_, err := p.Daily(context.Background(), "", "20240102", "", "")
	require.NoError(t, err)

	// The empty result was not cached, so the same query fetches again.
	_, err = p.Daily(context.Background(), "", "20240102", "", "")
	require.NoError(t, err)

	gateway.AssertNumberOfCalls(t, "Call", 2)
}

func TestDailyQuotesBuildsTypedRecords(t *testing.T) {
	gateway := &mockGateway{}
	p := newTestProxy(t, gateway)

	frag := models.NewFragment([]string{"ts_code", "trade_date", "open", "high", "low", "close", "pre_close", "change", "pct_chg", "vol", "amount"})
	frag.Append(models.Row{
		"ts_code": "000001.SZ", "trade_date": "20240102",
		"open": "9.40", "high": "9.60", "low": "9.35", "close": "9.51",
		"pre_close": "9.42", "change": "0.09", "pct_chg": "0.9554",
		"vol": "120400", "amount": "114620.5",
	})
	gateway.On("Call", mock.Anything, "daily", mock.Anything).Return(frag, nil).Once()

	quotes, err := p.DailyQuotes(context.Background(), "", "20240102", "", "")
	require.NoError(t, err)
	require.Len(t, quotes, 1)

	assert.Equal(t, "000001.SZ", quotes[0].TSCode)
	up, err := quotes[0].IsUp()
	require.NoError(t, err)
	assert.True(t, up)
}

func TestSymbolHelpersResolveThroughListingDirectory(t *testing.T) {
	gateway := &mockGateway{}
	p := newTestProxy(t, gateway)

	listing := models.NewFragment([]string{"ts_code", "symbol", "name", "exchange"})
	listing.Append(models.Row{"ts_code": "000001.SZ", "symbol": "000001", "name": "平安银行", "exchange": "SZSE"})
	listing.Append(models.Row{"ts_code": "600000.SH", "symbol": "600000", "name": "浦发银行", "exchange": "SSE"})
	gateway.On("Call", mock.Anything, "stock_basic", mock.Anything).Return(listing, nil).Once()

	name, err := p.TSCodeToName(context.Background(), "000001.SZ")
	require.NoError(t, err)
	assert.Equal(t, "平安银行", name)

	code, err := p.NameToTSCode(context.Background(), "浦发银行")
	require.NoError(t, err)
	assert.Equal(t, "600000.SH", code)

	symbol, err := p.TSCodeToSymbol(context.Background(), "600000.SH")
	require.NoError(t, err)
	assert.Equal(t, "600000", symbol)

	_, err = p.SymbolToName(context.Background(), "999999")
	assert.Error(t, err)

	// All lookups share one cached listing directory.
	gateway.AssertNumberOfCalls(t, "Call", 1)
}

func TestTradeCalIsCachedUnderItsFilter(t *testing.T) {
	gateway := &mockGateway{}
	p := newTestProxy(t, gateway)

	cal := models.NewFragment([]string{"exchange", "cal_date", "is_open", "pretrade_date"})
	cal.Append(models.Row{"exchange": "SSE", "cal_date": "20240102", "is_open": "1", "pretrade_date": "20231229"})
	gateway.On("Call", mock.Anything, "trade_cal", mock.MatchedBy(func(params fingerprint.Params) bool {
		return params["exchange"] == "SSE" && params["is_open"] == "1"
	})).Return(cal, nil).Once()

	first, err := p.TradeCal(context.Background(), "SSE", "20240101", "20240131", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Len())

	second, err := p.TradeCal(context.Background(), "SSE", "20240101", "20240131", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, second.Len())

	gateway.AssertNumberOfCalls(t, "Call", 1)
}
