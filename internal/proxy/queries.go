package proxy

import (
	"context"

	"github.com/quantstash/go-tushare-cache/internal/models"
)

// Operation names as the upstream API knows them.
const (
	OpDaily      = "daily"
	OpTradeCal   = "trade_cal"
	OpStockBasic = "stock_basic"
	OpStkLimit   = "stk_limit"
)

// listedSharesFields is the column subset requested for the listing
// directory used by the symbol helpers.
const listedSharesFields = "ts_code,symbol,name,fullname,cnspell,exchange"

// Daily returns daily OHLCV quotes. Two shapes are supported: a trade date
// alone returns the whole market for that day, and a security code with a
// start and end date returns that security's history for the range. The
// range shape goes through incremental reconciliation when the daily
// policy enables it.
func (p *Proxy) Daily(ctx context.Context, tsCode, tradeDate, startDate, endDate string) (*models.TypedFragment, error) {
	return p.Do(ctx, Query{
		Operation: OpDaily,
		Entity:    tsCode,
		TradeDate: tradeDate,
		Start:     startDate,
		End:       endDate,
	})
}

// DailyQuotes returns the same data as Daily as strongly typed quote
// records with decimal prices.
func (p *Proxy) DailyQuotes(ctx context.Context, tsCode, tradeDate, startDate, endDate string) ([]models.DailyQuote, error) {
	frag, err := p.raw(ctx, Query{
		Operation: OpDaily,
		Entity:    tsCode,
		TradeDate: tradeDate,
		Start:     startDate,
		End:       endDate,
	})
	if err != nil {
		return nil, err
	}
	return models.DailyQuotesFrom(frag)
}

// TradeCal returns the trading calendar of an exchange. exchange defaults
// upstream to the Shanghai exchange when empty; isOpen filters to trading
// ("1") or closed ("0") days when set.
func (p *Proxy) TradeCal(ctx context.Context, exchange, startDate, endDate, isOpen string) (*models.TypedFragment, error) {
	return p.Do(ctx, Query{
		Operation: OpTradeCal,
		Start:     startDate,
		End:       endDate,
		Extra: map[string]any{
			"exchange": scalarOrNil(exchange),
			"is_open":  scalarOrNil(isOpen),
		},
	})
}

// StockBasicFilter selects which listings StockBasic returns. Empty fields
// are sent as explicit nil parameters.
type StockBasicFilter struct {
	Fields     string // comma-separated output columns
	Name       string
	TSCode     string
	IsHS       string // N, H, S
	Market     string
	Exchange   string // SSE, SZSE, BSE
	ListStatus string // L, D, P
}

// StockBasic returns listing metadata for the securities matching the
// filter.
func (p *Proxy) StockBasic(ctx context.Context, filter StockBasicFilter) (*models.TypedFragment, error) {
	return p.Do(ctx, Query{
		Operation: OpStockBasic,
		Entity:    filter.TSCode,
		Extra: map[string]any{
			"fields":      scalarOrNil(filter.Fields),
			"name":        scalarOrNil(filter.Name),
			"is_hs":       scalarOrNil(filter.IsHS),
			"market":      scalarOrNil(filter.Market),
			"exchange":    scalarOrNil(filter.Exchange),
			"list_status": scalarOrNil(filter.ListStatus),
		},
	})
}

// ListedShares returns the directory of currently listed securities.
func (p *Proxy) ListedShares(ctx context.Context) (*models.TypedFragment, error) {
	return p.StockBasic(ctx, StockBasicFilter{
		Fields:     listedSharesFields,
		ListStatus: "L",
	})
}

// StkLimit returns daily up/down price limits, with the same two query
// shapes as Daily.
func (p *Proxy) StkLimit(ctx context.Context, tsCode, tradeDate, startDate, endDate string) (*models.TypedFragment, error) {
	return p.Do(ctx, Query{
		Operation: OpStkLimit,
		Entity:    tsCode,
		TradeDate: tradeDate,
		Start:     startDate,
		End:       endDate,
	})
}
