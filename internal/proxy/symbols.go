package proxy

import (
	"context"
	"fmt"

	"github.com/quantstash/go-tushare-cache/internal/models"
)

// lookupListed finds the first listed security whose byField column equals
// value and returns its wantField column.
func (p *Proxy) lookupListed(ctx context.Context, byField, value, wantField string) (string, error) {
	shares, err := p.ListedShares(ctx)
	if err != nil {
		return "", err
	}

	for i := 0; i < shares.Len(); i++ {
		got, ok := shares.String(i, byField)
		if !ok || got != value {
			continue
		}
		want, ok := shares.String(i, wantField)
		if !ok {
			return "", fmt.Errorf("listed share %s=%s has no %s field", byField, value, wantField)
		}
		return want, nil
	}

	return "", fmt.Errorf("no listed share with %s=%s", byField, value)
}

// TSCodeToName resolves a TuShare security code to the security's name.
func (p *Proxy) TSCodeToName(ctx context.Context, tsCode string) (string, error) {
	return p.lookupListed(ctx, "ts_code", tsCode, "name")
}

// NameToTSCode resolves a security name to its TuShare code.
func (p *Proxy) NameToTSCode(ctx context.Context, name string) (string, error) {
	return p.lookupListed(ctx, "name", name, "ts_code")
}

// SymbolToTSCode resolves an exchange ticker to its TuShare code.
func (p *Proxy) SymbolToTSCode(ctx context.Context, symbol string) (string, error) {
	return p.lookupListed(ctx, "symbol", symbol, "ts_code")
}

// TSCodeToSymbol resolves a TuShare security code to its exchange ticker.
func (p *Proxy) TSCodeToSymbol(ctx context.Context, tsCode string) (string, error) {
	return p.lookupListed(ctx, "ts_code", tsCode, "symbol")
}

// NameToSymbol resolves a security name to its exchange ticker.
func (p *Proxy) NameToSymbol(ctx context.Context, name string) (string, error) {
	return p.lookupListed(ctx, "name", name, "symbol")
}

// SymbolToName resolves an exchange ticker to the security's name.
func (p *Proxy) SymbolToName(ctx context.Context, symbol string) (string, error) {
	return p.lookupListed(ctx, "symbol", symbol, "name")
}

// Listed reports the listed securities as (ts_code, symbol, name) triples
// in upstream order.
func (p *Proxy) Listed(ctx context.Context) ([]models.ListedShare, error) {
	shares, err := p.ListedShares(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.ListedShare, 0, shares.Len())
	for i := 0; i < shares.Len(); i++ {
		code, _ := shares.String(i, "ts_code")
		symbol, _ := shares.String(i, "symbol")
		name, _ := shares.String(i, "name")
		exchange, _ := shares.String(i, "exchange")
		out = append(out, models.ListedShare{
			TSCode:   code,
			Symbol:   symbol,
			Name:     name,
			Exchange: exchange,
		})
	}
	return out, nil
}
