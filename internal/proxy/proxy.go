// Package proxy is the caller-facing query surface. It wires the cache
// store, the upstream gateway, the schema, and the incremental reconciler
// into one context object constructed at process start; there is no hidden
// process-wide state.
package proxy

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/quantstash/go-tushare-cache/internal/cache"
	"github.com/quantstash/go-tushare-cache/internal/config"
	"github.com/quantstash/go-tushare-cache/internal/fingerprint"
	"github.com/quantstash/go-tushare-cache/internal/logger"
	"github.com/quantstash/go-tushare-cache/internal/models"
	"github.com/quantstash/go-tushare-cache/internal/reconcile"
	"github.com/quantstash/go-tushare-cache/internal/schema"
	"github.com/quantstash/go-tushare-cache/internal/upstream"
)

// UpstreamQueryError is a failed upstream fetch surfaced to the caller. It
// carries the cache statistics at failure time so the query's cache
// behavior can be inspected without re-running.
type UpstreamQueryError struct {
	Operation string
	Stats     cache.Stats
	Err       error
}

// Error implements the error interface.
func (e *UpstreamQueryError) Error() string {
	return fmt.Sprintf("query %s failed: %v (cache: %s)", e.Operation, e.Err, e.Stats)
}

// Unwrap returns the underlying upstream error.
func (e *UpstreamQueryError) Unwrap() error {
	return e.Err
}

// Proxy answers logical queries, consulting the cache before the upstream.
type Proxy struct {
	cfg     *config.AppConfig
	gateway upstream.Gateway
	store   *cache.Store
	schema  schema.Schema
	recon   *reconcile.Reconciler
	logs    *logger.Manager
}

// New wires a proxy from its collaborators. The field-type overrides from
// configuration are applied on top of the built-in schema.
func New(cfg *config.AppConfig, gateway upstream.Gateway, store *cache.Store, logs *logger.Manager) (*Proxy, error) {
	s, err := schema.FromOverrides(cfg.FieldTypes)
	if err != nil {
		return nil, err
	}

	p := &Proxy{
		cfg:     cfg,
		gateway: gateway,
		store:   store,
		schema:  s,
		logs:    logs,
	}
	p.recon = reconcile.New(p, store, cfg.Cache.ReferenceYears, logs.Logger())
	return p, nil
}

// Stats returns the cache store's current lookup statistics.
func (p *Proxy) Stats() cache.Stats {
	return p.store.Stats()
}

// Fetch resolves one operation call. With useCache set it consults the
// store first and persists a non-empty result; without it the call goes
// straight to the gateway and nothing is written, which is how the
// reconciler's gap fills stay out of the store until promotion.
func (p *Proxy) Fetch(ctx context.Context, operation string, params fingerprint.Params, useCache bool) (*models.Fragment, error) {
	log := p.logs.WithContext(ctx)

	if useCache {
		frag, err := p.store.Load(operation, params)
		if err != nil {
			return nil, err
		}
		if frag != nil {
			log.Debug("cache hit", "rows", frag.Len())
			return frag, nil
		}
	}

	frag, err := p.gateway.Call(ctx, operation, params)
	if err != nil {
		return nil, &UpstreamQueryError{
			Operation: operation,
			Stats:     p.store.Stats(),
			Err:       err,
		}
	}
	log.Debug("upstream fetch", "rows", frag.Len(), "cached", useCache)

	if useCache {
		if err := p.store.Save(operation, params, frag); err != nil {
			return nil, err
		}
	}

	return frag, nil
}

// Query is one logical query. Supplying TradeDate alone selects the
// point-in-time path; supplying Entity with Start and End selects the range
// path, which goes through incremental reconciliation when the operation's
// policy enables it. Extra carries operation-specific parameters beyond the
// date shape; nil values participate in the fingerprint but are not sent
// upstream.
type Query struct {
	Operation string
	Entity    string
	TradeDate string
	Start     string
	End       string
	Extra     fingerprint.Params
}

// Do answers one query and coerces the result against the schema.
func (p *Proxy) Do(ctx context.Context, q Query) (*models.TypedFragment, error) {
	frag, err := p.raw(ctx, q)
	if err != nil {
		return nil, err
	}
	return p.schema.Coerce(q.Operation, frag)
}

// raw answers one query without type coercion.
func (p *Proxy) raw(ctx context.Context, q Query) (*models.Fragment, error) {
	ctx = logger.WithRequestID(ctx, uuid.New().String())
	ctx = logger.WithOperation(ctx, q.Operation)
	if q.Entity != "" {
		ctx = logger.WithEntity(ctx, q.Entity)
	}
	log := p.logs.WithContext(ctx)

	policy := p.cfg.Cache.PolicyFor(q.Operation)
	incremental := policy.IncrementalUpdate &&
		q.Entity != "" && q.Start != "" && q.End != "" && q.TradeDate == ""

	if incremental {
		log.Debug("dispatching range query through reconciler",
			"start", q.Start, "end", q.End)
		return p.recon.Reconcile(ctx, reconcile.Request{
			Operation: q.Operation,
			Entity:    q.Entity,
			Start:     q.Start,
			End:       q.End,
		})
	}

	log.Debug("dispatching direct query")
	return p.Fetch(ctx, q.Operation, q.params(), true)
}

// params assembles the full parameter set of a query. Date-shape fields are
// always present, as nil when unset, so a point query and a range query for
// the same operation never share a fingerprint with an unrelated shape.
func (q Query) params() fingerprint.Params {
	params := fingerprint.Params{
		"ts_code":    scalarOrNil(q.Entity),
		"trade_date": scalarOrNil(q.TradeDate),
		"start_date": scalarOrNil(q.Start),
		"end_date":   scalarOrNil(q.End),
	}
	for k, v := range q.Extra {
		params[k] = v
	}
	return params
}

// scalarOrNil maps the empty string to an explicit nil parameter.
func scalarOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
