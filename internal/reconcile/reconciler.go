// Package reconcile implements incremental range reconciliation. A range
// query is answered from a trailing reference window of cached data; only
// the sub-ranges missing from that window are fetched upstream. The merged
// window is persisted once, under parameters reflecting its actual bounds,
// so overlapping queries converge onto one growing cache entry instead of
// one entry per distinct (start, end) pair.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantstash/go-tushare-cache/internal/fingerprint"
	"github.com/quantstash/go-tushare-cache/internal/models"
)

// DateLayout is the eight-digit date format used by all upstream operations.
// Lexicographic comparison of dates in this layout matches chronological
// order, which the projection step relies on.
const DateLayout = "20060102"

// Fetcher resolves one operation call, optionally through the cache. Fills
// for missing sub-ranges pass useCache=false so partial windows are neither
// read from nor written to the store.
type Fetcher interface {
	Fetch(ctx context.Context, operation string, params fingerprint.Params, useCache bool) (*models.Fragment, error)
}

// Store is the subset of the cache store the reconciler needs for window
// promotion.
type Store interface {
	Save(operation string, params fingerprint.Params, frag *models.Fragment) error
	Delete(operation string, params fingerprint.Params) error
}

// Request is one range-shaped query: an entity and an inclusive date range.
type Request struct {
	Operation string
	Entity    string // security code, e.g. "000001.SZ"
	Start     string // YYYYMMDD, inclusive
	End       string // YYYYMMDD, inclusive
}

// Reconciler answers range requests against a trailing reference window.
type Reconciler struct {
	fetcher        Fetcher
	store          Store
	referenceYears int
	logger         *slog.Logger
	now            func() time.Time
}

// New creates a reconciler. referenceYears sets the trailing reference
// window anchored at the current date.
func New(fetcher Fetcher, store Store, referenceYears int, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		fetcher:        fetcher,
		store:          store,
		referenceYears: referenceYears,
		logger:         logger,
		now:            time.Now,
	}
}

// Reconcile answers one range request. It loads the reference window
// through the cache, fetches at most one early and one late gap with
// caching bypassed, merges in memory, persists the widened window once if
// any boundary advanced, and returns only the rows inside the requested
// range.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (*models.Fragment, error) {
	reqStart, err := parseDate(req.Start)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", req.Start, err)
	}
	reqEnd, err := parseDate(req.End)
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", req.End, err)
	}
	if reqEnd.Before(reqStart) {
		return nil, fmt.Errorf("range end %s precedes start %s", req.End, req.Start)
	}

	refEnd := r.now()
	refStart := refEnd.AddDate(-r.referenceYears, 0, 0)

	baseParams := r.windowParams(req.Entity, refStart, refEnd)
	merged, err := r.fetcher.Fetch(ctx, req.Operation, baseParams, true)
	if err != nil {
		return nil, err
	}

	currentMin := refStart
	currentMax := refEnd
	needEarly := reqStart.Before(currentMin)
	needLate := reqEnd.After(currentMax)
	earlyFilled := false
	lateFilled := false

	if needEarly {
		earlyParams := r.windowParams(req.Entity, reqStart, currentMin.AddDate(0, 0, -1))
		early, err := r.fetcher.Fetch(ctx, req.Operation, earlyParams, false)
		if err != nil {
			return nil, err
		}
		// An empty fill leaves the boundary where it was; the absence is
		// re-checked on the next request rather than recorded.
		if !early.IsEmpty() {
			merged = mergePreferFirst(early, merged)
			currentMin = reqStart
			earlyFilled = true
		}
	}

	if needLate {
		lateParams := r.windowParams(req.Entity, currentMax.AddDate(0, 0, 1), reqEnd)
		late, err := r.fetcher.Fetch(ctx, req.Operation, lateParams, false)
		if err != nil {
			return nil, err
		}
		if !late.IsEmpty() {
			merged = mergePreferLast(merged, late)
			currentMax = reqEnd
			lateFilled = true
		}
	}

	if earlyFilled || lateFilled {
		if err := r.store.Delete(req.Operation, baseParams); err != nil {
			return nil, err
		}
		newParams := r.windowParams(req.Entity, currentMin, currentMax)
		if err := r.store.Save(req.Operation, newParams, merged); err != nil {
			return nil, err
		}
		r.logger.Debug("promoted cached window",
			"operation", req.Operation,
			"entity", req.Entity,
			"window_start", formatDate(currentMin),
			"window_end", formatDate(currentMax),
			"rows", merged.Len())
	}

	return project(merged, req.Start, req.End), nil
}

// windowParams builds the parameter set identifying one entity window.
func (r *Reconciler) windowParams(entity string, start, end time.Time) fingerprint.Params {
	return fingerprint.Params{
		"ts_code":    entity,
		"start_date": formatDate(start),
		"end_date":   formatDate(end),
	}
}

// rowKey identifies one row for de-duplication.
func rowKey(row models.Row) string {
	return row["ts_code"] + "\x00" + row["trade_date"]
}

// mergePreferFirst places fresh rows ahead of base rows, dropping base rows
// whose (entity, date) key the fresh fragment already covers.
func mergePreferFirst(fresh, base *models.Fragment) *models.Fragment {
	out := models.NewFragment(mergedColumns(base, fresh))
	seen := make(map[string]struct{}, fresh.Len())
	for _, row := range fresh.Rows {
		seen[rowKey(row)] = struct{}{}
		out.Append(row)
	}
	if base != nil {
		for _, row := range base.Rows {
			if _, dup := seen[rowKey(row)]; !dup {
				out.Append(row)
			}
		}
	}
	return out
}

// mergePreferLast places fresh rows behind base rows, dropping base rows
// whose (entity, date) key the fresh fragment supersedes.
func mergePreferLast(base, fresh *models.Fragment) *models.Fragment {
	out := models.NewFragment(mergedColumns(base, fresh))
	seen := make(map[string]struct{}, fresh.Len())
	for _, row := range fresh.Rows {
		seen[rowKey(row)] = struct{}{}
	}
	if base != nil {
		for _, row := range base.Rows {
			if _, dup := seen[rowKey(row)]; !dup {
				out.Append(row)
			}
		}
	}
	for _, row := range fresh.Rows {
		out.Append(row)
	}
	return out
}

// mergedColumns picks the column order of the merged fragment: the base
// window's order when it has one, otherwise the fresh fetch's.
func mergedColumns(base, fresh *models.Fragment) []string {
	if base != nil && len(base.Columns) > 0 {
		return base.Columns
	}
	if fresh != nil {
		return fresh.Columns
	}
	return nil
}

// project returns the rows whose trade date falls inside [start, end]
// inclusive. Dates compare lexicographically in the eight-digit layout.
func project(frag *models.Fragment, start, end string) *models.Fragment {
	if frag == nil {
		return models.NewFragment(nil)
	}
	out := models.NewFragment(frag.Columns)
	for _, row := range frag.Rows {
		date := row["trade_date"]
		if date >= start && date <= end {
			out.Append(row)
		}
	}
	return out
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

func formatDate(t time.Time) string {
	return t.Format(DateLayout)
}
