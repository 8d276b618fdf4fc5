// Package upstream implements the gateway to the TuShare HTTP API. Every
// request is a JSON POST naming the operation, carrying the auth token and
// the operation parameters; every response is a column-major table that the
// gateway converts to a row-major fragment. The gateway owns rate limiting
// and retry; callers see either a fragment or a classified error.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantstash/go-tushare-cache/internal/config"
	tserrors "github.com/quantstash/go-tushare-cache/internal/errors"
	"github.com/quantstash/go-tushare-cache/internal/fingerprint"
	"github.com/quantstash/go-tushare-cache/internal/models"
)

// Gateway is the upstream call surface the proxy depends on.
type Gateway interface {
	// Call executes the named operation with the given parameters and
	// returns the resulting fragment. A successful call with no matching
	// rows returns an empty fragment, not an error.
	Call(ctx context.Context, apiName string, params fingerprint.Params) (*models.Fragment, error)
}

// CallError is a failed upstream call. It carries its own retry
// classification so the retry loop does not re-parse messages.
type CallError struct {
	API        string
	StatusCode int    // HTTP status, 0 when the failure is protocol-level
	Code       int    // TuShare response code, 0 when the failure is transport-level
	Message    string
	class      tserrors.Class
}

// Error implements the error interface.
func (e *CallError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("upstream %s returned code %d: %s", e.API, e.Code, e.Message)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s returned HTTP %d: %s", e.API, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream %s failed: %s", e.API, e.Message)
}

// Classification implements the errors.Classifier interface.
func (e *CallError) Classification() tserrors.Class {
	return e.class
}

// request is the TuShare wire request.
type request struct {
	APIName string         `json:"api_name"`
	Token   string         `json:"token"`
	Params  map[string]any `json:"params"`
	Fields  string         `json:"fields"`
}

// response is the TuShare wire response. Items is column-major free-form
// JSON; values are decoded as json.Number to preserve the upstream's exact
// numeric text.
type response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Fields []string `json:"fields"`
		Items  [][]any  `json:"items"`
	} `json:"data"`
}

// Client is the HTTP implementation of Gateway.
type Client struct {
	cfg        config.UpstreamConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a gateway client from upstream configuration. The rate
// limiter spaces requests evenly across the per-minute quota rather than
// allowing bursts, which matches how the quota is enforced server-side.
func NewClient(cfg config.UpstreamConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream timeout %q: %w", cfg.Timeout, err)
	}

	interval := time.Minute / time.Duration(cfg.RateLimitPerMin)

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
		logger:     logger,
	}, nil
}

// Call executes one upstream operation, retrying transient failures per the
// configured retry policy. nil-valued parameters are omitted from the
// request body.
func (c *Client) Call(ctx context.Context, apiName string, params fingerprint.Params) (*models.Fragment, error) {
	var frag *models.Fragment

	err := tserrors.Retry(ctx, c.cfg.Retry, c.logger, apiName, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return &CallError{API: apiName, Message: err.Error(), class: tserrors.ClassPermanent}
		}

		result, err := c.doRequest(ctx, apiName, params)
		if err != nil {
			return err
		}
		frag = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	return frag, nil
}

// doRequest performs a single request/response exchange.
func (c *Client) doRequest(ctx context.Context, apiName string, params fingerprint.Params) (*models.Fragment, error) {
	body := request{
		APIName: apiName,
		Token:   c.cfg.Token,
		Params:  requestParams(params),
		Fields:  "",
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &CallError{API: apiName, Message: err.Error(), class: tserrors.ClassPermanent}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &CallError{API: apiName, Message: err.Error(), class: tserrors.ClassPermanent}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failures carry no server verdict; let message and
		// net.Error classification decide.
		return nil, fmt.Errorf("upstream %s request failed: %w", apiName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		class := tserrors.ClassPermanent
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			class = tserrors.ClassTransient
		}
		return nil, &CallError{
			API:        apiName,
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			class:      class,
		}
	}

	var wire response
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&wire); err != nil {
		return nil, &CallError{API: apiName, Message: fmt.Sprintf("malformed response: %v", err), class: tserrors.ClassPermanent}
	}

	if wire.Code != 0 {
		return nil, &CallError{
			API:     apiName,
			Code:    wire.Code,
			Message: wire.Msg,
			class:   tserrors.Classify(fmt.Errorf("%s", wire.Msg)),
		}
	}

	frag, err := fragmentFromItems(wire.Data.Fields, wire.Data.Items)
	if err != nil {
		return nil, &CallError{API: apiName, Message: err.Error(), class: tserrors.ClassPermanent}
	}

	c.logger.Debug("upstream call completed",
		"api", apiName,
		"rows", frag.Len(),
		"duration", time.Since(start))

	return frag, nil
}

// requestParams copies the fingerprint parameters into the wire shape,
// dropping nil values so the fingerprint can distinguish a nil parameter
// from an absent one without the wire request carrying JSON nulls.
func requestParams(params fingerprint.Params) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

// fragmentFromItems converts the wire table to a row-major fragment.
func fragmentFromItems(fields []string, items [][]any) (*models.Fragment, error) {
	frag := models.NewFragment(fields)
	for i, item := range items {
		if len(item) != len(fields) {
			return nil, fmt.Errorf("row %d has %d values for %d fields", i, len(item), len(fields))
		}
		row := make(models.Row, len(fields))
		for j, field := range fields {
			row[field] = itemString(item[j])
		}
		frag.Append(row)
	}
	return frag, nil
}

// itemString renders one wire value as its raw string form. Nulls become
// empty strings; numbers keep the upstream's exact text via json.Number.
func itemString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case json.Number:
		return value.String()
	case bool:
		if value {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", value)
	}
}
