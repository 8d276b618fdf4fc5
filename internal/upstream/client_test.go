package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantstash/go-tushare-cache/internal/config"
	tserrors "github.com/quantstash/go-tushare-cache/internal/errors"
	"github.com/quantstash/go-tushare-cache/internal/fingerprint"
)

func testUpstreamConfig(url string) config.UpstreamConfig {
	return config.UpstreamConfig{
		Token:           "test-token",
		BaseURL:         url,
		RateLimitPerMin: 6000,
		Timeout:         "5s",
		Retry: config.RetryPolicyConfig{
			MaxAttempts:  3,
			InitialDelay: "1ms",
			MaxDelay:     "5ms",
			Jitter:       false,
		},
	}
}

func TestClientCallDecodesColumnMajorResponse(t *testing.T) {
	var captured request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"code": 0,
			"msg": "",
			"data": {
				"fields": ["ts_code", "trade_date", "close", "vol"],
				"items": [
					["000001.SZ", "20240102", 9.51, 1234567],
					["000001.SZ", "20240103", null, 0.5]
				]
			}
		}`))
	}))
	defer server.Close()

	client, err := NewClient(testUpstreamConfig(server.URL), nil)
	require.NoError(t, err)

	frag, err := client.Call(context.Background(), "daily", fingerprint.Params{
		"ts_code":    "000001.SZ",
		"start_date": "20240101",
		"end_date":   nil,
	})
	require.NoError(t, err)
	require.Equal(t, 2, frag.Len())

	assert.Equal(t, []string{"ts_code", "trade_date", "close", "vol"}, frag.Columns)
	assert.Equal(t, "9.51", frag.Value(0, "close"), "numeric text must survive decoding unchanged")
	assert.Equal(t, "1234567", frag.Value(0, "vol"))
	assert.Equal(t, "", frag.Value(1, "close"), "null renders as empty string")
	assert.Equal(t, "0.5", frag.Value(1, "vol"))

	assert.Equal(t, "daily", captured.APIName)
	assert.Equal(t, "test-token", captured.Token)
	assert.Equal(t, "000001.SZ", captured.Params["ts_code"])
	_, present := captured.Params["end_date"]
	assert.False(t, present, "nil parameters must not reach the wire")
}

func TestClientCallEmptyResultIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": 0, "msg": "", "data": {"fields": ["ts_code"], "items": []}}`))
	}))
	defer server.Close()

	client, err := NewClient(testUpstreamConfig(server.URL), nil)
	require.NoError(t, err)

	frag, err := client.Call(context.Background(), "daily", fingerprint.Params{"ts_code": "000001.SZ"})
	require.NoError(t, err)
	assert.True(t, frag.IsEmpty())
	assert.Equal(t, []string{"ts_code"}, frag.Columns)
}

func TestClientCallProtocolErrorIsPermanent(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Write([]byte(`{"code": 2002, "msg": "token invalid", "data": null}`))
	}))
	defer server.Close()

	client, err := NewClient(testUpstreamConfig(server.URL), nil)
	require.NoError(t, err)

	_, err = client.Call(context.Background(), "daily", fingerprint.Params{"ts_code": "000001.SZ"})
	require.Error(t, err)

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, 2002, callErr.Code)
	assert.Equal(t, tserrors.ClassPermanent, callErr.Classification())
	assert.Equal(t, 1, attempts, "permanent failures must not be retried")
}

func TestClientCallQuotaErrorRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.Write([]byte(`{"code": 40101, "msg": "抱歉，您每分钟最多访问该接口50次", "data": null}`))
			return
		}
		w.Write([]byte(`{"code": 0, "msg": "", "data": {"fields": ["ts_code"], "items": [["000001.SZ"]]}}`))
	}))
	defer server.Close()

	client, err := NewClient(testUpstreamConfig(server.URL), nil)
	require.NoError(t, err)

	frag, err := client.Call(context.Background(), "daily", fingerprint.Params{"ts_code": "000001.SZ"})
	require.NoError(t, err)
	assert.Equal(t, 1, frag.Len())
	assert.Equal(t, 3, attempts)
}

func TestClientCallServerErrorIsTransient(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := testUpstreamConfig(server.URL)
	cfg.Retry.MaxAttempts = 2
	client, err := NewClient(cfg, nil)
	require.NoError(t, err)

	_, err = client.Call(context.Background(), "daily", fingerprint.Params{"ts_code": "000001.SZ"})
	require.Error(t, err)
	assert.Equal(t, 2, attempts, "5xx responses are retried up to the attempt budget")
}

func TestClientCallRaggedRowFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": 0, "msg": "", "data": {"fields": ["ts_code", "close"], "items": [["000001.SZ"]]}}`))
	}))
	defer server.Close()

	client, err := NewClient(testUpstreamConfig(server.URL), nil)
	require.NoError(t, err)

	_, err = client.Call(context.Background(), "daily", fingerprint.Params{"ts_code": "000001.SZ"})
	require.Error(t, err)

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, tserrors.ClassPermanent, callErr.Classification())
}

func TestNewClientRejectsBadTimeout(t *testing.T) {
	cfg := testUpstreamConfig("http://api.example.com")
	cfg.Timeout = "soon"

	_, err := NewClient(cfg, nil)
	assert.Error(t, err)
}
