package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yasmin/internal/cache"
	"yasmin/internal/config"
)

func TestModelCatalogCachesVendorList(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/models", r.URL.Path)
		assert.Equal(t, "Bearer or-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":[{"id":"openai/gpt-4o","name":"GPT-4o","context_length":128000,"pricing":{"prompt":"0.000005","completion":"0.000015"}}]}`))
	}))
	defer srv.Close()

	c := NewModelCatalog(config.ProviderConfig{APIKey: "or-key", BaseURL: srv.URL}, cache.NewMemory(time.Minute), time.Second, nil)
	got := c.Models(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, "openai/gpt-4o", got[0].ID)
	assert.Equal(t, 128000, got[0].ContextLength)
	require.NotNil(t, got[0].Pricing)
	assert.Equal(t, "0.000005", got[0].Pricing.Prompt)

	again := c.Models(context.Background())
	assert.Equal(t, got, again)
	assert.Equal(t, int32(1), hits.Load())
}

func TestModelCatalogFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewModelCatalog(config.ProviderConfig{APIKey: "or-key", BaseURL: srv.URL}, nil, time.Second, nil)
	assert.Equal(t, DefaultModels, c.Models(context.Background()))

	unconfigured := NewModelCatalog(config.ProviderConfig{}, nil, time.Second, nil)
	assert.Equal(t, DefaultModels, unconfigured.Models(context.Background()))
}

func TestVendorTransportHeadersAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "http://localhost:5000", r.Header.Get("HTTP-Referer"))
		assert.Equal(t, "Yasmin", r.Header.Get("X-Title"))
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newHTTPClient(nil, map[string]string{"HTTP-Referer": "http://localhost:5000", "X-Title": "Yasmin"})
	ctx, status := withStatusRecorder(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, *status)
}
