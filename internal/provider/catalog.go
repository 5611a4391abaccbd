package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"yasmin/internal/cache"
	"yasmin/internal/config"
)

const (
	catalogTTL      = 10 * time.Minute
	modelCatalogKey = "catalog:models"
)

// Model is one selectable chat model.
type Model struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	ContextLength int      `json:"context_length,omitempty"`
	Pricing       *Pricing `json:"pricing,omitempty"`
}

type Pricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// DefaultModels is served when the OpenRouter catalog is unavailable.
var DefaultModels = []Model{
	{ID: "gpt-4o", Name: "GPT-4o"},
	{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo"},
	{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro"},
	{ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash"},
	{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet"},
	{ID: "claude-3-opus-20240229", Name: "Claude 3 Opus"},
	{ID: "claude-3-sonnet-20240229", Name: "Claude 3 Sonnet"},
	{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku"},
	{ID: "anthropic/claude-3-opus", Name: "Claude 3 Opus (OpenRouter)"},
	{ID: "anthropic/claude-3-sonnet", Name: "Claude 3 Sonnet (OpenRouter)"},
}

// ModelCatalog lists the models OpenRouter offers, cached for ten minutes.
type ModelCatalog struct {
	apiKey  string
	baseURL string
	client  *http.Client
	timeout time.Duration
	cache   cache.Cache
	log     *zap.Logger
}

func NewModelCatalog(cfg config.ProviderConfig, c cache.Cache, timeout time.Duration, log *zap.Logger) *ModelCatalog {
	if log == nil {
		log = zap.NewNop()
	}
	return &ModelCatalog{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(pick(cfg.BaseURL, defaultOpenRouterURL), "/"),
		client:  newHTTPClient(nil, nil),
		timeout: timeout,
		cache:   c,
		log:     log,
	}
}

// Models never fails: any vendor or cache problem falls back to DefaultModels.
func (c *ModelCatalog) Models(ctx context.Context) []Model {
	if strings.TrimSpace(c.apiKey) == "" {
		return DefaultModels
	}
	if c.cache != nil {
		if raw, ok, err := c.cache.Get(ctx, modelCatalogKey); err != nil {
			c.log.Warn("model catalog cache read failed", zap.Error(err))
		} else if ok {
			var cached []Model
			if err := json.Unmarshal([]byte(raw), &cached); err == nil && len(cached) > 0 {
				return cached
			}
		}
	}

	fetched, err := c.fetch(ctx)
	if err != nil {
		c.log.Warn("model catalog fetch failed", zap.Error(err))
		return DefaultModels
	}
	if len(fetched) == 0 {
		return DefaultModels
	}
	if c.cache != nil {
		if data, err := json.Marshal(fetched); err == nil {
			if err := c.cache.Set(ctx, modelCatalogKey, string(data), catalogTTL); err != nil {
				c.log.Warn("model catalog cache write failed", zap.Error(err))
			}
		}
	}
	return fetched
}

func (c *ModelCatalog) fetch(ctx context.Context) ([]Model, error) {
	ctx, cancel := callContext(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classify(ctx, VendorOpenRouter, 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, newError(VendorOpenRouter, KindRemoteRejected, resp.StatusCode, fmt.Errorf("list models"))
	}
	var payload struct {
		Data []Model `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, malformed(VendorOpenRouter, "decode models: %v", err)
	}
	return payload.Data, nil
}
