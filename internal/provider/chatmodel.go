package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"yasmin/internal/config"
	"yasmin/internal/models"
)

const (
	defaultOpenAIModel     = "gpt-4o"
	defaultAnthropicModel  = "claude-3-5-sonnet-20241022"
	defaultOpenRouterModel = "openai/gpt-3.5-turbo"
	defaultOpenRouterURL   = "https://openrouter.ai/api/v1"

	anthropicMaxTokens = 2000
	anthropicAck       = "I'll follow those instructions."
)

// Site identifies this deployment to vendors that ask for attribution headers.
type Site struct {
	URL   string
	Title string
}

// ChatModelAdapter drives any eino chat model. The vendor specific parts are
// the message conversion and the model name mapping.
type ChatModelAdapter struct {
	vendor       Vendor
	defaultModel string
	timeout      time.Duration
	chat         model.BaseChatModel
	convert      func([]Turn) []*schema.Message
	modelName    func(requested, fallback string) string
}

func (a *ChatModelAdapter) Vendor() Vendor { return a.vendor }

func (a *ChatModelAdapter) Configured() bool { return a != nil && a.chat != nil }

// Chat sends the turns with the persona applied and returns the reply text.
func (a *ChatModelAdapter) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if !a.Configured() {
		return "", unconfigured(a.vendor)
	}
	messages := a.convert(withPersona(req.Turns))
	name := a.modelName(req.Model, a.defaultModel)

	ctx, cancel := callContext(ctx, a.timeout)
	defer cancel()
	ctx, status := withStatusRecorder(ctx)

	opts := []model.Option{
		model.WithModel(name),
		model.WithTemperature(clampTemperature(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	out, err := a.chat.Generate(ctx, messages, opts...)
	if err != nil {
		return "", classify(ctx, a.vendor, *status, err)
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return "", malformed(a.vendor, "empty completion from %s", name)
	}
	return out.Content, nil
}

// NewOpenAI builds the OpenAI chat adapter.
func NewOpenAI(ctx context.Context, cfg config.ProviderConfig, timeout time.Duration) (*ChatModelAdapter, error) {
	a := &ChatModelAdapter{
		vendor:       VendorOpenAI,
		defaultModel: pick(cfg.Model, defaultOpenAIModel),
		timeout:      timeout,
		convert:      toSchemaMessages,
		modelName:    openAIModelName,
	}
	if !cfg.Enabled() {
		return a, nil
	}
	chat, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      a.defaultModel,
		HTTPClient: newHTTPClient(nil, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("init openai chat model: %w", err)
	}
	a.chat = chat
	return a, nil
}

// NewOpenRouter builds the OpenRouter adapter over the OpenAI-compatible API.
func NewOpenRouter(ctx context.Context, cfg config.ProviderConfig, site Site, timeout time.Duration) (*ChatModelAdapter, error) {
	a := &ChatModelAdapter{
		vendor:       VendorOpenRouter,
		defaultModel: pick(cfg.Model, defaultOpenRouterModel),
		timeout:      timeout,
		convert:      toSchemaMessages,
		modelName:    openRouterModelName,
	}
	if !cfg.Enabled() {
		return a, nil
	}
	chat, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: pick(cfg.BaseURL, defaultOpenRouterURL),
		Model:   a.defaultModel,
		HTTPClient: newHTTPClient(nil, map[string]string{
			"HTTP-Referer": site.URL,
			"X-Title":      site.Title,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("init openrouter chat model: %w", err)
	}
	a.chat = chat
	return a, nil
}

// NewAnthropic builds the Anthropic adapter.
func NewAnthropic(ctx context.Context, cfg config.ProviderConfig, timeout time.Duration) (*ChatModelAdapter, error) {
	a := &ChatModelAdapter{
		vendor:       VendorAnthropic,
		defaultModel: pick(cfg.Model, defaultAnthropicModel),
		timeout:      timeout,
		convert:      toAnthropicMessages,
		modelName:    anthropicModelName,
	}
	if !cfg.Enabled() {
		return a, nil
	}
	var baseURL *string
	if cfg.BaseURL != "" {
		baseURL = &cfg.BaseURL
	}
	chat, err := claude.NewChatModel(ctx, &claude.Config{
		APIKey:    cfg.APIKey,
		Model:     a.defaultModel,
		BaseURL:   baseURL,
		MaxTokens: anthropicMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("init anthropic chat model: %w", err)
	}
	a.chat = chat
	return a, nil
}

func schemaRole(role models.Role) schema.RoleType {
	switch role {
	case models.RoleAssistant:
		return schema.Assistant
	case models.RoleSystem:
		return schema.System
	default:
		return schema.User
	}
}

func toSchemaMessages(turns []Turn) []*schema.Message {
	messages := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, &schema.Message{Role: schemaRole(t.Role), Content: t.Content})
	}
	return messages
}

// toAnthropicMessages folds system turns into a leading user/assistant
// exchange, since the messages API only accepts user and assistant roles.
func toAnthropicMessages(turns []Turn) []*schema.Message {
	messages := make([]*schema.Message, 0, len(turns)+1)
	var rest []*schema.Message
	for _, t := range turns {
		if t.Role == models.RoleSystem {
			messages = append(messages,
				&schema.Message{Role: schema.User, Content: "System: " + t.Content},
				&schema.Message{Role: schema.Assistant, Content: anthropicAck},
			)
			continue
		}
		rest = append(rest, &schema.Message{Role: schemaRole(t.Role), Content: t.Content})
	}
	return append(messages, rest...)
}

func openAIModelName(requested, fallback string) string {
	name := strings.TrimSpace(requested)
	name = strings.TrimPrefix(name, "openai/")
	if name == "" {
		return fallback
	}
	return name
}

func anthropicModelName(requested, fallback string) string {
	name := strings.TrimSpace(requested)
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return fallback
	}
	return name
}

func openRouterModelName(requested, fallback string) string {
	name := strings.TrimSpace(requested)
	switch name {
	case "":
		return fallback
	case "gemini-1.5-pro", "gemini-1.5-flash", "google/gemini-1.5-pro", "google/gemini-1.5-flash":
		return "google/gemini-pro"
	}
	return name
}
