// Package resolver picks a chat vendor for a model, calls it, and falls back
// through the remaining vendors in a fixed order. A chat turn never fails hard:
// when every vendor fails the caller gets a canned offline reply.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"yasmin/internal/config"
	"yasmin/internal/models"
	"yasmin/internal/provider"
)

// Outcome is the terminal state of one resolution.
type Outcome string

const (
	Delivered            Outcome = "delivered"
	DeliveredWithWarning Outcome = "delivered_with_warning"
	AllProvidersFailed   Outcome = "all_providers_failed"
)

// Request is one chat turn to resolve.
type Request struct {
	Model          string
	Turns          []provider.Turn
	Temperature    float32
	MaxTokens      int
	ConversationID string
}

// Attempt records what happened with one candidate vendor.
type Attempt struct {
	Vendor  provider.Vendor
	Model   string
	Skipped bool
	Err     error
}

// Result is what the caller stores and shows. Text is always non-empty.
type Result struct {
	Outcome  Outcome
	Text     string
	Warning  string
	Vendor   provider.Vendor
	Model    string
	Attempts []Attempt
	Err      error
}

// OK reports whether a vendor produced the reply.
func (r Result) OK() bool { return r.Outcome == Delivered }

// Resolver owns one adapter per vendor.
type Resolver struct {
	adapters       map[provider.Vendor]provider.ChatAdapter
	defaultModel   string
	offlinePhrases bool
	maxAttempts    int
	breaker        *breaker
	log            *zap.Logger
}

// New builds a resolver over the given adapters. Vendors without an adapter
// are treated as unconfigured.
func New(cfg config.ResolverConfig, log *zap.Logger, adapters ...provider.ChatAdapter) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Resolver{
		adapters:       make(map[provider.Vendor]provider.ChatAdapter, len(adapters)),
		defaultModel:   cfg.DefaultModel,
		offlinePhrases: cfg.OfflinePhrases,
		maxAttempts:    cfg.MaxAttempts,
		breaker:        newBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		log:            log,
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = 1
	}
	for _, a := range adapters {
		if a != nil {
			r.adapters[a.Vendor()] = a
		}
	}
	return r
}

// Configured reports whether at least one chat vendor can be called.
func (r *Resolver) Configured() bool {
	for _, a := range r.adapters {
		if a.Configured() {
			return true
		}
	}
	return false
}

// Resolve tries the candidate vendors strictly in order, one blocking call at
// a time. The requested model name goes to the first candidate, and on to
// OpenRouter when it is a catalog id and no vendor was called before it;
// every other fallback uses its own default model. An empty model routes
// OpenRouter first with the configured default model.
func (r *Resolver) Resolve(ctx context.Context, req Request) Result {
	requested := strings.TrimSpace(req.Model)
	modelName := requested
	if modelName == "" {
		modelName = r.defaultModel
	}
	log := r.log.With(zap.String("conversation_id", req.ConversationID), zap.String("requested_model", modelName))

	var (
		attempts []Attempt
		errs     []error
		called   bool
	)
	for i, vendor := range Route(requested) {
		name := ""
		if i == 0 || (vendor == provider.VendorOpenRouter && !called && openRouterID(modelName)) {
			name = modelName
		}
		adapter := r.adapters[vendor]
		if adapter == nil || !adapter.Configured() {
			attempts = append(attempts, Attempt{Vendor: vendor, Model: name, Skipped: true, Err: provider.ErrUnconfigured})
			continue
		}
		if !r.breaker.allow(vendor) {
			log.Debug("vendor skipped by breaker", zap.String("vendor", string(vendor)))
			attempts = append(attempts, Attempt{Vendor: vendor, Model: name, Skipped: true})
			continue
		}

		called = true
		text, err := r.call(ctx, adapter, provider.ChatRequest{
			Model:       name,
			Turns:       req.Turns,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		})
		attempts = append(attempts, Attempt{Vendor: vendor, Model: name, Err: err})
		if err == nil {
			r.breaker.success(vendor)
			return Result{Outcome: Delivered, Text: text, Vendor: vendor, Model: name, Attempts: attempts}
		}

		if errors.Is(err, provider.ErrSafetyBlocked) {
			log.Warn("vendor safety filter triggered", zap.String("vendor", string(vendor)), zap.Error(err))
			warning := safetyWarning(err)
			return Result{
				Outcome:  DeliveredWithWarning,
				Text:     FormatWarning(warning),
				Warning:  warning,
				Vendor:   vendor,
				Model:    name,
				Attempts: attempts,
				Err:      err,
			}
		}

		r.breaker.failure(vendor)
		errs = append(errs, err)
		log.Warn("vendor failed, falling back", zap.String("vendor", string(vendor)), zap.String("model", name), zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}

	err := errors.Join(errs...)
	if err == nil {
		err = fmt.Errorf("no chat vendor configured: %w", provider.ErrUnconfigured)
	}
	log.Error("all vendors failed", zap.Error(err))
	return Result{
		Outcome:  AllProvidersFailed,
		Text:     r.offlineReply(lastUserMessage(req.Turns)),
		Warning:  allFailedReason,
		Attempts: attempts,
		Err:      err,
	}
}

func (r *Resolver) call(ctx context.Context, adapter provider.ChatAdapter, req provider.ChatRequest) (string, error) {
	var err error
	for try := 0; try < r.maxAttempts; try++ {
		var text string
		text, err = adapter.Chat(ctx, req)
		if err == nil {
			return text, nil
		}
		if errors.Is(err, provider.ErrSafetyBlocked) || ctx.Err() != nil {
			return "", err
		}
	}
	return "", err
}

func lastUserMessage(turns []provider.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == models.RoleUser {
			return turns[i].Content
		}
	}
	return ""
}
