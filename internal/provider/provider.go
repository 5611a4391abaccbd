// Package provider adapts the chat and media vendors to one request shape.
// Adapters are stateless after construction; a missing credential leaves an
// adapter unconfigured and every call fails with ErrUnconfigured.
package provider

import (
	"context"
	"strings"
	"time"

	"yasmin/internal/models"
)

// Vendor names one chat backend.
type Vendor string

const (
	VendorOpenAI     Vendor = "openai"
	VendorAnthropic  Vendor = "anthropic"
	VendorGemini     Vendor = "gemini"
	VendorOpenRouter Vendor = "openrouter"
	VendorElevenLabs Vendor = "elevenlabs"
	VendorDALLE      Vendor = "dalle"
	VendorStability  Vendor = "stability"
	VendorTranslate  Vendor = "translate"
)

// DefaultTimeout bounds a single vendor call when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// PersonaPrompt is the system turn added to chats that carry none.
const PersonaPrompt = "يجب تقديم الإجابات باللغة العربية الفصحى مع التشكيل للكلمات المهمة."

// Turn is one role-tagged message handed to a chat vendor.
type Turn struct {
	Role    models.Role
	Content string
}

// ChatRequest is the vendor-neutral chat call. An empty Model selects the
// adapter's default model.
type ChatRequest struct {
	Model       string
	Turns       []Turn
	Temperature float32
	MaxTokens   int
}

// ChatAdapter is implemented by every chat vendor.
type ChatAdapter interface {
	Vendor() Vendor
	Configured() bool
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// TurnsFromMessages converts stored history into chat turns.
func TurnsFromMessages(messages []*models.Message) []Turn {
	turns := make([]Turn, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		turns = append(turns, Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}

func clampTemperature(t float32) float32 {
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

// withPersona prepends the persona system turn unless one is already present.
func withPersona(turns []Turn) []Turn {
	for _, t := range turns {
		if t.Role == models.RoleSystem {
			return turns
		}
	}
	out := make([]Turn, 0, len(turns)+1)
	out = append(out, Turn{Role: models.RoleSystem, Content: PersonaPrompt})
	return append(out, turns...)
}

func callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func pick(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
