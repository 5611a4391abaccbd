package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"yasmin/internal/config"
	"yasmin/internal/models"
)

const defaultGeminiModel = "gemini-1.5-flash-latest"

type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini calls the Gemini API directly so prompt feedback and finish reasons
// are visible to the adapter.
type Gemini struct {
	models       geminiModels
	defaultModel string
	timeout      time.Duration
}

// NewGemini builds the Gemini adapter.
func NewGemini(ctx context.Context, cfg config.ProviderConfig, timeout time.Duration) (*Gemini, error) {
	g := &Gemini{defaultModel: pick(cfg.Model, defaultGeminiModel), timeout: timeout}
	if !cfg.Enabled() {
		return g, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  newHTTPClient(nil, nil),
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	g.models = client.Models
	return g, nil
}

func (g *Gemini) Vendor() Vendor { return VendorGemini }

func (g *Gemini) Configured() bool { return g != nil && g.models != nil }

func (g *Gemini) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if !g.Configured() {
		return "", unconfigured(VendorGemini)
	}
	system, contents := toGeminiContents(withPersona(req.Turns))
	if len(contents) == 0 || contents[len(contents)-1].Role != string(genai.RoleUser) {
		return "", newError(VendorGemini, KindRemoteRejected, 0, errors.New("conversation must end with a user turn"))
	}

	name := strings.TrimPrefix(strings.TrimSpace(req.Model), "google/")
	if name == "" {
		name = g.defaultModel
	}
	temperature := clampTemperature(req.Temperature)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: system,
		Temperature:       &temperature,
		TopP:              genai.Ptr[float32](0.95),
		TopK:              genai.Ptr[float32](40),
		SafetySettings:    geminiSafetySettings(),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	ctx, cancel := callContext(ctx, g.timeout)
	defer cancel()
	ctx, status := withStatusRecorder(ctx)

	resp, err := g.models.GenerateContent(ctx, name, contents, cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", newError(VendorGemini, KindRemoteRejected, apiErr.Code, err)
		}
		return "", classify(ctx, VendorGemini, *status, err)
	}
	return geminiText(resp)
}

func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", malformed(VendorGemini, "nil response")
	}
	if len(resp.Candidates) == 0 {
		reason := "no candidates"
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			reason = "prompt blocked: " + string(resp.PromptFeedback.BlockReason)
		}
		return "", newError(VendorGemini, KindSafetyBlocked, 0, errors.New(reason))
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", newError(VendorGemini, KindSafetyBlocked, 0, errors.New("response blocked: SAFETY"))
	}
	if candidate.Content == nil {
		return "", malformed(VendorGemini, "candidate without content")
	}
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", malformed(VendorGemini, "candidate without text")
	}
	return b.String(), nil
}

// toGeminiContents maps user turns to "user" and everything else to "model";
// system turns become the system instruction.
func toGeminiContents(turns []Turn) (*genai.Content, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case models.RoleSystem:
			system = append(system, t.Content)
		case models.RoleUser:
			contents = append(contents, genai.NewContentFromText(t.Content, genai.RoleUser))
		default:
			contents = append(contents, genai.NewContentFromText(t.Content, genai.RoleModel))
		}
	}
	if len(system) == 0 {
		return nil, contents
	}
	return genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser), contents
}

func geminiSafetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	settings := make([]*genai.SafetySetting, 0, len(categories))
	for _, c := range categories {
		settings = append(settings, &genai.SafetySetting{
			Category:  c,
			Threshold: genai.HarmBlockThresholdBlockMediumAndAbove,
		})
	}
	return settings
}
