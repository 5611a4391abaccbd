package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"yasmin/internal/config"
)

const (
	visionModel     = "gpt-4o"
	visionMaxTokens = 800
	VisionPrompt    = "قم بتحليل هذه الصورة بالتفصيل باللغة العربية. صف العناصر الرئيسية فيها، والسياق، وأي جوانب ملحوظة. ركز على وصف دقيق وشامل."
)

// Vision describes images with an OpenAI multimodal chat model.
type Vision struct {
	chat    model.BaseChatModel
	timeout time.Duration
}

func NewVision(ctx context.Context, cfg config.ProviderConfig, timeout time.Duration) (*Vision, error) {
	v := &Vision{timeout: timeout}
	if !cfg.Enabled() {
		return v, nil
	}
	maxTokens := visionMaxTokens
	chat, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      visionModel,
		MaxTokens:  &maxTokens,
		HTTPClient: newHTTPClient(nil, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("init vision model: %w", err)
	}
	v.chat = chat
	return v, nil
}

func (v *Vision) Configured() bool { return v != nil && v.chat != nil }

// Describe returns an Arabic description of the image.
func (v *Vision) Describe(ctx context.Context, image []byte, mimeType string) (string, error) {
	if !v.Configured() {
		return "", unconfigured(VendorOpenAI)
	}
	dataURI := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
	msg := &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: VisionPrompt},
			{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: dataURI}},
		},
	}

	ctx, cancel := callContext(ctx, v.timeout)
	defer cancel()
	ctx, status := withStatusRecorder(ctx)
	out, err := v.chat.Generate(ctx, []*schema.Message{msg}, model.WithMaxTokens(visionMaxTokens))
	if err != nil {
		return "", classify(ctx, VendorOpenAI, *status, err)
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return "", malformed(VendorOpenAI, "empty image description")
	}
	return out.Content, nil
}
