package resolver

import (
	"context"
	"fmt"
	"strings"

	"yasmin/internal/models"
	"yasmin/internal/provider"
)

const (
	codePrompt     = "أنت مبرمج محترف. اكتب كودًا عالي الجودة استنادًا إلى الوصف المقدم."
	codeLanguage   = " استخدم لغة %s لكتابة الكود."
	codeGuidelines = " قدم تعليقات توضيحية وشرحًا للكود. تأكد من أن الكود قابل للتنفيذ وخالٍ من الأخطاء."
	summaryPrompt  = "قم بتلخيص المحادثة التالية في نقاط رئيسية موجزة"

	codeModel     = "gpt-4o"
	codeMaxTokens = 2000
	taskTemp      = 0.7
)

// GenerateCode asks for code matching prompt, optionally in a given language.
func (r *Resolver) GenerateCode(ctx context.Context, prompt, language, model string) Result {
	system := codePrompt
	if lang := strings.TrimSpace(language); lang != "" {
		system += fmt.Sprintf(codeLanguage, lang)
	}
	system += codeGuidelines
	if strings.TrimSpace(model) == "" {
		model = codeModel
	}
	return r.Resolve(ctx, Request{
		Model: model,
		Turns: []provider.Turn{
			{Role: models.RoleSystem, Content: system},
			{Role: models.RoleUser, Content: prompt},
		},
		Temperature: taskTemp,
		MaxTokens:   codeMaxTokens,
	})
}

// Summarize condenses a conversation transcript into key points.
func (r *Resolver) Summarize(ctx context.Context, conversationID string, turns []provider.Turn, model string) Result {
	var b strings.Builder
	for _, t := range turns {
		if t.Role == models.RoleSystem {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	return r.Resolve(ctx, Request{
		Model: model,
		Turns: []provider.Turn{
			{Role: models.RoleSystem, Content: summaryPrompt},
			{Role: models.RoleUser, Content: strings.TrimSpace(b.String())},
		},
		Temperature:    taskTemp,
		MaxTokens:      1000,
		ConversationID: conversationID,
	})
}

// Reply answers a single message without history, as the room bot does.
func (r *Resolver) Reply(ctx context.Context, message string) Result {
	return r.Resolve(ctx, Request{
		Turns:       []provider.Turn{{Role: models.RoleUser, Content: message}},
		Temperature: taskTemp,
		MaxTokens:   1000,
	})
}
