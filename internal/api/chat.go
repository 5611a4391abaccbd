package api

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"yasmin/internal/apperr"
	"yasmin/internal/models"
	"yasmin/internal/provider"
	"yasmin/internal/resolver"
)

const (
	defaultTemperature float32 = 0.7
	defaultMaxTokens           = 2000

	safetyMessage = "عذرًا، تم حظر المحتوى بواسطة فلتر السلامة"
)

type messageRequest struct {
	Message      string   `json:"message" validate:"required,max=32000"`
	Model        string   `json:"model" validate:"max=200"`
	Temperature  *float32 `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxTokens    int      `json:"max_tokens" validate:"omitempty,gte=1,lte=32000"`
	VoiceEnabled bool     `json:"voice_enabled"`
	VoiceID      string   `json:"voice_id"`
}

type chatRequest struct {
	messageRequest
	ConversationID string `json:"conversation_id"`
}

type turnResponse struct {
	Success          bool            `json:"success"`
	ConversationID   string          `json:"conversation_id"`
	UserMessage      *models.Message `json:"user_message"`
	AssistantMessage *models.Message `json:"assistant_message"`
	Message          string          `json:"message"`
	Outcome          string          `json:"outcome"`
	Warning          string          `json:"warning,omitempty"`
	Audio            string          `json:"audio,omitempty"`
}

func (h *Handler) postMessage(c *gin.Context) {
	var req messageRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	h.runTurn(c, c.Param("id"), req)
}

// chat is the alternate shape: a missing conversation id starts a new conversation.
func (h *Handler) chat(c *gin.Context) {
	var req chatRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		h.respondError(c, fmt.Errorf("%w: message is required", apperr.ErrValidation))
		return
	}
	convID := strings.TrimSpace(req.ConversationID)
	if convID == "" {
		conv, err := h.Store.CreateConversation(c.Request.Context(), "")
		if err != nil {
			h.respondError(c, err)
			return
		}
		convID = conv.ID
	}
	h.runTurn(c, convID, req.messageRequest)
}

// runTurn stores the user message, resolves a reply over the full history and
// stores that reply too, even when it is only an apology.
func (h *Handler) runTurn(c *gin.Context, convID string, req messageRequest) {
	ctx := c.Request.Context()
	if strings.TrimSpace(req.Message) == "" {
		h.respondError(c, fmt.Errorf("%w: message is required", apperr.ErrValidation))
		return
	}

	userMsg, err := h.Store.AppendMessage(ctx, convID, models.RoleUser, req.Message, nil)
	if err != nil {
		h.respondError(c, err)
		return
	}
	history, err := h.Store.History(ctx, convID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	res := h.Resolver.Resolve(ctx, resolver.Request{
		Model:          req.Model,
		Turns:          provider.TurnsFromMessages(history),
		Temperature:    temperatureOrDefault(req.Temperature),
		MaxTokens:      maxTokensOrDefault(req.MaxTokens),
		ConversationID: convID,
	})

	assistantMsg, err := h.Store.AppendMessage(ctx, convID, models.RoleAssistant, res.Text, resultMetadata(res))
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := turnResponse{
		Success:          res.OK(),
		ConversationID:   convID,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Message:          res.Text,
		Outcome:          string(res.Outcome),
		Warning:          res.Warning,
	}
	if req.VoiceEnabled {
		resp.Audio = h.speak(c, res.Text, req.VoiceID)
	}
	c.JSON(http.StatusOK, resp)
}

// speak returns base64 audio, or "" when speech is unavailable. It never fails the turn.
func (h *Handler) speak(c *gin.Context, text, voiceID string) string {
	if h.Speech == nil || !h.Speech.Configured() {
		return ""
	}
	audio, err := h.Speech.Synthesize(c.Request.Context(), text, voiceID)
	if err != nil {
		h.log.Warn("speech for chat turn failed", zap.Error(err))
		return ""
	}
	return base64.StdEncoding.EncodeToString(audio)
}

type regenerateRequest struct {
	Model       string   `json:"model" validate:"max=200"`
	Temperature *float32 `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   int      `json:"max_tokens" validate:"omitempty,gte=1,lte=32000"`
}

// regenerate re-asks with the history before the last assistant message and
// overwrites that message in place.
func (h *Handler) regenerate(c *gin.Context) {
	var req regenerateRequest
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &req); err != nil {
			h.respondError(c, err)
			return
		}
	}
	ctx := c.Request.Context()
	convID := c.Param("id")
	history, err := h.Store.History(ctx, convID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	last := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleAssistant {
			last = i
			break
		}
	}
	if last < 0 {
		h.respondError(c, fmt.Errorf("no assistant message to regenerate: %w", apperr.ErrNotFound))
		return
	}
	if last != len(history)-1 {
		h.respondError(c, fmt.Errorf("a user turn follows the last assistant message: %w", apperr.ErrConflict))
		return
	}

	res := h.Resolver.Resolve(ctx, resolver.Request{
		Model:          req.Model,
		Turns:          provider.TurnsFromMessages(history[:last]),
		Temperature:    temperatureOrDefault(req.Temperature),
		MaxTokens:      maxTokensOrDefault(req.MaxTokens),
		ConversationID: convID,
	})
	msg, err := h.Store.RegenerateLastAssistant(ctx, convID, res.Text, resultMetadata(res))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":           res.OK(),
		"assistant_message": msg,
		"message":           res.Text,
		"outcome":           string(res.Outcome),
		"warning":           res.Warning,
	})
}

func resultMetadata(res resolver.Result) map[string]any {
	meta := map[string]any{"outcome": string(res.Outcome)}
	if res.Vendor != "" {
		meta["vendor"] = string(res.Vendor)
	}
	if res.Model != "" {
		meta["model"] = res.Model
	}
	if res.Warning != "" {
		meta["warning"] = res.Warning
	}
	return meta
}

func temperatureOrDefault(t *float32) float32 {
	if t == nil {
		return defaultTemperature
	}
	return *t
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}
