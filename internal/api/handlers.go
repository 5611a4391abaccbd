package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"yasmin/internal/models"
	"yasmin/internal/provider"
	"yasmin/internal/resolver"
	"yasmin/internal/uploads"
)

// ConversationStore persists conversations and their messages.
type ConversationStore interface {
	CreateConversation(ctx context.Context, title string) (*models.Conversation, error)
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.ConversationDetail, error)
	History(ctx context.Context, id string) ([]*models.Message, error)
	AppendMessage(ctx context.Context, conversationID string, role models.Role, content string, metadata map[string]any) (*models.Message, error)
	DeleteConversation(ctx context.Context, id string) error
	ClearMessages(ctx context.Context, id string) error
	RegenerateLastAssistant(ctx context.Context, conversationID, content string, metadata map[string]any) (*models.Message, error)
	SetFeedback(ctx context.Context, conversationID, messageID string, helpful bool) error
}

// ChatResolver produces assistant text; it never fails hard.
type ChatResolver interface {
	Resolve(ctx context.Context, req resolver.Request) resolver.Result
	GenerateCode(ctx context.Context, prompt, language, model string) resolver.Result
	Summarize(ctx context.Context, conversationID string, turns []provider.Turn, model string) resolver.Result
}

type SpeechService interface {
	Configured() bool
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
	Voices(ctx context.Context) []provider.Voice
}

type ImageService interface {
	Generate(ctx context.Context, prompt string, size int, preferred provider.Vendor) (*provider.Image, error)
}

type Translator interface {
	Translate(ctx context.Context, text, target, source string) (*provider.Translation, error)
}

type ImageDescriber interface {
	Configured() bool
	Describe(ctx context.Context, image []byte, mimeType string) (string, error)
}

type ModelCatalog interface {
	Models(ctx context.Context) []provider.Model
}

type UploadStore interface {
	Save(filename string, data []byte) (*uploads.File, error)
	MaxBytes() int64
}

// Deps are the services behind the HTTP API.
type Deps struct {
	Store      ConversationStore
	Resolver   ChatResolver
	Speech     SpeechService
	Images     ImageService
	Translator Translator
	Vision     ImageDescriber
	Models     ModelCatalog
	Uploads    UploadStore
}

// Handler wires HTTP routes to the conversation store and vendor services.
type Handler struct {
	Deps
	log *zap.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(deps Deps, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Deps: deps, log: log}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.GET("/healthz", h.health)

	api := router.Group("/api")
	api.GET("/conversations", h.listConversations)
	api.POST("/conversations", h.createConversation)
	api.GET("/conversations/:id", h.getConversation)
	api.DELETE("/conversations/:id", h.deleteConversation)
	api.POST("/conversations/:id/messages", h.postMessage)
	api.POST("/conversations/:id/regenerate", h.regenerate)
	api.POST("/conversations/:id/messages/:message_id/feedback", h.feedback)
	api.POST("/conversations/:id/summary", h.summary)
	api.POST("/clear_conversation/:id", h.clearConversation)
	api.POST("/chat", h.chat)

	api.GET("/models", h.listModels)
	api.GET("/voices", h.listVoices)
	api.POST("/text-to-speech", h.textToSpeech)
	api.POST("/generate-image", h.generateImage)
	api.POST("/translate", h.translate)
	api.POST("/generate-code", h.generateCode)
	api.POST("/upload-image", h.uploadImage)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) listConversations(c *gin.Context) {
	convs, err := h.Store.ListConversations(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	if convs == nil {
		convs = make([]models.Conversation, 0)
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

type createConversationRequest struct {
	Title string `json:"title" validate:"max=200"`
}

func (h *Handler) createConversation(c *gin.Context) {
	var req createConversationRequest
	// An empty body creates an untitled conversation.
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &req); err != nil {
			h.respondError(c, err)
			return
		}
	}
	conv, err := h.Store.CreateConversation(c.Request.Context(), req.Title)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *Handler) getConversation(c *gin.Context) {
	detail, err := h.Store.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if detail.Messages == nil {
		detail.Messages = make([]*models.Message, 0)
	}
	c.JSON(http.StatusOK, gin.H{"conversation": detail.Conversation, "messages": detail.Messages})
}

func (h *Handler) deleteConversation(c *gin.Context) {
	if err := h.Store.DeleteConversation(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Conversation deleted"})
}

func (h *Handler) clearConversation(c *gin.Context) {
	if err := h.Store.ClearMessages(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Conversation cleared"})
}

type feedbackRequest struct {
	Helpful *bool `json:"helpful" validate:"required"`
}

func (h *Handler) feedback(c *gin.Context) {
	var req feedbackRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.Store.SetFeedback(c.Request.Context(), c.Param("id"), c.Param("message_id"), *req.Helpful); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type summaryRequest struct {
	Model string `json:"model"`
}

func (h *Handler) summary(c *gin.Context) {
	var req summaryRequest
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &req); err != nil {
			h.respondError(c, err)
			return
		}
	}
	convID := c.Param("id")
	history, err := h.Store.History(c.Request.Context(), convID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	res := h.Resolver.Summarize(c.Request.Context(), convID, provider.TurnsFromMessages(history), req.Model)
	c.JSON(http.StatusOK, gin.H{"success": res.OK(), "summary": res.Text})
}

func (h *Handler) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": h.Models.Models(c.Request.Context())})
}

func (h *Handler) listVoices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"voices": h.Speech.Voices(c.Request.Context())})
}
