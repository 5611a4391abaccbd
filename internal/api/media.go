package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"yasmin/internal/apperr"
	"yasmin/internal/provider"
)

type speechRequest struct {
	Text    string `json:"text" validate:"required,max=5000"`
	VoiceID string `json:"voice_id" validate:"max=64"`
}

func (h *Handler) textToSpeech(c *gin.Context) {
	var req speechRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	audio, err := h.Speech.Synthesize(c.Request.Context(), req.Text, req.VoiceID)
	if err != nil {
		h.respondProviderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audio": base64.StdEncoding.EncodeToString(audio)})
}

type imageRequest struct {
	Prompt   string `json:"prompt" validate:"required,max=4000"`
	Size     int    `json:"size" validate:"omitempty,oneof=256 512 768 1024"`
	Provider string `json:"provider" validate:"omitempty,oneof=dalle stability"`
}

func (h *Handler) generateImage(c *gin.Context) {
	var req imageRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	size := provider.NormalizeImageSize(req.Size)
	img, err := h.Images.Generate(c.Request.Context(), req.Prompt, size, provider.Vendor(req.Provider))
	if err != nil {
		h.respondProviderError(c, err)
		return
	}
	resp := gin.H{"success": true, "prompt": req.Prompt, "provider": string(img.Vendor), "size": provider.ImageSizeString(size)}
	if img.URL != "" {
		resp["image_url"] = img.URL
	} else {
		resp["image_base64"] = base64.StdEncoding.EncodeToString(img.Data)
		resp["mime_type"] = img.MimeType
	}
	c.JSON(http.StatusOK, resp)
}

type translateRequest struct {
	Text   string `json:"text" validate:"required,max=10000"`
	Target string `json:"target" validate:"required,min=2,max=10"`
	Source string `json:"source" validate:"omitempty,min=2,max=10"`
}

func (h *Handler) translate(c *gin.Context) {
	var req translateRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	tr, err := h.Translator.Translate(c.Request.Context(), req.Text, req.Target, req.Source)
	if err != nil {
		h.respondProviderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"translation": tr.Text, "detected_source": tr.DetectedSource})
}

type codeRequest struct {
	Prompt   string `json:"prompt" validate:"required,max=8000"`
	Language string `json:"language" validate:"max=50"`
	Model    string `json:"model" validate:"max=200"`
}

func (h *Handler) generateCode(c *gin.Context) {
	var req codeRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	res := h.Resolver.GenerateCode(c.Request.Context(), req.Prompt, req.Language, req.Model)
	c.JSON(http.StatusOK, gin.H{"success": res.OK(), "code": res.Text, "prompt": req.Prompt, "warning": res.Warning})
}

const imageUnavailable = "تعذر تحليل الصورة حالياً"

// uploadImage stores the image and, when a vision model is configured, describes it.
func (h *Handler) uploadImage(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		h.respondError(c, fmt.Errorf("%w: no image file provided", apperr.ErrValidation))
		return
	}
	if file.Filename == "" {
		h.respondError(c, fmt.Errorf("%w: no selected file", apperr.ErrValidation))
		return
	}
	limit := h.Uploads.MaxBytes()
	if file.Size > limit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "error": "file too large"})
		return
	}
	f, err := file.Open()
	if err != nil {
		h.respondError(c, fmt.Errorf("%w: open upload", apperr.ErrValidation))
		return
	}
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	_ = f.Close()
	if err != nil {
		h.respondError(c, fmt.Errorf("read upload: %w", err))
		return
	}

	stored, err := h.Uploads.Save(file.Filename, data)
	if err != nil {
		h.respondError(c, err)
		return
	}

	description := imageUnavailable
	if h.Vision != nil && h.Vision.Configured() {
		text, err := h.Vision.Describe(c.Request.Context(), data, stored.MimeType)
		switch {
		case err == nil:
			description = text
		case errors.Is(err, provider.ErrSafetyBlocked):
			description = safetyMessage
		default:
			h.log.Warn("describe upload failed", zap.String("file", stored.Name), zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "file": stored.Name, "mime": stored.MimeType, "description": description})
}
