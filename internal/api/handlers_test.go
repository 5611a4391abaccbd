package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"yasmin/internal/config"
	"yasmin/internal/models"
	"yasmin/internal/provider"
	"yasmin/internal/resolver"
	"yasmin/internal/service/conversation"
	"yasmin/internal/storage"
	"yasmin/internal/uploads"
)

func TestHealthz(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()

	resp := doJSONRequest(t, router, http.MethodGet, "/healthz", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	if !strings.Contains(resp.Body.String(), `"ok"`) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}

func TestConversationLifecycle(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()

	createResp := doJSONRequest(t, router, http.MethodPost, "/api/conversations", nil, nil)
	assertStatus(t, createResp, http.StatusCreated)
	var conv models.Conversation
	decodeJSON(t, createResp.Body.Bytes(), &conv)
	if conv.ID == "" || conv.Title != models.DefaultTitle {
		t.Fatalf("unexpected conversation %+v", conv)
	}

	listResp := doJSONRequest(t, router, http.MethodGet, "/api/conversations", nil, nil)
	assertStatus(t, listResp, http.StatusOK)
	var list struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &list)
	if len(list.Conversations) != 1 || list.Conversations[0].ID != conv.ID {
		t.Fatalf("unexpected list %+v", list)
	}

	msgResp := doJSONRequest(t, router, http.MethodPost, "/api/conversations/"+conv.ID+"/messages",
		map[string]any{"message": "مرحبا", "model": "gpt-4o"}, nil)
	assertStatus(t, msgResp, http.StatusOK)

	getResp := doJSONRequest(t, router, http.MethodGet, "/api/conversations/"+conv.ID, nil, nil)
	assertStatus(t, getResp, http.StatusOK)
	var detail struct {
		Conversation models.Conversation `json:"conversation"`
		Messages     []models.Message    `json:"messages"`
	}
	decodeJSON(t, getResp.Body.Bytes(), &detail)
	if len(detail.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(detail.Messages))
	}
	if detail.Conversation.Title != "مرحبا" {
		t.Fatalf("expected title from first message, got %q", detail.Conversation.Title)
	}

	clearResp := doJSONRequest(t, router, http.MethodPost, "/api/clear_conversation/"+conv.ID, nil, nil)
	assertStatus(t, clearResp, http.StatusOK)
	if n := countMessages(t, db, conv.ID); n != 0 {
		t.Fatalf("expected cleared conversation, %d messages left", n)
	}

	delResp := doJSONRequest(t, router, http.MethodDelete, "/api/conversations/"+conv.ID, nil, nil)
	assertStatus(t, delResp, http.StatusOK)
	delResp = doJSONRequest(t, router, http.MethodDelete, "/api/conversations/"+conv.ID, nil, nil)
	assertStatus(t, delResp, http.StatusNotFound)
	getResp = doJSONRequest(t, router, http.MethodGet, "/api/conversations/"+conv.ID, nil, nil)
	assertStatus(t, getResp, http.StatusNotFound)
}

func TestPostMessageDeliversAndPersists(t *testing.T) {
	router, db, _ := newTestServer(t,
		&stubAdapter{vendor: provider.VendorOpenAI, reply: "أهلاً"},
	)
	defer db.Close()
	convID := createConversation(t, router)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/conversations/"+convID+"/messages",
		map[string]any{"message": "مرحبا", "model": "gpt-4o", "temperature": 0.2, "max_tokens": 100}, nil)
	assertStatus(t, resp, http.StatusOK)
	var body turnResponse
	decodeJSON(t, resp.Body.Bytes(), &body)
	if !body.Success || body.Message != "أهلاً" || body.Outcome != string(resolver.Delivered) {
		t.Fatalf("unexpected turn %+v", body)
	}
	if body.UserMessage == nil || body.UserMessage.Content != "مرحبا" {
		t.Fatalf("missing user message in %+v", body)
	}
	if body.AssistantMessage == nil || body.AssistantMessage.Metadata["vendor"] != "openai" {
		t.Fatalf("assistant metadata not recorded: %+v", body.AssistantMessage)
	}
	if body.Audio != "" {
		t.Fatalf("audio must be omitted unless requested")
	}
	if n := countMessages(t, db, convID); n != 2 {
		t.Fatalf("expected 2 stored messages, got %d", n)
	}
}

func TestAllProvidersUnconfiguredStillReturns200(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()
	convID := createConversation(t, router)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/conversations/"+convID+"/messages",
		map[string]any{"message": "سؤال"}, nil)
	assertStatus(t, resp, http.StatusOK)
	var body turnResponse
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Success {
		t.Fatalf("expected success=false when no vendor answered")
	}
	if body.Message != resolver.DefaultOfflineReply {
		t.Fatalf("expected offline reply, got %q", body.Message)
	}
	if body.Warning == "" || body.Outcome != string(resolver.AllProvidersFailed) {
		t.Fatalf("expected warning and failed outcome, got %+v", body)
	}

	var stored string
	if err := db.QueryRow(`SELECT content FROM messages WHERE conversation_id = ? AND role = 'assistant'`, convID).Scan(&stored); err != nil {
		t.Fatalf("fallback reply not persisted: %v", err)
	}
	if stored != resolver.DefaultOfflineReply {
		t.Fatalf("stored %q", stored)
	}
}

func TestPostMessageValidationAndNotFound(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()
	convID := createConversation(t, router)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/conversations/"+convID+"/messages", map[string]any{}, nil)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doJSONRequest(t, router, http.MethodPost, "/api/conversations/"+convID+"/messages", map[string]any{"message": "   "}, nil)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doJSONRequest(t, router, http.MethodPost, "/api/conversations/"+convID+"/messages",
		map[string]any{"message": "hi", "temperature": 5}, nil)
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doJSONRequest(t, router, http.MethodPost, "/api/conversations/not-a-uuid/messages", map[string]any{"message": "hi"}, nil)
	assertStatus(t, resp, http.StatusNotFound)

	resp = doJSONRequest(t, router, http.MethodPost, "/api/conversations/6f1c1f7e-2b1a-4c55-9a51-0d6b1b1e2f3a/messages", map[string]any{"message": "hi"}, nil)
	assertStatus(t, resp, http.StatusNotFound)

	if n := countMessages(t, db, convID); n != 0 {
		t.Fatalf("rejected requests must not store messages, got %d", n)
	}
}

func TestChatCreatesConversationWhenIDMissing(t *testing.T) {
	router, db, _ := newTestServer(t, &stubAdapter{vendor: provider.VendorOpenRouter, reply: "ok"})
	defer db.Close()

	text := "مرحبا بالعالم هذا نص طويل يتجاوز ثلاثين حرفا"
	resp := doJSONRequest(t, router, http.MethodPost, "/api/chat", map[string]any{"message": text}, nil)
	assertStatus(t, resp, http.StatusOK)
	var body turnResponse
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.ConversationID == "" || body.Message != "ok" {
		t.Fatalf("unexpected chat response %+v", body)
	}

	var title string
	if err := db.QueryRow(`SELECT title FROM conversations WHERE id = ?`, body.ConversationID).Scan(&title); err != nil {
		t.Fatalf("load title: %v", err)
	}
	if title != "مرحبا بالعالم هذا نص طويل يتجا..." {
		t.Fatalf("unexpected title %q", title)
	}

	again := doJSONRequest(t, router, http.MethodPost, "/api/chat",
		map[string]any{"message": "ثانية", "conversation_id": body.ConversationID}, nil)
	assertStatus(t, again, http.StatusOK)
	if n := countMessages(t, db, body.ConversationID); n != 4 {
		t.Fatalf("expected 4 messages, got %d", n)
	}
}

func TestChatRejectsBlankMessageWithoutCreatingConversation(t *testing.T) {
	adapter := &stubAdapter{vendor: provider.VendorOpenRouter, reply: "ok"}
	router, db, _ := newTestServer(t, adapter)
	defer db.Close()

	resp := doJSONRequest(t, router, http.MethodPost, "/api/chat", map[string]any{"message": "   "}, nil)
	assertStatus(t, resp, http.StatusBadRequest)

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&count); err != nil {
		t.Fatalf("count conversations: %v", err)
	}
	if count != 0 {
		t.Fatalf("blank chat message must not create a conversation, got %d", count)
	}
	if adapter.lastTurns != nil {
		t.Fatalf("blank chat message must not reach a vendor")
	}
}

func TestVoiceEnabledAttachesAudio(t *testing.T) {
	router, db, h := newTestServer(t, &stubAdapter{vendor: provider.VendorOpenAI, reply: "نص"})
	defer db.Close()
	speech := &stubSpeech{audio: []byte("mp3")}
	h.Speech = speech
	convID := createConversation(t, router)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/conversations/"+convID+"/messages",
		map[string]any{"message": "اقرأ", "voice_enabled": true, "voice_id": "v1"}, nil)
	assertStatus(t, resp, http.StatusOK)
	var body turnResponse
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Audio != base64.StdEncoding.EncodeToString([]byte("mp3")) {
		t.Fatalf("unexpected audio %q", body.Audio)
	}
	if speech.lastVoice != "v1" || speech.lastText != "نص" {
		t.Fatalf("speech called with %q/%q", speech.lastText, speech.lastVoice)
	}

	speech.err = &provider.Error{Vendor: provider.VendorElevenLabs, Kind: provider.KindRemoteRejected, Status: 401}
	resp = doJSONRequest(t, router, http.MethodPost, "/api/conversations/"+convID+"/messages",
		map[string]any{"message": "مرة أخرى", "voice_enabled": true}, nil)
	assertStatus(t, resp, http.StatusOK)
	var silent turnResponse
	decodeJSON(t, resp.Body.Bytes(), &silent)
	if silent.Audio != "" {
		t.Fatalf("speech failure must drop audio, not the turn")
	}
}

func TestRegenerateOverwritesLastAssistant(t *testing.T) {
	adapter := &stubAdapter{vendor: provider.VendorOpenAI, reply: "first"}
	router, db, _ := newTestServer(t, adapter)
	defer db.Close()
	convID := createConversation(t, router)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/conversations/"+convID+"/regenerate", nil, nil)
	assertStatus(t, resp, http.StatusNotFound)

	resp = doJSONRequest(t, router, http.MethodPost, "/api/conversations/"+convID+"/messages", map[string]any{"message": "q"}, nil)
	assertStatus(t, resp, http.StatusOK)

	adapter.reply = "second"
	resp = doJSONRequest(t, router, http.MethodPost, "/api/conversations/"+convID+"/regenerate", nil, nil)
	assertStatus(t, resp, http.StatusOK)

	if got := adapter.lastTurns; len(got) != 1 || got[0].Content != "q" {
		t.Fatalf("regenerate must resend history without the old reply, got %+v", got)
	}
	if n := countMessages(t, db, convID); n != 2 {
		t.Fatalf("regenerate must not add messages, got %d", n)
	}
	var content string
	if err := db.QueryRow(`SELECT content FROM messages WHERE conversation_id = ? AND role = 'assistant'`, convID).Scan(&content); err != nil {
		t.Fatalf("load assistant: %v", err)
	}
	if content != "second" {
		t.Fatalf("expected regenerated content, got %q", content)
	}
}

func TestRegenerateConflictsWhenUserTurnFollows(t *testing.T) {
	adapter := &stubAdapter{vendor: provider.VendorOpenAI, reply: "answer"}
	router, db, h := newTestServer(t, adapter)
	defer db.Close()
	convID := createConversation(t, router)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/conversations/"+convID+"/messages", map[string]any{"message": "q"}, nil)
	assertStatus(t, resp, http.StatusOK)
	if _, err := h.Store.AppendMessage(context.Background(), convID, models.RoleUser, "unanswered", nil); err != nil {
		t.Fatalf("append user turn: %v", err)
	}

	adapter.reply = "replaced"
	resp = doJSONRequest(t, router, http.MethodPost, "/api/conversations/"+convID+"/regenerate", nil, nil)
	assertStatus(t, resp, http.StatusConflict)

	var content string
	if err := db.QueryRow(`SELECT content FROM messages WHERE conversation_id = ? AND role = 'assistant'`, convID).Scan(&content); err != nil {
		t.Fatalf("load assistant: %v", err)
	}
	if content != "answer" {
		t.Fatalf("assistant message must stay untouched, got %q", content)
	}
}

func TestFeedbackAndSummary(t *testing.T) {
	router, db, _ := newTestServer(t, &stubAdapter{vendor: provider.VendorOpenAI, reply: "نقاط"})
	defer db.Close()
	convID := createConversation(t, router)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/conversations/"+convID+"/messages", map[string]any{"message": "q"}, nil)
	assertStatus(t, resp, http.StatusOK)
	var body turnResponse
	decodeJSON(t, resp.Body.Bytes(), &body)

	path := fmt.Sprintf("/api/conversations/%s/messages/%s/feedback", convID, body.AssistantMessage.ID)
	assertStatus(t, doJSONRequest(t, router, http.MethodPost, path, map[string]any{}, nil), http.StatusBadRequest)
	assertStatus(t, doJSONRequest(t, router, http.MethodPost, path, map[string]any{"helpful": true}, nil), http.StatusOK)

	var feedback sql.NullBool
	if err := db.QueryRow(`SELECT feedback FROM messages WHERE id = ?`, body.AssistantMessage.ID).Scan(&feedback); err != nil {
		t.Fatalf("load feedback: %v", err)
	}
	if !feedback.Valid || !feedback.Bool {
		t.Fatalf("feedback not stored: %+v", feedback)
	}

	resp = doJSONRequest(t, router, http.MethodPost, "/api/conversations/"+convID+"/summary", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	var summary struct {
		Success bool   `json:"success"`
		Summary string `json:"summary"`
	}
	decodeJSON(t, resp.Body.Bytes(), &summary)
	if !summary.Success || summary.Summary != "نقاط" {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestCatalogEndpoints(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()

	resp := doJSONRequest(t, router, http.MethodGet, "/api/models", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	var catalog struct {
		Models []provider.Model `json:"models"`
	}
	decodeJSON(t, resp.Body.Bytes(), &catalog)
	if len(catalog.Models) != len(provider.DefaultModels) {
		t.Fatalf("expected default models, got %d", len(catalog.Models))
	}

	resp = doJSONRequest(t, router, http.MethodGet, "/api/voices", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	var voices struct {
		Voices []provider.Voice `json:"voices"`
	}
	decodeJSON(t, resp.Body.Bytes(), &voices)
	if len(voices.Voices) != len(provider.DefaultVoices) {
		t.Fatalf("expected default voices, got %d", len(voices.Voices))
	}
}

func TestTextToSpeech(t *testing.T) {
	router, db, h := newTestServer(t)
	defer db.Close()

	assertStatus(t, doJSONRequest(t, router, http.MethodPost, "/api/text-to-speech", map[string]any{}, nil), http.StatusBadRequest)

	h.Speech = &stubSpeech{err: &provider.Error{Vendor: provider.VendorElevenLabs, Kind: provider.KindUnconfigured}}
	assertStatus(t, doJSONRequest(t, router, http.MethodPost, "/api/text-to-speech", map[string]any{"text": "مرحبا"}, nil), http.StatusServiceUnavailable)

	h.Speech = &stubSpeech{audio: []byte{1, 2, 3}}
	resp := doJSONRequest(t, router, http.MethodPost, "/api/text-to-speech", map[string]any{"text": "مرحبا"}, nil)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Audio string `json:"audio"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Audio != base64.StdEncoding.EncodeToString([]byte{1, 2, 3}) {
		t.Fatalf("unexpected audio %q", body.Audio)
	}
}

func TestGenerateImage(t *testing.T) {
	router, db, h := newTestServer(t)
	defer db.Close()
	images := &stubImages{img: &provider.Image{Vendor: provider.VendorDALLE, URL: "https://img/1.png"}}
	h.Images = images

	assertStatus(t, doJSONRequest(t, router, http.MethodPost, "/api/generate-image", map[string]any{"prompt": "قطة", "size": 300}, nil), http.StatusBadRequest)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/generate-image", map[string]any{"prompt": "قطة", "size": 512, "provider": "stability"}, nil)
	assertStatus(t, resp, http.StatusOK)
	var body map[string]any
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body["image_url"] != "https://img/1.png" || body["size"] != "512x512" {
		t.Fatalf("unexpected body %+v", body)
	}
	if images.lastSize != 512 || images.lastPreferred != provider.VendorStability {
		t.Fatalf("unexpected call %d/%s", images.lastSize, images.lastPreferred)
	}

	images.img = &provider.Image{Vendor: provider.VendorStability, Data: []byte("png"), MimeType: "image/png"}
	resp = doJSONRequest(t, router, http.MethodPost, "/api/generate-image", map[string]any{"prompt": "قطة"}, nil)
	assertStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body["image_base64"] != base64.StdEncoding.EncodeToString([]byte("png")) {
		t.Fatalf("expected inline image, got %+v", body)
	}
	if images.lastSize != provider.DefaultImageSize {
		t.Fatalf("expected default size, got %d", images.lastSize)
	}

	images.err = &provider.Error{Vendor: provider.VendorDALLE, Kind: provider.KindSafetyBlocked}
	resp = doJSONRequest(t, router, http.MethodPost, "/api/generate-image", map[string]any{"prompt": "x"}, nil)
	assertStatus(t, resp, http.StatusOK)
	var blocked struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	decodeJSON(t, resp.Body.Bytes(), &blocked)
	if blocked.Success || blocked.Error != safetyMessage {
		t.Fatalf("unexpected safety response %+v", blocked)
	}

	images.err = &provider.Error{Vendor: provider.VendorDALLE, Kind: provider.KindTimeout}
	assertStatus(t, doJSONRequest(t, router, http.MethodPost, "/api/generate-image", map[string]any{"prompt": "x"}, nil), http.StatusGatewayTimeout)
}

func TestTranslate(t *testing.T) {
	router, db, h := newTestServer(t)
	defer db.Close()
	h.Translator = stubTranslator{}

	assertStatus(t, doJSONRequest(t, router, http.MethodPost, "/api/translate", map[string]any{"text": "hi"}, nil), http.StatusBadRequest)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/translate", map[string]any{"text": "hi", "target": "ar"}, nil)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Translation    string `json:"translation"`
		DetectedSource string `json:"detected_source"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Translation != "hi->ar" || body.DetectedSource != "en" {
		t.Fatalf("unexpected translation %+v", body)
	}
}

func TestGenerateCode(t *testing.T) {
	adapter := &stubAdapter{vendor: provider.VendorOpenAI, reply: "package main"}
	router, db, _ := newTestServer(t, adapter)
	defer db.Close()

	assertStatus(t, doJSONRequest(t, router, http.MethodPost, "/api/generate-code", map[string]any{}, nil), http.StatusBadRequest)

	resp := doJSONRequest(t, router, http.MethodPost, "/api/generate-code", map[string]any{"prompt": "hello world", "language": "Go"}, nil)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Code   string `json:"code"`
		Prompt string `json:"prompt"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Code != "package main" || body.Prompt != "hello world" {
		t.Fatalf("unexpected code response %+v", body)
	}
	if adapter.lastModel != "gpt-4o" {
		t.Fatalf("code generation should default to gpt-4o, got %q", adapter.lastModel)
	}
}

func TestUploadImage(t *testing.T) {
	router, db, h := newTestServer(t)
	defer db.Close()
	vision := &stubVision{text: "صورة قطة"}
	h.Vision = vision

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	var pngData bytes.Buffer
	if err := png.Encode(&pngData, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	resp := doMultipart(t, router, "/api/upload-image", "image", "cat.png", pngData.Bytes())
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		File        string `json:"file"`
		Mime        string `json:"mime"`
		Description string `json:"description"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if !strings.HasSuffix(body.File, ".png") || body.Mime != "image/png" || body.Description != "صورة قطة" {
		t.Fatalf("unexpected upload response %+v", body)
	}
	if vision.lastMime != "image/png" {
		t.Fatalf("vision got mime %q", vision.lastMime)
	}

	resp = doMultipart(t, router, "/api/upload-image", "image", "notes.txt", []byte("hello"))
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doMultipart(t, router, "/api/upload-image", "file", "cat.png", pngData.Bytes())
	assertStatus(t, resp, http.StatusBadRequest)
}

func newTestServer(t *testing.T, adapters ...provider.ChatAdapter) (*gin.Engine, *sql.DB, *Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := storage.Open(storage.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, storage.DriverSQLite); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	store := conversation.NewStore(db, storage.DriverSQLite)
	res := resolver.New(config.ResolverConfig{DefaultModel: "openai/gpt-3.5-turbo"}, nil, adapters...)
	up, err := uploads.New(config.UploadConfig{Dir: t.TempDir(), MaxBytes: 1 << 20}, "test-secret", nil)
	if err != nil {
		t.Fatalf("uploads: %v", err)
	}

	handler := NewHandler(Deps{
		Store:      store,
		Resolver:   res,
		Speech:     &stubSpeech{},
		Images:     &stubImages{},
		Translator: stubTranslator{},
		Vision:     &stubVision{},
		Models:     stubModels{},
		Uploads:    up,
	}, nil)

	router := gin.New()
	handler.RegisterRoutes(router)
	return router, db, handler
}

func createConversation(t *testing.T, router *gin.Engine) string {
	t.Helper()
	resp := doJSONRequest(t, router, http.MethodPost, "/api/conversations", nil, nil)
	assertStatus(t, resp, http.StatusCreated)
	var conv models.Conversation
	decodeJSON(t, resp.Body.Bytes(), &conv)
	return conv.ID
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doMultipart(t *testing.T, router *gin.Engine, path, field, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func countMessages(t *testing.T, db *sql.DB, conversationID string) int {
	t.Helper()
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&count); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	return count
}

type stubAdapter struct {
	vendor    provider.Vendor
	reply     string
	lastModel string
	lastTurns []provider.Turn
}

func (s *stubAdapter) Vendor() provider.Vendor { return s.vendor }
func (s *stubAdapter) Configured() bool        { return true }

func (s *stubAdapter) Chat(_ context.Context, req provider.ChatRequest) (string, error) {
	s.lastModel = req.Model
	s.lastTurns = req.Turns
	return s.reply, nil
}

type stubSpeech struct {
	audio     []byte
	err       error
	lastText  string
	lastVoice string
}

func (s *stubSpeech) Configured() bool { return true }

func (s *stubSpeech) Synthesize(_ context.Context, text, voiceID string) ([]byte, error) {
	s.lastText, s.lastVoice = text, voiceID
	if s.err != nil {
		return nil, s.err
	}
	return s.audio, nil
}

func (s *stubSpeech) Voices(context.Context) []provider.Voice { return provider.DefaultVoices }

type stubImages struct {
	img           *provider.Image
	err           error
	lastSize      int
	lastPreferred provider.Vendor
}

func (s *stubImages) Generate(_ context.Context, _ string, size int, preferred provider.Vendor) (*provider.Image, error) {
	s.lastSize, s.lastPreferred = size, preferred
	if s.err != nil {
		return nil, s.err
	}
	return s.img, nil
}

type stubTranslator struct{}

func (stubTranslator) Translate(_ context.Context, text, target, _ string) (*provider.Translation, error) {
	return &provider.Translation{Text: text + "->" + target, DetectedSource: "en"}, nil
}

type stubVision struct {
	text     string
	lastMime string
}

func (s *stubVision) Configured() bool { return s.text != "" }

func (s *stubVision) Describe(_ context.Context, _ []byte, mimeType string) (string, error) {
	s.lastMime = mimeType
	return s.text, nil
}

type stubModels struct{}

func (stubModels) Models(context.Context) []provider.Model { return provider.DefaultModels }
