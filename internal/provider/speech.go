package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"yasmin/internal/cache"
	"yasmin/internal/config"
)

const (
	defaultElevenLabsURL = "https://api.elevenlabs.io"
	speechModel          = "eleven_multilingual_v2"
	voiceCatalogKey      = "catalog:voices"

	// DefaultVoiceID is used when a request names no voice.
	DefaultVoiceID = "EXAVITQu4vr4xnSDxMaL"

	paragraphThreshold = 100
	maxAudioBytes      = 20 << 20
)

// Voice is one ElevenLabs voice.
type Voice struct {
	VoiceID    string  `json:"voice_id"`
	Name       string  `json:"name"`
	PreviewURL *string `json:"preview_url"`
	Category   string  `json:"category,omitempty"`
}

// DefaultVoices is served when the vendor voice list is unavailable.
var DefaultVoices = []Voice{
	{VoiceID: "EXAVITQu4vr4xnSDxMaL", Name: "آدم - صوت رجالي عربي"},
	{VoiceID: "21m00Tcm4TlvDq8ikWAM", Name: "راشيل - صوت نسائي عربي"},
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Speech turns text into MPEG audio through ElevenLabs.
type Speech struct {
	apiKey  string
	baseURL string
	client  *http.Client
	timeout time.Duration
	cache   cache.Cache
	log     *zap.Logger
}

func NewSpeech(cfg config.ProviderConfig, c cache.Cache, timeout time.Duration, log *zap.Logger) *Speech {
	if log == nil {
		log = zap.NewNop()
	}
	return &Speech{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(pick(cfg.BaseURL, defaultElevenLabsURL), "/"),
		client:  newHTTPClient(nil, nil),
		timeout: timeout,
		cache:   c,
		log:     log,
	}
}

func (s *Speech) Configured() bool { return s != nil && strings.TrimSpace(s.apiKey) != "" }

// Synthesize returns the audio bytes for text spoken by voiceID.
func (s *Speech) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if !s.Configured() {
		return nil, unconfigured(VendorElevenLabs)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, newError(VendorElevenLabs, KindRemoteRejected, 0, errors.New("no text provided"))
	}
	voiceID = pick(voiceID, DefaultVoiceID)

	body, err := json.Marshal(speechRequest{
		Text:    PrepareSpeechText(text),
		ModelID: speechModel,
		VoiceSettings: voiceSettings{
			Stability:       0.8,
			SimilarityBoost: 0.8,
			Style:           0.0,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode speech request: %w", err)
	}

	ctx, cancel := callContext(ctx, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/v1/text-to-speech/"+url.PathEscape(voiceID), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classify(ctx, VendorElevenLabs, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, speechError(resp)
	}
	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, classify(ctx, VendorElevenLabs, 0, err)
	}
	if len(audio) == 0 {
		return nil, malformed(VendorElevenLabs, "empty audio")
	}
	return audio, nil
}

func speechError(resp *http.Response) error {
	var payload struct {
		Detail struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"detail"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &payload)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return newError(VendorElevenLabs, KindRemoteRejected, resp.StatusCode, errors.New("unauthorized"))
	case http.StatusUnprocessableEntity:
		return newError(VendorElevenLabs, KindRemoteRejected, resp.StatusCode, errors.New("invalid voice id or parameters"))
	case http.StatusBadRequest:
		if payload.Detail.Status == "content_against_policy" {
			return newError(VendorElevenLabs, KindSafetyBlocked, resp.StatusCode, errors.New(pick(payload.Detail.Message, "content against policy")))
		}
	}
	msg := pick(payload.Detail.Message, fmt.Sprintf("elevenlabs error %d", resp.StatusCode))
	return newError(VendorElevenLabs, KindRemoteRejected, resp.StatusCode, errors.New(msg))
}

// Voices lists the account voices, falling back to DefaultVoices.
func (s *Speech) Voices(ctx context.Context) []Voice {
	if !s.Configured() {
		return DefaultVoices
	}
	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, voiceCatalogKey); err != nil {
			s.log.Warn("voice catalog cache read failed", zap.Error(err))
		} else if ok {
			var cached []Voice
			if err := json.Unmarshal([]byte(raw), &cached); err == nil && len(cached) > 0 {
				return cached
			}
		}
	}
	voices, err := s.fetchVoices(ctx)
	if err != nil {
		s.log.Warn("voice catalog fetch failed", zap.Error(err))
		return DefaultVoices
	}
	if len(voices) == 0 {
		return DefaultVoices
	}
	if s.cache != nil {
		if data, err := json.Marshal(voices); err == nil {
			if err := s.cache.Set(ctx, voiceCatalogKey, string(data), catalogTTL); err != nil {
				s.log.Warn("voice catalog cache write failed", zap.Error(err))
			}
		}
	}
	return voices
}

func (s *Speech) fetchVoices(ctx context.Context) ([]Voice, error) {
	ctx, cancel := callContext(ctx, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/voices", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", s.apiKey)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classify(ctx, VendorElevenLabs, 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, newError(VendorElevenLabs, KindRemoteRejected, resp.StatusCode, errors.New("list voices"))
	}
	var payload struct {
		Voices []Voice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, malformed(VendorElevenLabs, "decode voices: %v", err)
	}
	return payload.Voices, nil
}

var latinToken = regexp.MustCompile(`[A-Za-z][A-Za-z0-9'_\-]*`)

// PrepareSpeechText quotes Latin words inside Arabic text as pronunciation hints
// and, above the paragraph threshold, puts each sentence in its own paragraph.
func PrepareSpeechText(text string) string {
	if containsArabic(text) {
		text = latinToken.ReplaceAllString(text, `"$0"`)
	}
	if utf8.RuneCountInString(text) > paragraphThreshold {
		text = strings.Join(splitSentences(text), "\n\n")
	}
	return text
}

func containsArabic(text string) bool {
	for _, r := range text {
		if unicode.Is(unicode.Arabic, r) {
			return true
		}
	}
	return false
}

func splitSentences(text string) []string {
	runes := []rune(text)
	var (
		sentences []string
		start     int
	)
	for i := 0; i < len(runes)-1; i++ {
		switch runes[i] {
		case '.', '!', '?', '؟':
			if unicode.IsSpace(runes[i+1]) {
				if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
					sentences = append(sentences, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
