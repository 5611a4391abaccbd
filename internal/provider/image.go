package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"yasmin/internal/config"
)

const (
	defaultOpenAIURL    = "https://api.openai.com/v1"
	defaultStabilityURL = "https://api.stability.ai"
	defaultEngine       = "stable-diffusion-v1-6"

	// DefaultImageSize is used for unknown size values.
	DefaultImageSize = 1024
)

var imageSizes = map[int]string{
	256:  "256x256",
	512:  "512x512",
	768:  "768x768",
	1024: "1024x1024",
}

// NormalizeImageSize maps a requested edge length onto the supported set.
func NormalizeImageSize(size int) int {
	if _, ok := imageSizes[size]; ok {
		return size
	}
	return DefaultImageSize
}

// ImageSizeString renders a size as "NxN".
func ImageSizeString(size int) string {
	return imageSizes[NormalizeImageSize(size)]
}

// Image is a generated picture, either hosted (URL) or inline (Data).
type Image struct {
	Vendor   Vendor
	URL      string
	Data     []byte
	MimeType string
}

// ImageGenerator is implemented by each image vendor.
type ImageGenerator interface {
	Vendor() Vendor
	Configured() bool
	Generate(ctx context.Context, prompt string, size int) (*Image, error)
}

// DALLE generates images through the OpenAI images API.
type DALLE struct {
	apiKey  string
	baseURL string
	client  *http.Client
	timeout time.Duration
}

func NewDALLE(cfg config.ProviderConfig, timeout time.Duration) *DALLE {
	return &DALLE{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(pick(cfg.BaseURL, defaultOpenAIURL), "/"),
		client:  newHTTPClient(nil, nil),
		timeout: timeout,
	}
}

func (d *DALLE) Vendor() Vendor { return VendorDALLE }

func (d *DALLE) Configured() bool { return d != nil && strings.TrimSpace(d.apiKey) != "" }

// dall-e-3 only renders 1024 and up; smaller sizes go to dall-e-2.
func dalleModel(size int) (string, string) {
	switch size {
	case 256, 512:
		return "dall-e-2", ImageSizeString(size)
	default:
		return "dall-e-3", imageSizes[1024]
	}
}

func (d *DALLE) Generate(ctx context.Context, prompt string, size int) (*Image, error) {
	if !d.Configured() {
		return nil, unconfigured(VendorDALLE)
	}
	modelName, sizeStr := dalleModel(NormalizeImageSize(size))
	payload := map[string]any{
		"model":  modelName,
		"prompt": prompt,
		"n":      1,
		"size":   sizeStr,
	}
	if modelName == "dall-e-3" {
		payload["quality"] = "standard"
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode image request: %w", err)
	}

	ctx, cancel := callContext(ctx, d.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, classify(ctx, VendorDALLE, 0, err)
	}
	defer resp.Body.Close()

	var out struct {
		Data []struct {
			URL     string `json:"url"`
			B64JSON string `json:"b64_json"`
		} `json:"data"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&out); err != nil && resp.StatusCode == http.StatusOK {
		return nil, malformed(VendorDALLE, "decode image response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error != nil && out.Error.Code == "content_policy_violation" {
			return nil, newError(VendorDALLE, KindSafetyBlocked, resp.StatusCode, errors.New(out.Error.Message))
		}
		msg := fmt.Sprintf("image generation failed with %d", resp.StatusCode)
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return nil, newError(VendorDALLE, KindRemoteRejected, resp.StatusCode, errors.New(msg))
	}
	if len(out.Data) == 0 || (out.Data[0].URL == "" && out.Data[0].B64JSON == "") {
		return nil, malformed(VendorDALLE, "no image in response")
	}
	img := &Image{Vendor: VendorDALLE, URL: out.Data[0].URL, MimeType: "image/png"}
	if img.URL == "" {
		data, err := base64.StdEncoding.DecodeString(out.Data[0].B64JSON)
		if err != nil {
			return nil, malformed(VendorDALLE, "decode image data: %v", err)
		}
		img.Data = data
	}
	return img, nil
}

// Stability generates images through the Stability v1 text-to-image API.
type Stability struct {
	apiKey  string
	baseURL string
	engine  string
	client  *http.Client
	timeout time.Duration
}

func NewStability(cfg config.ProviderConfig, timeout time.Duration) *Stability {
	return &Stability{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(pick(cfg.BaseURL, defaultStabilityURL), "/"),
		engine:  pick(cfg.Model, defaultEngine),
		client:  newHTTPClient(nil, nil),
		timeout: timeout,
	}
}

func (s *Stability) Vendor() Vendor { return VendorStability }

func (s *Stability) Configured() bool { return s != nil && strings.TrimSpace(s.apiKey) != "" }

type stabilityPrompt struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

type stabilityRequest struct {
	TextPrompts []stabilityPrompt `json:"text_prompts"`
	CfgScale    int               `json:"cfg_scale"`
	Height      int               `json:"height"`
	Width       int               `json:"width"`
	Samples     int               `json:"samples"`
	Steps       int               `json:"steps"`
}

func (s *Stability) Generate(ctx context.Context, prompt string, size int) (*Image, error) {
	if !s.Configured() {
		return nil, unconfigured(VendorStability)
	}
	// The engine rejects edges under 512.
	edge := NormalizeImageSize(size)
	if edge < 512 {
		edge = 512
	}
	body, err := json.Marshal(stabilityRequest{
		TextPrompts: []stabilityPrompt{{Text: prompt, Weight: 1}},
		CfgScale:    7,
		Height:      edge,
		Width:       edge,
		Samples:     1,
		Steps:       30,
	})
	if err != nil {
		return nil, fmt.Errorf("encode image request: %w", err)
	}

	ctx, cancel := callContext(ctx, s.timeout)
	defer cancel()
	endpoint := fmt.Sprintf("%s/v1/generation/%s/text-to-image", s.baseURL, url.PathEscape(s.engine))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classify(ctx, VendorStability, 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Name    string `json:"name"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr)
		return nil, newError(VendorStability, KindRemoteRejected, resp.StatusCode,
			errors.New(pick(apiErr.Message, fmt.Sprintf("stability error %d", resp.StatusCode))))
	}

	var out struct {
		Artifacts []struct {
			Base64       string `json:"base64"`
			FinishReason string `json:"finishReason"`
		} `json:"artifacts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, malformed(VendorStability, "decode artifacts: %v", err)
	}
	if len(out.Artifacts) == 0 {
		return nil, malformed(VendorStability, "no artifacts")
	}
	artifact := out.Artifacts[0]
	if artifact.FinishReason == "CONTENT_FILTERED" {
		return nil, newError(VendorStability, KindSafetyBlocked, resp.StatusCode, errors.New("content filtered"))
	}
	data, err := base64.StdEncoding.DecodeString(artifact.Base64)
	if err != nil || len(data) == 0 {
		return nil, malformed(VendorStability, "decode artifact: %v", err)
	}
	return &Image{Vendor: VendorStability, Data: data, MimeType: "image/png"}, nil
}

// ImageService tries the preferred image vendor first and the others after it.
// A safety rejection is final and is not retried elsewhere.
type ImageService struct {
	generators []ImageGenerator
	log        *zap.Logger
}

func NewImageService(log *zap.Logger, generators ...ImageGenerator) *ImageService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ImageService{generators: generators, log: log}
}

func (s *ImageService) Generate(ctx context.Context, prompt string, size int, preferred Vendor) (*Image, error) {
	ordered := make([]ImageGenerator, 0, len(s.generators))
	for _, g := range s.generators {
		if g.Vendor() == preferred {
			ordered = append(ordered, g)
		}
	}
	for _, g := range s.generators {
		if g.Vendor() != preferred {
			ordered = append(ordered, g)
		}
	}

	var lastErr error = unconfigured(VendorDALLE)
	for _, g := range ordered {
		if !g.Configured() {
			continue
		}
		img, err := g.Generate(ctx, prompt, size)
		if err == nil {
			return img, nil
		}
		s.log.Warn("image generation failed", zap.String("vendor", string(g.Vendor())), zap.Error(err))
		if errors.Is(err, ErrSafetyBlocked) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
