package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"yasmin/internal/config"
)

const defaultTranslateURL = "https://translation.googleapis.com/language/translate/v2"

// Translation is the translated text and the language the vendor detected.
type Translation struct {
	Text           string `json:"translation"`
	DetectedSource string `json:"detected_source,omitempty"`
}

// Translator calls the Google Translate v2 REST API.
type Translator struct {
	apiKey   string
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

func NewTranslator(cfg config.ProviderConfig, timeout time.Duration) *Translator {
	return &Translator{
		apiKey:   cfg.APIKey,
		endpoint: pick(cfg.BaseURL, defaultTranslateURL),
		client:   newHTTPClient(nil, nil),
		timeout:  timeout,
	}
}

func (t *Translator) Configured() bool { return t != nil && strings.TrimSpace(t.apiKey) != "" }

// Translate renders text in target. An empty source lets the vendor detect it.
func (t *Translator) Translate(ctx context.Context, text, target, source string) (*Translation, error) {
	if !t.Configured() {
		return nil, unconfigured(VendorTranslate)
	}
	payload := map[string]string{"q": text, "target": target, "format": "text"}
	if source != "" {
		payload["source"] = source
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode translate request: %w", err)
	}

	ctx, cancel := callContext(ctx, t.timeout)
	defer cancel()
	endpoint := t.endpoint + "?key=" + url.QueryEscape(t.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classify(ctx, VendorTranslate, 0, err)
	}
	defer resp.Body.Close()

	var out struct {
		Data struct {
			Translations []struct {
				TranslatedText         string `json:"translatedText"`
				DetectedSourceLanguage string `json:"detectedSourceLanguage"`
			} `json:"translations"`
		} `json:"data"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("translate error %d", resp.StatusCode)
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return nil, newError(VendorTranslate, KindRemoteRejected, resp.StatusCode, errors.New(msg))
	}
	if decodeErr != nil {
		return nil, malformed(VendorTranslate, "decode translation: %v", decodeErr)
	}
	if len(out.Data.Translations) == 0 {
		return nil, malformed(VendorTranslate, "no translations")
	}
	first := out.Data.Translations[0]
	return &Translation{
		Text:           html.UnescapeString(first.TranslatedText),
		DetectedSource: first.DetectedSourceLanguage,
	}, nil
}
