// Package tts turns agent text into playable audio.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// Audio is either a hosted URL the telephony provider can fetch, raw bytes,
// or both.
type Audio struct {
	URL         string
	Bytes       []byte
	ContentType string
}

// Empty reports whether the synthesizer produced nothing playable.
func (a Audio) Empty() bool { return a.URL == "" && len(a.Bytes) == 0 }

// Synthesizer renders speech for a voice. It is used for greetings outside any
// turn as well as for turn replies.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (Audio, error)
}

// HTTPSynthesizer talks to a TTS service exposing POST /v1/synthesize.
// The service answers either JSON {"audio_url": "..."} or raw audio bytes.
type HTTPSynthesizer struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTP(baseURL, apiKey string, client *http.Client) *HTTPSynthesizer {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSynthesizer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: client,
	}
}

type synthesizeRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
	Format  string `json:"format"`
}

type synthesizeResponse struct {
	AudioURL string `json:"audio_url"`
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text, voiceID string) (Audio, error) {
	if strings.TrimSpace(text) == "" {
		return Audio{}, errors.New("tts: empty text")
	}
	if s.baseURL == "" {
		return Audio{}, errors.New("tts: base url not configured")
	}

	payload, err := json.Marshal(synthesizeRequest{Text: text, VoiceID: voiceID, Format: "mp3"})
	if err != nil {
		return Audio{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/synthesize", bytes.NewReader(payload))
	if err != nil {
		return Audio{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Audio{}, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Audio{}, fmt.Errorf("tts error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var sr synthesizeResponse
		if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
			return Audio{}, fmt.Errorf("parse response: %w", err)
		}
		if sr.AudioURL == "" {
			return Audio{}, errors.New("tts: response has no audio_url")
		}
		return Audio{URL: sr.AudioURL, ContentType: "audio/mpeg"}, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, fmt.Errorf("read audio: %w", err)
	}
	if len(data) == 0 {
		return Audio{}, errors.New("tts: empty audio")
	}
	if mediaType == "" {
		mediaType = "audio/mpeg"
	}
	return Audio{Bytes: data, ContentType: mediaType}, nil
}
