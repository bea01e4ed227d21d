package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const deepgramBaseURL = "https://api.deepgram.com"

// DeepgramProvider implements Transcriber against Deepgram's prerecorded /v1/listen API.
type DeepgramProvider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewDeepgram creates a Deepgram transcriber. An empty baseURL uses the public API.
func NewDeepgram(apiKey, baseURL string, client *http.Client) *DeepgramProvider {
	if baseURL == "" {
		baseURL = deepgramBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &DeepgramProvider{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      "nova-2",
		httpClient: client,
	}
}

// Transcribe sends the raw audio bytes with a content type derived from encoding.
func (d *DeepgramProvider) Transcribe(ctx context.Context, audio []byte, encoding string) (Transcript, error) {
	if len(audio) == 0 {
		return Transcript{}, nil
	}

	q := url.Values{}
	q.Set("model", d.model)
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	contentType := contentTypeFor(encoding)
	if encoding == "mulaw" {
		// Raw telephony audio has no container header.
		q.Set("encoding", "mulaw")
		q.Set("sample_rate", "8000")
	}
	reqURL := d.baseURL + "/v1/listen?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(audio))
	if err != nil {
		return Transcript{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return Transcript{}, fmt.Errorf("deepgram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Transcript{}, fmt.Errorf("deepgram error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var dr deepgramResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return Transcript{}, fmt.Errorf("parse response: %w", err)
	}
	return dr.transcript()
}

type deepgramResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results *struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (r deepgramResponse) transcript() (Transcript, error) {
	if r.Results == nil {
		return Transcript{}, errors.New("deepgram: response has no results")
	}
	t := Transcript{Duration: r.Metadata.Duration}
	if len(r.Results.Channels) == 0 || len(r.Results.Channels[0].Alternatives) == 0 {
		return t, nil
	}
	alt := r.Results.Channels[0].Alternatives[0]
	t.Text = strings.TrimSpace(alt.Transcript)
	t.Confidence = alt.Confidence
	return t, nil
}

func contentTypeFor(encoding string) string {
	switch strings.ToLower(encoding) {
	case "mulaw", "ulaw":
		return "audio/x-mulaw"
	case "wav", "linear16":
		return "audio/wav"
	case "mp3", "mpeg":
		return "audio/mpeg"
	case "webm":
		return "audio/webm"
	case "ogg", "opus":
		return "audio/ogg"
	case "":
		return "application/octet-stream"
	default:
		return "audio/" + strings.ToLower(encoding)
	}
}
