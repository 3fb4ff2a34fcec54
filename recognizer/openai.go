package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"livenotes/encoder"
	"livenotes/log"
)

const DefaultURL = "https://api.openai.com/v1/audio/transcriptions"

type Config struct {
	URL      string
	APIKey   string
	Model    string
	Language string
	// Format is the upload container: "wav" or "flac".
	Format string
}

// OpenAI posts audio to an OpenAI-compatible /audio/transcriptions endpoint.
type OpenAI struct {
	client *uploadClient
	cfg    Config
}

func NewOpenAI(cfg Config) *OpenAI {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Format == "" {
		cfg.Format = "wav"
	}
	return &OpenAI{client: newUploadClient(), cfg: cfg}
}

func (o *OpenAI) Name() string { return "openai" }

// Warm opens a connection to the API host ahead of the first request.
func (o *OpenAI) Warm() {
	if m := o.client.warm(context.Background(), o.cfg.URL); m != nil {
		log.Upload(o.Name()+"_warm", m.logData())
	}
}

func (o *OpenAI) encode(pcm []byte) ([]byte, error) {
	switch o.cfg.Format {
	case "wav":
		return encoder.WAV(pcm)
	case "flac":
		return encoder.FLAC(pcm)
	}
	return nil, fmt.Errorf("unsupported upload format %q", o.cfg.Format)
}

func (o *OpenAI) Transcribe(ctx context.Context, pcm []byte) (*Result, error) {
	audioData, err := o.encode(pcm)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "speech."+o.cfg.Format)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audioData); err != nil {
		return nil, err
	}

	writer.WriteField("model", o.cfg.Model)
	writer.WriteField("response_format", "json")
	if o.cfg.Language != "" {
		writer.WriteField("language", o.cfg.Language)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", o.cfg.URL, &body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := o.client.do(req)
	if err != nil {
		return nil, err
	}
	log.Upload(o.Name(), resp.Network.logData())

	if resp.Status != http.StatusOK {
		return nil, fmt.Errorf("transcription API error %d: %s", resp.Status, string(resp.Body))
	}

	var oResp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(resp.Body, &oResp); err != nil {
		return nil, fmt.Errorf("transcription response parse error: %w", err)
	}

	remaining := firstNonEmpty(resp.Header, "x-ratelimit-remaining-requests")
	limit := firstNonEmpty(resp.Header, "x-ratelimit-limit-requests")
	log.Infof("transcription api ratelimit=%s/%s", remaining, limit)

	return &Result{
		Text:    strings.TrimSpace(oResp.Text),
		Metrics: resp.Network,
	}, nil
}
