package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultLlamaBaseURL = "https://api.llama.com/v1"
	defaultLlamaModel   = "Llama-3.3-70B-Instruct"
)

// LlamaProvider talks to the Llama API chat completions endpoint.
type LlamaProvider struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Client      *http.Client
}

type llamaChatReq struct {
	Model       string       `json:"model"`
	Messages    []chatRawMsg `json:"messages"`
	Stream      bool         `json:"stream"`
	Temperature float64      `json:"temperature"`
}

type llamaChatResp struct {
	CompletionMessage struct {
		Role    string `json:"role"`
		Content struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"completion_message"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewLlamaProvider(baseURL, apiKey, model string) *LlamaProvider {
	if baseURL == "" {
		baseURL = defaultLlamaBaseURL
	}
	if model == "" {
		model = defaultLlamaModel
	}
	return &LlamaProvider{
		BaseURL:     baseURL,
		APIKey:      apiKey,
		Model:       model,
		Temperature: 0.7,
		Client:      &http.Client{Timeout: 180 * time.Second},
	}
}

func (p *LlamaProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if p.Client == nil {
		return "", errors.New("llama: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return "", errors.New("llama: api key is required")
	}

	b, err := json.Marshal(llamaChatReq{
		Model:       p.Model,
		Messages:    toRawMessages(messages),
		Stream:      false,
		Temperature: p.Temperature,
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError("llama", resp)
	}

	var decoded llamaChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", errors.New(decoded.Error.Message)
	}
	return decoded.CompletionMessage.Content.Text, nil
}
