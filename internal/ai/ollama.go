package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type OllamaProvider struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{
		BaseURL: baseURL,
		Model:   model,
		Client:  &http.Client{Timeout: 180 * time.Second},
	}
}

type ollamaChatReq struct {
	Model    string       `json:"model"`
	Messages []chatRawMsg `json:"messages"`
	Stream   bool         `json:"stream"`
}

type ollamaChatResp struct {
	Message chatRawMsg `json:"message"`
	Error   string     `json:"error,omitempty"`
}

// chatRawMsg is the role/content pair shared by the OpenAI-style wire formats.
type chatRawMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func toRawMessages(messages []Message) []chatRawMsg {
	out := make([]chatRawMsg, 0, len(messages))
	for _, m := range messages {
		out = append(out, chatRawMsg{Role: m.Role, Content: m.Content})
	}
	return out
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if p.Client == nil {
		return "", errors.New("ollama: http client is nil")
	}

	b, err := json.Marshal(ollamaChatReq{
		Model:    p.Model,
		Stream:   false,
		Messages: toRawMessages(messages),
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/api/chat", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError("ollama", resp)
	}

	var decoded ollamaChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != "" {
		return "", errors.New(decoded.Error)
	}
	return decoded.Message.Content, nil
}

// statusError reads a bounded slice of a non-2xx body into an error.
func statusError(name string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return fmt.Errorf("%s: %s", name, msg)
}
