package prompt

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

const systemPrompt = "You write short, funny meme caption prompts for a party game. " +
	"Reply with one prompt per line, no numbering, each under 12 words."

// Completer is a chat-style language model endpoint.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// LLM turns a Completer into a Generator.
type LLM struct {
	Client Completer
}

func (l LLM) Generate(ctx context.Context, n int) ([]string, error) {
	out, err := l.Client.Complete(ctx, systemPrompt, fmt.Sprintf("Give me %d new prompts.", n))
	if err != nil {
		return nil, err
	}
	var prompts []string
	for _, line := range strings.Split(out, "\n") {
		if line = clean(line); line != "" {
			prompts = append(prompts, line)
		}
	}
	if len(prompts) == 0 {
		return nil, errors.New("model returned no prompts")
	}
	if len(prompts) > n {
		prompts = prompts[:n]
	}
	return prompts, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAI talks to an OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	APIKey  string
	BaseURL string
	Model   string
	http    *http.Client
}

func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAI{
		APIKey:  apiKey,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		http:    &http.Client{Timeout: 20 * time.Second},
	}
}

func (c *OpenAI) Complete(ctx context.Context, system, user string) (string, error) {
	if c.APIKey == "" {
		return "", errors.New("missing OPENAI_API_KEY")
	}
	body, err := json.Marshal(map[string]any{
		"model":       c.Model,
		"messages":    []chatMessage{{Role: "system", Content: system}, {Role: "user", Content: user}},
		"temperature": 0.9,
		"max_tokens":  200,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := doJSON(c.http, req, "openai", &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", errors.New("no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// Ollama talks to a local Ollama server's chat endpoint.
type Ollama struct {
	Host  string
	Model string
	http  *http.Client
}

func NewOllama(host, model string) *Ollama {
	if host == "" {
		host = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.2"
	}
	return &Ollama{Host: strings.TrimRight(host, "/"), Model: model, http: &http.Client{Timeout: 60 * time.Second}}
}

func (c *Ollama) Complete(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model":    c.Model,
		"messages": []chatMessage{{Role: "system", Content: system}, {Role: "user", Content: user}},
		"stream":   false,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		Message chatMessage `json:"message"`
	}
	if err := doJSON(c.http, req, "ollama", &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Message.Content), nil
}

func doJSON(client *http.Client, req *http.Request, name string, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s status %d", name, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// NewGenerator picks a generator by provider name. It returns nil for "static" or an
// unknown provider, which leaves the deck on builtin prompts.
func NewGenerator(provider, model, openAIKey, openAIBaseURL, ollamaHost string) Generator {
	switch provider {
	case "openai":
		return LLM{Client: NewOpenAI(openAIKey, openAIBaseURL, model)}
	case "ollama":
		return LLM{Client: NewOllama(ollamaHost, model)}
	default:
		return nil
	}
}
