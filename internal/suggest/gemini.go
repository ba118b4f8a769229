package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultGeminiBase  = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel = "gemini-1.5-flash"

	SourceGemini   = "gemini"
	SourceFallback = "simulado"
)

// Gemini generates suggestions through Google's Generative Language REST
// API. One Generate is one POST; backoff lives in RetryPolicy.
type Gemini struct {
	APIKey string
	Model  string

	BaseURL string // overridable for tests
	Client  *http.Client
}

func NewGemini(apiKey string) *Gemini {
	return &Gemini{
		APIKey:  apiKey,
		Model:   defaultGeminiModel,
		BaseURL: defaultGeminiBase,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (g *Gemini) Generate(ctx context.Context, req Request) (Payload, error) {
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: buildPrompt(req)}}}},
	})
	if err != nil {
		return Payload{}, fmt.Errorf("gemini: encode request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.BaseURL, g.Model, g.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Payload{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.Client.Do(httpReq)
	if err != nil {
		return Payload{}, fmt.Errorf("gemini: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Payload{}, fmt.Errorf("gemini: read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return Payload{}, fmt.Errorf("gemini: status 429: %w", ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var out geminiResponse
		if json.Unmarshal(raw, &out) == nil && out.Error != nil {
			// RESOURCE_EXHAUSTED sometimes arrives on non-429 statuses
			if out.Error.Status == "RESOURCE_EXHAUSTED" {
				return Payload{}, fmt.Errorf("gemini: %s: %w", out.Error.Message, ErrRateLimited)
			}
			return Payload{}, fmt.Errorf("gemini: status %d: %s", resp.StatusCode, out.Error.Message)
		}
		return Payload{}, fmt.Errorf("gemini: status %d", resp.StatusCode)
	}

	var out geminiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Payload{}, fmt.Errorf("gemini: decode response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return Payload{}, fmt.Errorf("gemini: empty response")
	}
	text := strings.TrimSpace(out.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return Payload{}, fmt.Errorf("gemini: empty suggestion text")
	}

	return Payload{
		Suggestion:  text,
		Source:      SourceGemini,
		Model:       g.Model,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func buildPrompt(req Request) string {
	kw := strings.Join(req.Keywords, ", ")
	switch req.Type {
	case "meta-description":
		return fmt.Sprintf(
			"Escreva uma meta description em português (máximo 160 caracteres) para a página %q de um site de igreja. Palavras-chave: %s. Responda apenas com o texto.",
			req.Page, kw)
	case "title":
		return fmt.Sprintf(
			"Escreva um título SEO em português (máximo 60 caracteres) para a página %q de um site de igreja. Palavras-chave: %s. Responda apenas com o texto.",
			req.Page, kw)
	case "keywords":
		return fmt.Sprintf(
			"Liste de 8 a 12 palavras-chave SEO em português, separadas por vírgula, para a página %q de um site de igreja. Considere: %s. Responda apenas com a lista.",
			req.Page, kw)
	default:
		return fmt.Sprintf(
			"Sugira conteúdo SEO (%s) em português para a página %q de um site de igreja. Palavras-chave: %s.",
			req.Type, req.Page, kw)
	}
}
