package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultGraphBase = "https://graph.facebook.com/v19.0"

// WhatsApp talks to the WhatsApp Cloud API. One Send is one POST; the caller
// owns any retry policy.
type WhatsApp struct {
	Token             string
	PhoneNumberID     string
	BusinessAccountID string

	BaseURL string // overridable for tests
	Client  *http.Client
}

func NewWhatsApp(token, phoneNumberID, businessAccountID string) *WhatsApp {
	return &WhatsApp{
		Token:             token,
		PhoneNumberID:     phoneNumberID,
		BusinessAccountID: businessAccountID,
		BaseURL:           defaultGraphBase,
		Client:            &http.Client{Timeout: 15 * time.Second},
	}
}

// Configured reports whether credentials are present. Handlers turn a false
// here into an immediate configuration error, before any dispatch work.
func (w *WhatsApp) Configured() bool {
	return w.Token != "" && w.PhoneNumberID != ""
}

type waSendRequest struct {
	MessagingProduct string      `json:"messaging_product"`
	To               string      `json:"to"`
	Type             string      `json:"type"`
	Text             *waText     `json:"text,omitempty"`
	Template         *waTemplate `json:"template,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waTemplate struct {
	Name       string        `json:"name"`
	Language   waLanguage    `json:"language"`
	Components []waComponent `json:"components,omitempty"`
}

type waLanguage struct {
	Code string `json:"code"`
}

type waComponent struct {
	Type       string        `json:"type"`
	Parameters []waParameter `json:"parameters"`
}

type waParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type waSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (w *WhatsApp) Send(ctx context.Context, msg Message) (string, error) {
	if !w.Configured() {
		return "", fmt.Errorf("whatsapp: missing token or phone number id")
	}

	body := waSendRequest{
		MessagingProduct: "whatsapp",
		To:               msg.To,
	}
	if msg.Template != nil {
		body.Type = "template"
		body.Template = buildTemplate(msg.Template)
	} else {
		body.Type = "text"
		body.Text = &waText{Body: msg.Body}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("whatsapp: encode request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", w.BaseURL, w.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+w.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp: send: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("whatsapp: read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("whatsapp: status 429: %w", ErrRateLimited)
	}

	var out waSendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("whatsapp: decode response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Error != nil {
			return "", fmt.Errorf("whatsapp: status %d: %s", resp.StatusCode, out.Error.Message)
		}
		return "", fmt.Errorf("whatsapp: status %d", resp.StatusCode)
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		// a 2xx without a message id is still a failure
		return "", fmt.Errorf("whatsapp: response missing message id")
	}
	return out.Messages[0].ID, nil
}

func buildTemplate(ref *TemplateRef) *waTemplate {
	lang := ref.Language
	if lang == "" {
		lang = "pt_BR"
	}
	t := &waTemplate{Name: ref.Name, Language: waLanguage{Code: lang}}
	if len(ref.Params) > 0 {
		comp := waComponent{Type: "body"}
		for _, p := range ref.Params {
			comp.Parameters = append(comp.Parameters, waParameter{Type: "text", Text: p})
		}
		t.Components = []waComponent{comp}
	}
	return t
}

type waTemplatesResponse struct {
	Data []Template `json:"data"`
}

// Templates lists the approved templates of the business account.
func (w *WhatsApp) Templates(ctx context.Context) ([]Template, error) {
	if w.BusinessAccountID == "" {
		return nil, fmt.Errorf("whatsapp: missing business account id")
	}
	url := fmt.Sprintf("%s/%s/message_templates", w.BaseURL, w.BusinessAccountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+w.Token)

	resp, err := w.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: templates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("whatsapp: templates: status %d", resp.StatusCode)
	}
	var out waTemplatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("whatsapp: decode templates: %w", err)
	}
	return out.Data, nil
}
