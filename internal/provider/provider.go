package provider

import (
	"context"
	"errors"
)

// ErrRateLimited marks a provider response that asked us to slow down.
// Callers decide whether to back off; this layer never retries on its own.
var ErrRateLimited = errors.New("provider_rate_limited")

// Message is one outbound send. Either Body is set (plain text) or Template
// is set (pre-approved template with positional parameters).
type Message struct {
	To       string
	Body     string
	Template *TemplateRef
}

type TemplateRef struct {
	Name     string
	Language string
	Params   []string
}

// Template describes a pre-approved message template as the provider
// reports it.
type Template struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	Category string `json:"category"`
	Status   string `json:"status"`
}

type Provider interface {
	// Send performs exactly one delivery attempt and returns the provider's
	// message id on success.
	Send(ctx context.Context, msg Message) (providerMsgID string, err error)
}

// TemplateLister is implemented by providers that can enumerate their
// approved templates.
type TemplateLister interface {
	Templates(ctx context.Context) ([]Template, error)
}
