// Package dispatch implements the bulk send loop: normalize, render, send,
// audit, pace. One failing recipient never aborts a batch.
package dispatch

import (
	"context"
	"log"
	"time"

	"github.com/Jocksanmarcos/kerigma-messaging/internal/core"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/metrics"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/phone"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/provider"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/template"
	"golang.org/x/time/rate"
)

// Pacer gates the interval between consecutive sends of a batch.
// *rate.Limiter satisfies it.
type Pacer interface {
	Wait(ctx context.Context) error
}

// NewPacer returns the default token-bucket pacer. qps 1, burst 1 reproduces
// a fixed one-second gap between messages.
func NewPacer(qps float64, burst int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(qps), burst)
}

// AuditLog records one row per delivery attempt. core.Store satisfies it.
type AuditLog interface {
	RecordOutbound(ctx context.Context, m core.OutboundMessage) (string, error)
}

type Dispatcher struct {
	Provider provider.Provider
	Audit    AuditLog
	Pacer    Pacer
}

// SendRequest is a single outbound message.
type SendRequest struct {
	Phone      string
	Message    string
	Template   *provider.TemplateRef
	Priority   string
	CampaignID string
}

// BulkRequest is an ordered batch. Variables, when present, is aligned with
// Recipients by index; missing entries render the raw template.
type BulkRequest struct {
	Recipients []string
	Message    string
	Variables  []map[string]string
	Priority   string
	CampaignID string
}

// RecipientResult reports one recipient's outcome, in input order.
type RecipientResult struct {
	Phone     string `json:"phone"`
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Summary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

type BulkResult struct {
	Results []RecipientResult `json:"results"`
	Summary Summary           `json:"summary"`
}

// SendOne performs one delivery attempt and writes its audit row. Provider
// failures come back as an unsuccessful result, not an error.
func (d *Dispatcher) SendOne(ctx context.Context, req SendRequest) RecipientResult {
	to := phone.Normalize(req.Phone)
	msgType := core.TypeText
	if req.Template != nil {
		msgType = core.TypeTemplate
	}

	start := time.Now()
	providerID, err := d.Provider.Send(ctx, provider.Message{To: to, Body: req.Message, Template: req.Template})
	metrics.DispatchDuration.Observe(time.Since(start).Seconds())

	res := RecipientResult{Phone: to}
	row := core.OutboundMessage{
		Phone:      to,
		Message:    req.Message,
		Type:       msgType,
		Priority:   req.Priority,
		CampaignID: optional(req.CampaignID),
	}
	if err != nil {
		res.Error = err.Error()
		row.Status = core.StatusFailed
		row.ErrorMessage = &res.Error
		metrics.DispatchTotal.WithLabelValues("failed").Inc()
	} else {
		res.Success = true
		res.MessageID = providerID
		row.Status = core.StatusSent
		row.ExternalID = &providerID
		metrics.DispatchTotal.WithLabelValues("sent").Inc()
	}

	// Audit is best-effort: a log-table outage must not fail the send.
	if _, auditErr := d.Audit.RecordOutbound(ctx, row); auditErr != nil {
		log.Printf("dispatch: audit write failed for %s: %v", to, auditErr)
	}
	return res
}

// SendBulk processes every recipient exactly once, in order, pacing between
// consecutive sends. Cancellation between recipients marks the remainder
// failed; already-sent recipients stay sent.
func (d *Dispatcher) SendBulk(ctx context.Context, req BulkRequest) BulkResult {
	metrics.BulkBatchSize.Observe(float64(len(req.Recipients)))

	results := make([]RecipientResult, 0, len(req.Recipients))
	for i, raw := range req.Recipients {
		// The pacer gates every send. With the default 1 qps bucket the
		// first send of a batch passes on the stored token and each
		// following one waits out the fixed gap.
		if err := d.Pacer.Wait(ctx); err != nil {
			// context gone; report the rest without burning sends
			for _, rest := range req.Recipients[i:] {
				results = append(results, RecipientResult{
					Phone: phone.Normalize(rest),
					Error: err.Error(),
				})
				metrics.DispatchTotal.WithLabelValues("canceled").Inc()
			}
			break
		}

		var vars map[string]string
		if i < len(req.Variables) {
			vars = req.Variables[i]
		}
		results = append(results, d.SendOne(ctx, SendRequest{
			Phone:      raw,
			Message:    template.Render(req.Message, vars),
			Priority:   req.Priority,
			CampaignID: req.CampaignID,
		}))
	}

	sum := Summary{Total: len(results)}
	for _, r := range results {
		if r.Success {
			sum.Successful++
		} else {
			sum.Failed++
		}
	}
	return BulkResult{Results: results, Summary: sum}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
