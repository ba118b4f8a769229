package core

import (
	"time"
)

// Message type and status values persisted in outbound_messages.
const (
	TypeText     = "text"
	TypeTemplate = "template"
	TypeMedia    = "media"

	StatusSent   = "sent"
	StatusFailed = "failed"
)

// OutboundMessage is one audit row, written once per delivery attempt and
// never mutated afterwards.
type OutboundMessage struct {
	ID           string    `json:"id"`
	Phone        string    `json:"phone"`
	Message      string    `json:"message"`
	Type         string    `json:"type"`
	Status       string    `json:"status"`
	ExternalID   *string   `json:"external_id,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	Priority     string    `json:"priority"`
	CampaignID   *string   `json:"campaign_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SeoLogEntry records one suggestion request, successful or not.
type SeoLogEntry struct {
	ID           string    `json:"id"`
	UID          string    `json:"uid"`
	Slug         string    `json:"slug"`
	Success      bool      `json:"success"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// QueuedRecipient is one pending entry of an async bulk batch.
type QueuedRecipient struct {
	ID         string
	CampaignID *string
	Phone      string
	Message    string
	Priority   string
	Attempts   int
}
