package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct{ DB *pgxpool.Pool }

// RecordOutbound appends one audit row for a delivery attempt and returns
// its id. Rows are append-only.
func (s *Store) RecordOutbound(ctx context.Context, m OutboundMessage) (string, error) {
	if m.Type == "" {
		m.Type = TypeText
	}
	if m.Priority == "" {
		m.Priority = "normal"
	}
	var id string
	err := s.DB.QueryRow(ctx, `
		INSERT INTO outbound_messages(phone, message, type, status, external_id, error_message, priority, campaign_id)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id
	`, m.Phone, m.Message, m.Type, m.Status, m.ExternalID, m.ErrorMessage, m.Priority, m.CampaignID).Scan(&id)
	return id, err
}

// OutboundFilter narrows QueryOutbound. Nil fields are ignored.
type OutboundFilter struct {
	Status     *string
	CampaignID *string
	From, To   *time.Time
	Limit      int
	Offset     int
}

// QueryOutbound lists audit rows, newest first.
func (s *Store) QueryOutbound(ctx context.Context, f OutboundFilter) ([]OutboundMessage, error) {
	q := `SELECT id, phone, message, type, status, external_id, error_message, priority, campaign_id, created_at
		FROM outbound_messages WHERE 1=1`
	var args []any
	idx := 1
	if f.Status != nil {
		q += fmt.Sprintf(" AND status=$%d", idx)
		args = append(args, *f.Status)
		idx++
	}
	if f.CampaignID != nil {
		q += fmt.Sprintf(" AND campaign_id=$%d", idx)
		args = append(args, *f.CampaignID)
		idx++
	}
	if f.From != nil {
		q += fmt.Sprintf(" AND created_at >= $%d", idx)
		args = append(args, *f.From)
		idx++
	}
	if f.To != nil {
		q += fmt.Sprintf(" AND created_at < $%d", idx)
		args = append(args, *f.To)
		idx++
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OutboundMessage
	for rows.Next() {
		var m OutboundMessage
		if err := rows.Scan(&m.ID, &m.Phone, &m.Message, &m.Type, &m.Status,
			&m.ExternalID, &m.ErrorMessage, &m.Priority, &m.CampaignID, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecordSeoLog appends one suggestion-request row. Callers treat failures
// here as best-effort.
func (s *Store) RecordSeoLog(ctx context.Context, e SeoLogEntry) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO seo_log(uid, slug, success, error_message)
		VALUES($1,$2,$3,$4)
	`, e.UID, e.Slug, e.Success, e.ErrorMessage)
	return err
}

// CacheGet returns the stored payload for key if a non-expired row exists.
// Expiry is checked in the read path only; stale rows stay until overwritten.
func (s *Store) CacheGet(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	err := s.DB.QueryRow(ctx, `
		SELECT result FROM suggestion_cache WHERE key=$1 AND expires_at > now()
	`, key).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// CachePut upserts a payload under key with the given ttl. Concurrent
// writers race; last writer wins.
func (s *Store) CachePut(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO suggestion_cache(key, result, expires_at, updated_at)
		VALUES($1, $2, now() + $3::interval, now())
		ON CONFLICT (key) DO UPDATE
		SET result=EXCLUDED.result, expires_at=EXCLUDED.expires_at, updated_at=now()
	`, key, payload, ttl.String())
	return err
}

// EnqueueBulk persists one queued recipient per entry of an async batch.
// messages is aligned with phones: each recipient already carries its
// rendered body.
func (s *Store) EnqueueBulk(ctx context.Context, campaignID *string, phones, messages []string, priority string) (int, error) {
	if len(phones) != len(messages) {
		return 0, fmt.Errorf("phones and messages length mismatch: %d vs %d", len(phones), len(messages))
	}
	if priority == "" {
		priority = "normal"
	}
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i := range phones {
		_, err = tx.Exec(ctx, `
			INSERT INTO bulk_recipients(campaign_id, phone, message, priority, status)
			VALUES($1,$2,$3,$4,'queued')
		`, campaignID, phones[i], messages[i], priority)
		if err != nil {
			return 0, err
		}
	}
	return len(phones), tx.Commit(ctx)
}

// ClaimQueuedRecipients moves up to limit entries from queued->sending using
// SKIP LOCKED and returns their ids. Safe under concurrent workers.
func (s *Store) ClaimQueuedRecipients(ctx context.Context, limit int) ([]string, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id FROM bulk_recipients
		WHERE status='queued' AND send_after <= now()
		ORDER BY priority DESC, requested_at
		LIMIT $1 FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `UPDATE bulk_recipients SET status='sending', attempts=attempts+1 WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	return ids, tx.Commit(ctx)
}

func (s *Store) LoadRecipient(ctx context.Context, id string) (QueuedRecipient, error) {
	var r QueuedRecipient
	err := s.DB.QueryRow(ctx, `
		SELECT id, campaign_id, phone, message, priority, attempts
		FROM bulk_recipients WHERE id=$1
	`, id).Scan(&r.ID, &r.CampaignID, &r.Phone, &r.Message, &r.Priority, &r.Attempts)
	return r, err
}

func (s *Store) MarkRecipientSent(ctx context.Context, id string) error {
	_, err := s.DB.Exec(ctx, `UPDATE bulk_recipients SET status='sent', error_message=NULL WHERE id=$1`, id)
	return err
}

// MarkRecipientRetry requeues an entry for a later attempt.
func (s *Store) MarkRecipientRetry(ctx context.Context, id, reason string, retryIn time.Duration) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE bulk_recipients SET status='queued', error_message=$2, send_after=now()+$3::interval WHERE id=$1
	`, id, reason, retryIn.String())
	return err
}

func (s *Store) MarkRecipientFailed(ctx context.Context, id, reason string) error {
	_, err := s.DB.Exec(ctx, `UPDATE bulk_recipients SET status='failed', error_message=$2 WHERE id=$1`, id, reason)
	return err
}
