package dispatch

import (
	"context"
	"errors"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Jocksanmarcos/kerigma-messaging/internal/core"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/metrics"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/provider"
)

type EngineOptions struct {
	BatchSize    int           // how many to claim per poll
	Concurrency  int           // number of sender goroutines
	PollInterval time.Duration // cadence while work is flowing
	IdleSleep    time.Duration // sleep when queue empty
	DBBackoffMin time.Duration
	DBBackoffMax time.Duration
	RetryAfter   time.Duration // requeue delay on rate-limited sends
	SendTimeout  time.Duration // per-send timeout
}

// RunEngine drains queued bulk recipients: claim a batch, hand ids to a
// fixed worker pool, send each under the shared pacer, mark the row.
// Recipients are claimed with SKIP LOCKED, so multiple engine processes can
// run side by side.
func RunEngine(ctx context.Context, store *core.Store, prov provider.Provider, pacer Pacer, opt EngineOptions) error {
	jobs := make(chan string, opt.BatchSize*2)
	var wg sync.WaitGroup
	wg.Add(opt.Concurrency)
	for i := 0; i < opt.Concurrency; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-jobs:
					sendQueued(ctx, store, prov, pacer, id, opt)
				}
			}
		}()
	}

	// Poll loop: claim batches and dispatch.
	dbBackoff := opt.DBBackoffMin
	for {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		default:
		}

		ids, err := store.ClaimQueuedRecipients(ctx, opt.BatchSize)
		if err != nil {
			metrics.ClaimTotal.WithLabelValues("error").Inc()
			// Backoff on DB errors (exponential + jitter)
			sleep := jitter(dbBackoff, 0.20)
			log.Printf("engine: claim error: %v; backing off %s", err, sleep)
			time.Sleep(sleep)
			dbBackoff = minDur(opt.DBBackoffMax, time.Duration(float64(dbBackoff)*1.6))
			continue
		}
		dbBackoff = opt.DBBackoffMin // reset on success

		if len(ids) == 0 {
			metrics.ClaimTotal.WithLabelValues("empty").Inc()
			time.Sleep(opt.IdleSleep)
			continue
		}
		metrics.ClaimTotal.WithLabelValues("ok").Inc()

		for _, id := range ids {
			select {
			case <-ctx.Done():
				close(jobs)
				wg.Wait()
				return ctx.Err()
			case jobs <- id:
			}
		}

		time.Sleep(opt.PollInterval)
	}
}

func sendQueued(ctx context.Context, store *core.Store, prov provider.Provider, pacer Pacer, id string, opt EngineOptions) {
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	rcpt, err := store.LoadRecipient(ctx, id)
	if err != nil {
		_ = store.MarkRecipientFailed(ctx, id, "load: "+err.Error())
		return
	}

	if err := pacer.Wait(ctx); err != nil {
		// context canceled mid-claim; give the row back
		_ = store.MarkRecipientRetry(ctx, id, "canceled", 0)
		return
	}

	cctx, cancel := context.WithTimeout(ctx, opt.SendTimeout)
	defer cancel()

	start := time.Now()
	providerID, err := prov.Send(cctx, provider.Message{To: rcpt.Phone, Body: rcpt.Message})
	metrics.DispatchDuration.Observe(time.Since(start).Seconds())

	row := core.OutboundMessage{
		Phone:      rcpt.Phone,
		Message:    rcpt.Message,
		Type:       core.TypeText,
		Priority:   rcpt.Priority,
		CampaignID: rcpt.CampaignID,
	}

	switch {
	case err == nil:
		metrics.DispatchTotal.WithLabelValues("sent").Inc()
		_ = store.MarkRecipientSent(ctx, id)
		row.Status = core.StatusSent
		row.ExternalID = &providerID
	case errors.Is(err, provider.ErrRateLimited):
		// provider pushed back: requeue; the final outcome gets the audit row
		_ = store.MarkRecipientRetry(ctx, id, err.Error(), opt.RetryAfter)
		return
	default:
		metrics.DispatchTotal.WithLabelValues("failed").Inc()
		reason := err.Error()
		_ = store.MarkRecipientFailed(ctx, id, reason)
		row.Status = core.StatusFailed
		row.ErrorMessage = &reason
	}

	if _, auditErr := store.RecordOutbound(ctx, row); auditErr != nil {
		log.Printf("engine: audit write failed for %s: %v", rcpt.Phone, auditErr)
	}
}

func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	delta := int64(float64(d) * frac)
	if delta <= 0 {
		return d
	}
	// random in [-delta, +delta]
	n := rand.Int64N(2*delta+1) - delta
	return d + time.Duration(n)
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
