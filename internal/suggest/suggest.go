// Package suggest is the cached SEO-suggestion gateway: admission gate,
// read-through cache, AI provider behind a bounded backoff, and a
// deterministic fallback so every accepted request yields a usable payload.
package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/Jocksanmarcos/kerigma-messaging/internal/core"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/metrics"
)

// ErrTooSoon is the admission-gate rejection. It is the only error Suggest
// ever returns.
var ErrTooSoon = errors.New("aguarde 30 segundos antes de solicitar novamente")

// Request identifies one suggestion. UID is the caller identity used by the
// cooldown gate; the cache key ignores it.
type Request struct {
	UID      string
	Page     string
	Type     string // meta-description | title | keywords
	Keywords []string
}

// Payload is the wire shape stored in the cache and returned to clients.
// Source is "gemini" for genuine provider output and "simulado" for the
// deterministic fallback.
type Payload struct {
	Suggestion  string    `json:"suggestion"`
	Source      string    `json:"source"`
	Model       string    `json:"model,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

type Origin string

const (
	OriginProvider Origin = "provider"
	OriginCache    Origin = "cache"
	OriginFallback Origin = "fallback"
)

// Result tags the payload with where it came from, so callers can tell a
// genuine provider answer from a degraded one.
type Result struct {
	Payload Payload `json:"payload"`
	Origin  Origin  `json:"origin"`
	Reason  string  `json:"reason,omitempty"` // set when Origin is fallback
}

type Generator interface {
	Generate(ctx context.Context, req Request) (Payload, error)
}

// Cache is satisfied by *core.Store.
type Cache interface {
	CacheGet(ctx context.Context, key string) ([]byte, bool, error)
	CachePut(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

// Admission is satisfied by *ratelimit.Store.
type Admission interface {
	TryAcquire(ctx context.Context, key string, window time.Duration) (bool, error)
}

// AuditSink is satisfied by *core.Store.
type AuditSink interface {
	RecordSeoLog(ctx context.Context, e core.SeoLogEntry) error
}

type Gateway struct {
	Cache     Cache
	Admission Admission
	Audit     AuditSink
	Generator Generator // nil when no AI credential is configured
	Fallback  Generator
	Retry     RetryPolicy
	Window    time.Duration // cooldown per UID
	TTL       time.Duration // cache expiry
}

// CacheKey derives the composite lookup key. Caller identity is not part of
// it: the same page/type/keywords share one entry across callers.
func CacheKey(req Request) string {
	return req.Page + "|" + req.Type + "|" + strings.Join(req.Keywords, ",")
}

// Suggest resolves one request. Other than the cooldown rejection, no code
// path returns an error: provider trouble degrades to the fallback payload.
func (g *Gateway) Suggest(ctx context.Context, req Request) (Result, error) {
	ok, err := g.Admission.TryAcquire(ctx, req.UID, g.Window)
	if err != nil {
		// gate store unavailable: fail open, the gate protects quota only
		log.Printf("suggest: admission check failed for %s: %v", req.UID, err)
		ok = true
	}
	if !ok {
		metrics.AdmissionRejected.Inc()
		metrics.SuggestTotal.WithLabelValues("rejected").Inc()
		g.logRequest(ctx, req, false, ErrTooSoon.Error())
		return Result{}, ErrTooSoon
	}

	key := CacheKey(req)
	if raw, hit, err := g.Cache.CacheGet(ctx, key); err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		log.Printf("suggest: cache read failed for %q: %v", key, err)
	} else if hit {
		var p Payload
		if err := json.Unmarshal(raw, &p); err == nil {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			metrics.SuggestTotal.WithLabelValues("cache").Inc()
			g.logRequest(ctx, req, true, "")
			return Result{Payload: p, Origin: OriginCache}, nil
		}
		log.Printf("suggest: corrupt cache entry for %q: %v", key, err)
	} else {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	res := g.generate(ctx, req)

	if raw, err := json.Marshal(res.Payload); err == nil {
		if err := g.Cache.CachePut(ctx, key, raw, g.TTL); err != nil {
			log.Printf("suggest: cache write failed for %q: %v", key, err)
		}
	}

	g.logRequest(ctx, req, true, "")
	return res, nil
}

func (g *Gateway) generate(ctx context.Context, req Request) Result {
	if g.Generator == nil {
		metrics.SuggestTotal.WithLabelValues("fallback").Inc()
		return Result{Payload: g.fallback(ctx, req), Origin: OriginFallback, Reason: "ai_not_configured"}
	}

	p, err := g.Retry.Do(ctx, func(ctx context.Context) (Payload, error) {
		return g.Generator.Generate(ctx, req)
	})
	if err != nil {
		metrics.SuggestTotal.WithLabelValues("fallback").Inc()
		return Result{Payload: g.fallback(ctx, req), Origin: OriginFallback, Reason: err.Error()}
	}
	metrics.SuggestTotal.WithLabelValues("provider").Inc()
	return Result{Payload: p, Origin: OriginProvider}
}

func (g *Gateway) fallback(ctx context.Context, req Request) Payload {
	p, err := g.Fallback.Generate(ctx, req)
	if err != nil {
		// the static generator cannot fail; guard anyway
		log.Printf("suggest: fallback generate: %v", err)
		return Payload{Suggestion: req.Page, Source: SourceFallback, GeneratedAt: time.Now().UTC()}
	}
	return p
}

func (g *Gateway) logRequest(ctx context.Context, req Request, success bool, errMsg string) {
	e := core.SeoLogEntry{UID: req.UID, Slug: req.Page, Success: success}
	if errMsg != "" {
		e.ErrorMessage = &errMsg
	}
	if err := g.Audit.RecordSeoLog(ctx, e); err != nil {
		log.Printf("suggest: seo log write failed for %s: %v", req.UID, err)
	}
}
