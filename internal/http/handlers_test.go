package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Jocksanmarcos/kerigma-messaging/internal/core"
	database "github.com/Jocksanmarcos/kerigma-messaging/internal/db"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/dispatch"
	httpapi "github.com/Jocksanmarcos/kerigma-messaging/internal/http"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/provider"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/ratelimit"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/suggest"
	"github.com/stretchr/testify/require"
)

// okProvider succeeds deterministically and remembers what it sent.
type okProvider struct {
	mu   sync.Mutex
	sent []provider.Message
}

func (p *okProvider) Send(ctx context.Context, msg provider.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	return fmt.Sprintf("wamid.%d", len(p.sent)), nil
}

func (p *okProvider) Templates(ctx context.Context) ([]provider.Template, error) {
	return []provider.Template{{Name: "boas_vindas", Language: "pt_BR", Status: "APPROVED"}}, nil
}

type noopPacer struct{}

func (noopPacer) Wait(ctx context.Context) error { return ctx.Err() }

func startAPI(t *testing.T) (*httpapi.Server, *okProvider) {
	t.Helper()
	pg := database.StartTestPostgres(t)
	store := &core.Store{DB: pg.Pool}
	prov := &okProvider{}

	srv := &httpapi.Server{
		Store:      store,
		Dispatcher: &dispatch.Dispatcher{Provider: prov, Audit: store, Pacer: noopPacer{}},
		Suggest: &suggest.Gateway{
			Cache:     store,
			Admission: &ratelimit.Store{DB: pg.Pool},
			Audit:     store,
			Generator: nil, // no credential: fallback path
			Fallback:  suggest.StaticGenerator{},
			Retry:     suggest.RetryPolicy{MaxAttempts: 3, Initial: time.Millisecond, Sleep: func(time.Duration) {}},
			Window:    30 * time.Second,
			TTL:       24 * time.Hour,
		},
		Templates:  prov,
		SenderID:   "12345",
		Configured: func() bool { return true },
	}
	return srv, prov
}

func doJSON(t *testing.T, h http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSendMessageAndList(t *testing.T) {
	srv, prov := startAPI(t)
	h := srv.Router()

	w := doJSON(t, h, "POST", "/v1/messages/send", `{"phone":"11987654321","message":"Olá!"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var res dispatch.RecipientResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.True(t, res.Success)
	require.Equal(t, "5511987654321", res.Phone)
	require.NotEmpty(t, res.MessageID)
	require.Len(t, prov.sent, 1)

	// audit row is queryable through the listing
	w = doJSON(t, h, "GET", "/v1/messages?status=sent", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Items []core.OutboundMessage `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	require.Equal(t, "5511987654321", list.Items[0].Phone)
}

func TestSendBulkEndToEnd(t *testing.T) {
	srv, prov := startAPI(t)
	h := srv.Router()

	w := doJSON(t, h, "POST", "/v1/messages/bulk", `{
		"recipients": ["11987654321", "5511987654321"],
		"message": "Olá {{nome}}!",
		"variables": [{"nome":"Ana"},{"nome":"Bruno"}]
	}`)
	require.Equal(t, http.StatusOK, w.Code)

	var res dispatch.BulkResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, 2, res.Summary.Total)
	require.Equal(t, 2, res.Summary.Successful)
	require.Equal(t, 0, res.Summary.Failed)

	require.Len(t, prov.sent, 2)
	require.Equal(t, "5511987654321", prov.sent[0].To)
	require.Equal(t, "5511987654321", prov.sent[1].To)
	require.Equal(t, "Olá Ana!", prov.sent[0].Body)
	require.Equal(t, "Olá Bruno!", prov.sent[1].Body)

	w = doJSON(t, h, "GET", "/v1/messages", "")
	var list struct {
		Items []core.OutboundMessage `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Items, 2)
}

func TestSendBulkAsyncQueues(t *testing.T) {
	srv, prov := startAPI(t)
	h := srv.Router()

	w := doJSON(t, h, "POST", "/v1/messages/bulk", `{
		"recipients": ["11987654321"],
		"message": "Olá {{nome}}!",
		"variables": [{"nome":"Ana"}],
		"async": true
	}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Empty(t, prov.sent, "async accepts without sending")

	ids, err := srv.Store.ClaimQueuedRecipients(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	rcpt, err := srv.Store.LoadRecipient(context.Background(), ids[0])
	require.NoError(t, err)
	require.Equal(t, "5511987654321", rcpt.Phone)
	require.Equal(t, "Olá Ana!", rcpt.Message)
}

func TestSendTemplate(t *testing.T) {
	srv, prov := startAPI(t)
	h := srv.Router()

	w := doJSON(t, h, "POST", "/v1/messages/template", `{
		"phone": "11987654321", "template": "boas_vindas", "params": ["Ana"]
	}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, prov.sent, 1)
	require.NotNil(t, prov.sent[0].Template)
	require.Equal(t, "boas_vindas", prov.sent[0].Template.Name)
}

func TestStatusAndTemplates(t *testing.T) {
	srv, _ := startAPI(t)
	h := srv.Router()

	w := doJSON(t, h, "GET", "/v1/messages/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var st map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	require.Equal(t, true, st["configured"])
	require.Equal(t, "12345", st["sender_id"])

	w = doJSON(t, h, "GET", "/v1/messages/templates", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "boas_vindas")
}

func TestUnconfiguredProviderIs500(t *testing.T) {
	srv, _ := startAPI(t)
	srv.Configured = func() bool { return false }
	h := srv.Router()

	w := doJSON(t, h, "POST", "/v1/messages/send", `{"phone":"11987654321","message":"x"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), "whatsapp_not_configured")
}

func TestSeoSuggestFallbackAndCooldown(t *testing.T) {
	srv, _ := startAPI(t)
	h := srv.Router()

	w := doJSON(t, h, "POST", "/v1/seo/suggest", `{
		"uid": "u1", "page": "/sobre", "type": "meta-description", "keywords": ["igreja"]
	}`)
	require.Equal(t, http.StatusOK, w.Code)
	var res map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, "simulado", res["source"])
	require.NotEmpty(t, res["suggestion"])

	// second request 0-30s later is rejected by the cooldown gate
	w = doJSON(t, h, "POST", "/v1/seo/suggest", `{
		"uid": "u1", "page": "/sobre", "type": "meta-description", "keywords": ["igreja"]
	}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Contains(t, w.Body.String(), "aguarde 30 segundos")

	// a different caller is served from the cache
	w = doJSON(t, h, "POST", "/v1/seo/suggest", `{
		"uid": "u2", "page": "/sobre", "type": "meta-description", "keywords": ["igreja"]
	}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, "cache", res["origin"])
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := startAPI(t)
	h := srv.Router()

	req := httptest.NewRequest(http.MethodOptions, "/v1/messages/send", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestInvalidBodyIs400(t *testing.T) {
	srv, _ := startAPI(t)
	h := srv.Router()

	for _, tc := range []struct{ path, body string }{
		{"/v1/messages/send", `{"phone":"11987654321"}`},
		{"/v1/messages/bulk", `{"recipients":[]}`},
		{"/v1/messages/template", `{"phone":"x"}`},
		{"/v1/seo/suggest", `{"uid":"u1"}`},
	} {
		w := doJSON(t, h, "POST", tc.path, tc.body)
		require.Equal(t, http.StatusBadRequest, w.Code, tc.path)
		require.Contains(t, w.Body.String(), "error")
	}
}
