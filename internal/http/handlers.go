package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/Jocksanmarcos/kerigma-messaging/internal/core"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/dispatch"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/phone"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/provider"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/suggest"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/template"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Store      *core.Store
	Dispatcher *dispatch.Dispatcher
	Suggest    *suggest.Gateway

	Templates provider.TemplateLister // nil when the provider cannot list
	SenderID  string
	// Configured reports provider credentials; false turns sends into an
	// immediate configuration error.
	Configured func() bool
	// EnableMetrics mounts /metrics; main registers the collectors.
	EnableMetrics bool
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(cors, instrument)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/messages/send", s.sendMessage)
		r.Post("/messages/template", s.sendTemplate)
		r.Post("/messages/bulk", s.sendBulk)
		r.Get("/messages", s.listMessages)
		r.Get("/messages/status", s.status)
		r.Get("/messages/templates", s.listTemplates)
		r.Post("/seo/suggest", s.seoSuggest)
	})
	s.mountHealth(r)
	if s.EnableMetrics {
		s.mountMetrics(r)
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) providerReady(w http.ResponseWriter) bool {
	if s.Configured != nil && !s.Configured() {
		writeError(w, http.StatusInternalServerError, "whatsapp_not_configured")
		return false
	}
	return true
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Phone      string `json:"phone"`
		Message    string `json:"message"`
		Priority   string `json:"priority"`
		CampaignID string `json:"campaign_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Phone == "" || in.Message == "" {
		writeError(w, http.StatusBadRequest, "phone and message are required")
		return
	}
	if !s.providerReady(w) {
		return
	}

	res := s.Dispatcher.SendOne(r.Context(), dispatch.SendRequest{
		Phone:      in.Phone,
		Message:    in.Message,
		Priority:   in.Priority,
		CampaignID: in.CampaignID,
	})
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) sendTemplate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Phone      string   `json:"phone"`
		Template   string   `json:"template"`
		Language   string   `json:"language"`
		Params     []string `json:"params"`
		CampaignID string   `json:"campaign_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Phone == "" || in.Template == "" {
		writeError(w, http.StatusBadRequest, "phone and template are required")
		return
	}
	if !s.providerReady(w) {
		return
	}

	res := s.Dispatcher.SendOne(r.Context(), dispatch.SendRequest{
		Phone:      in.Phone,
		Template:   &provider.TemplateRef{Name: in.Template, Language: in.Language, Params: in.Params},
		CampaignID: in.CampaignID,
	})
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) sendBulk(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Recipients []string            `json:"recipients"`
		Message    string              `json:"message"`
		Variables  []map[string]string `json:"variables"`
		Priority   string              `json:"priority"`
		CampaignID string              `json:"campaign_id"`
		Async      bool                `json:"async"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || len(in.Recipients) == 0 || in.Message == "" {
		writeError(w, http.StatusBadRequest, "recipients and message are required")
		return
	}
	if !s.providerReady(w) {
		return
	}

	// Placeholders with no variables at all usually mean a caller mistake;
	// the batch still goes out verbatim, as single sends do.
	if keys := template.Placeholders(in.Message); len(keys) > 0 && len(in.Variables) == 0 {
		log.Printf("bulk: message references %v but request has no variables", keys)
	}

	if in.Async {
		// render and normalize up front; the worker only delivers
		phones := make([]string, len(in.Recipients))
		messages := make([]string, len(in.Recipients))
		for i, raw := range in.Recipients {
			var vars map[string]string
			if i < len(in.Variables) {
				vars = in.Variables[i]
			}
			phones[i] = phone.Normalize(raw)
			messages[i] = template.Render(in.Message, vars)
		}
		var campaignID *string
		if in.CampaignID != "" {
			campaignID = &in.CampaignID
		}
		n, err := s.Store.EnqueueBulk(r.Context(), campaignID, phones, messages, in.Priority)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"queued": n})
		return
	}

	res := s.Dispatcher.SendBulk(r.Context(), dispatch.BulkRequest{
		Recipients: in.Recipients,
		Message:    in.Message,
		Variables:  in.Variables,
		Priority:   in.Priority,
		CampaignID: in.CampaignID,
	})
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	f := core.OutboundFilter{Limit: 50}
	if v := r.URL.Query().Get("status"); v != "" {
		f.Status = &v
	}
	if v := r.URL.Query().Get("campaign_id"); v != "" {
		f.CampaignID = &v
	}
	if v := r.URL.Query().Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.From = &t
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.To = &t
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			f.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			f.Offset = n
		}
	}

	items, err := s.Store.QueryOutbound(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []core.OutboundMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "limit": f.Limit, "offset": f.Offset})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	configured := s.Configured == nil || s.Configured()
	writeJSON(w, http.StatusOK, map[string]any{
		"configured": configured,
		"sender_id":  s.SenderID,
	})
}

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	if s.Templates == nil {
		writeError(w, http.StatusInternalServerError, "whatsapp_not_configured")
		return
	}
	tpls, err := s.Templates.Templates(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": tpls})
}

func (s *Server) seoSuggest(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UID      string   `json:"uid"`
		Page     string   `json:"page"`
		Type     string   `json:"type"`
		Keywords []string `json:"keywords"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.UID == "" || in.Page == "" || in.Type == "" {
		writeError(w, http.StatusBadRequest, "uid, page and type are required")
		return
	}

	res, err := s.Suggest.Suggest(r.Context(), suggest.Request{
		UID:      in.UID,
		Page:     in.Page,
		Type:     in.Type,
		Keywords: in.Keywords,
	})
	if err != nil {
		if errors.Is(err, suggest.ErrTooSoon) {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"suggestion":   res.Payload.Suggestion,
		"source":       res.Payload.Source,
		"model":        res.Payload.Model,
		"generated_at": res.Payload.GeneratedAt,
		"origin":       res.Origin,
		"reason":       res.Reason,
	})
}
