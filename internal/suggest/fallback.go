package suggest

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// StaticGenerator produces deterministic suggestions from fixed templates.
// It backs every request when no AI credential is configured and every
// exhausted retry; it never fails and never makes a network call.
type StaticGenerator struct{}

func (StaticGenerator) Generate(_ context.Context, req Request) (Payload, error) {
	page := strings.Trim(req.Page, "/")
	if page == "" {
		page = "início"
	}
	kw := req.Keywords
	if len(kw) == 0 {
		kw = []string{"igreja", "comunidade", "fé"}
	}

	var text string
	switch req.Type {
	case "meta-description":
		text = fmt.Sprintf("Conheça %s: %s. Participe da nossa comunidade e acompanhe cultos, células e eventos.",
			page, strings.Join(kw, ", "))
	case "title":
		text = fmt.Sprintf("%s | %s", titleCase(page), titleCase(kw[0]))
	case "keywords":
		text = strings.Join(append(kw, "igreja", "células", "eventos"), ", ")
	default:
		text = fmt.Sprintf("Saiba mais sobre %s: %s.", page, strings.Join(kw, ", "))
	}

	return Payload{
		Suggestion:  text,
		Source:      SourceFallback,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		if len(r) > 0 {
			words[i] = strings.ToUpper(string(r[0])) + string(r[1:])
		}
	}
	return strings.Join(words, " ")
}
