package template_test

import (
	"testing"

	"github.com/Jocksanmarcos/kerigma-messaging/internal/template"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	got := template.Render("Olá {{nome}}, o culto é {{dia}}!", map[string]string{
		"nome": "Ana",
		"dia":  "domingo",
	})
	require.Equal(t, "Olá Ana, o culto é domingo!", got)
}

func TestRenderRepeatedAndUnmatched(t *testing.T) {
	got := template.Render("{{nome}} e {{nome}} e {{outro}}", map[string]string{"nome": "Ana"})
	require.Equal(t, "Ana e Ana e {{outro}}", got)
}

func TestRenderIdempotentWhenNoPlaceholdersRemain(t *testing.T) {
	vars := map[string]string{"nome": "Ana"}
	once := template.Render("Olá {{nome}}!", vars)
	require.Equal(t, once, template.Render(once, vars))
}

func TestRenderNoEscaping(t *testing.T) {
	got := template.Render("{{v}}", map[string]string{"v": `<b>&{{x}}`})
	// values go in verbatim, even when they look like markup or placeholders
	require.Equal(t, `<b>&{{x}}`, got)
}

func TestPlaceholders(t *testing.T) {
	keys := template.Placeholders("{{nome}} {{dia}} {{nome}} {texto} {{ spaced }}")
	require.Equal(t, []string{"nome", "dia"}, keys)
	require.Empty(t, template.Placeholders("sem variáveis"))
}
