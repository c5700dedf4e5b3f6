package web

import (
	"context"
	"strings"
	"testing"

	"github.com/a-h/templ"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tricyclecrm/internal/importer"
)

func render(t *testing.T, c templ.Component) string {
	t.Helper()
	var b strings.Builder
	require.NoError(t, c.Render(context.Background(), &b))
	return b.String()
}

func TestErrorAlert_Escapes(t *testing.T) {
	html := render(t, ErrorAlert(importer.UserMessage{
		Message: `<script>alert("x")</script>`,
		Code:    "ERR000",
	}))

	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")
	assert.NotContains(t, html, "alert-action", "empty action is omitted")
}

func TestSessionPanel(t *testing.T) {
	tests := []struct {
		name     string
		view     importer.View
		contains []string
		excludes []string
	}{
		{
			name: "preview",
			view: importer.View{
				ID:    "s1",
				State: importer.StatePreview,
				Rows:  1200,
				File: &importer.ParseResult{
					FileName: "clientes.xlsx",
					Headers:  []string{"Nombre", "Email"},
					Preview:  [][]string{{"Acme & Co", "a@acme.es"}},
					Advisory: "Archivo grande",
				},
			},
			contains: []string{`data-state="preview"`, "<th>Nombre</th>", "Acme &amp; Co", "Archivo grande", "Importar 1200 filas", `hx-post="/api/import/sessions/s1/submit"`},
			excludes: []string{"Reintentar"},
		},
		{
			name:     "busy preview disables submit",
			view:     importer.View{ID: "s1", State: importer.StatePreview, Busy: true},
			contains: []string{" disabled>"},
		},
		{
			name: "complete",
			view: importer.View{
				ID:      "s2",
				State:   importer.StateComplete,
				Summary: &importer.Summary{Created: 3, Skipped: 1, Message: "Importación completada"},
			},
			contains: []string{"Importación completada", "<dt>Nuevos</dt><dd>3</dd>", "<dt>Omitidos</dt><dd>1</dd>"},
			excludes: []string{"<button"},
		},
		{
			name: "failed step offers retry",
			view: importer.View{
				ID:       "s3",
				State:    importer.StatePreview,
				Error:    "persist: connection refused",
				CanRetry: true,
			},
			contains: []string{"persist: connection refused", `hx-post="/api/import/sessions/s3/retry"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			html := render(t, SessionPanel(tt.view))
			for _, want := range tt.contains {
				assert.Contains(t, html, want)
			}
			for _, unwanted := range tt.excludes {
				assert.NotContains(t, html, unwanted)
			}
		})
	}
}
