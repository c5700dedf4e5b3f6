package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/tricyclecrm/internal/importer"
	"github.com/JonMunkholm/tricyclecrm/internal/logging"
)

// strategyLabels are the duplicate strategies offered to the user, in order.
var strategyLabels = []struct {
	strategy importer.Strategy
	label    string
}{
	{importer.StrategyUpdate, "Actualizar existentes"},
	{importer.StrategySkip, "Omitir duplicados"},
	{importer.StrategyCreateNew, "Crear nuevos"},
}

// renderComponent writes an HTML fragment with the given status.
func renderComponent(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render fragment", "error", err)
	}
}

// ErrorAlert renders a user message as an alert box.
func ErrorAlert(msg importer.UserMessage) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<div class="alert alert-error" role="alert">`)
		fmt.Fprintf(&b, `<p class="alert-message">%s</p>`, templ.EscapeString(msg.Message))
		if msg.Action != "" {
			fmt.Fprintf(&b, `<p class="alert-action">%s</p>`, templ.EscapeString(msg.Action))
		}
		fmt.Fprintf(&b, `<p class="alert-code">Código: %s</p>`, templ.EscapeString(msg.Code))
		b.WriteString(`</div>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// SessionPanel renders an import session for its current step.
func SessionPanel(v importer.View) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		base := "/api/import/sessions/" + templ.EscapeString(v.ID)

		fmt.Fprintf(&b, `<section id="import-%s" class="import-session" data-state="%s">`,
			templ.EscapeString(v.ID), templ.EscapeString(string(v.State)))

		switch v.State {
		case importer.StatePreview:
			writePreview(&b, v)
			fmt.Fprintf(&b, `<button hx-post="%s/submit" hx-target="#import-%s" hx-swap="outerHTML"%s>Importar %d filas</button>`,
				base, templ.EscapeString(v.ID), disabledAttr(v.Busy), v.Rows)

		case importer.StateDuplicates:
			fmt.Fprintf(&b, `<p class="import-duplicates">Se encontraron %d posibles duplicados</p>`, len(v.Duplicates))
			writeDuplicates(&b, v.Duplicates)
			b.WriteString(`<div class="import-strategies">`)
			for _, s := range strategyLabels {
				fmt.Fprintf(&b, `<button hx-post="%s/resolve" hx-vals='{"strategy":"%s"}' hx-target="#import-%s" hx-swap="outerHTML"%s>%s</button>`,
					base, s.strategy, templ.EscapeString(v.ID), disabledAttr(v.Busy), templ.EscapeString(s.label))
			}
			b.WriteString(`</div>`)

		case importer.StateComplete:
			if v.Summary != nil {
				writeSummary(&b, *v.Summary)
			}
		}

		if v.Error != "" {
			fmt.Fprintf(&b, `<p class="import-error">%s</p>`, templ.EscapeString(v.Error))
		}
		if v.CanRetry {
			fmt.Fprintf(&b, `<button hx-post="%s/retry" hx-target="#import-%s" hx-swap="outerHTML"%s>Reintentar</button>`,
				base, templ.EscapeString(v.ID), disabledAttr(v.Busy))
		}

		b.WriteString(`</section>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

func writePreview(b *strings.Builder, v importer.View) {
	if v.File == nil {
		return
	}
	fmt.Fprintf(b, `<p class="import-file">%s: %d filas</p>`, templ.EscapeString(v.File.FileName), v.Rows)
	if v.File.Advisory != "" {
		fmt.Fprintf(b, `<p class="import-advisory">%s</p>`, templ.EscapeString(v.File.Advisory))
	}

	b.WriteString(`<table class="import-preview"><thead><tr>`)
	for _, h := range v.File.Headers {
		fmt.Fprintf(b, `<th>%s</th>`, templ.EscapeString(h))
	}
	b.WriteString(`</tr></thead><tbody>`)
	for _, row := range v.File.Preview {
		b.WriteString(`<tr>`)
		for _, cell := range row {
			fmt.Fprintf(b, `<td>%s</td>`, templ.EscapeString(cell))
		}
		b.WriteString(`</tr>`)
	}
	b.WriteString(`</tbody></table>`)
}

func writeDuplicates(b *strings.Builder, dups []importer.DuplicateCandidate) {
	b.WriteString(`<ul class="import-duplicate-list">`)
	for _, d := range dups {
		fmt.Fprintf(b, `<li><strong>%s</strong> coincide con <strong>%s</strong> (%s)</li>`,
			templ.EscapeString(d.Incoming.String("nombre")),
			templ.EscapeString(d.Existing.String("nombre")),
			templ.EscapeString(strings.Join(d.MatchedFields, ", ")))
	}
	b.WriteString(`</ul>`)
}

func writeSummary(b *strings.Builder, s importer.Summary) {
	fmt.Fprintf(b, `<p class="import-summary">%s</p>`, templ.EscapeString(s.Message))
	fmt.Fprintf(b, `<dl class="import-counts"><dt>Nuevos</dt><dd>%d</dd><dt>Actualizados</dt><dd>%d</dd><dt>Omitidos</dt><dd>%d</dd><dt>Errores</dt><dd>%d</dd></dl>`,
		s.Created, s.Updated, s.Skipped, s.Errored)
}

func disabledAttr(busy bool) string {
	if busy {
		return " disabled"
	}
	return ""
}
