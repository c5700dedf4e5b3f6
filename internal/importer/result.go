package importer

import "fmt"

// DuplicateCandidate pairs an incoming row with a stored record it collides with.
type DuplicateCandidate struct {
	Incoming      Row      `json:"nuevo"`
	Existing      Row      `json:"existente"`
	MatchedFields []string `json:"campos"`
}

// Breakdown is the per-bucket result a persister may report.
type Breakdown struct {
	Nuevos       int `json:"nuevos"`
	Actualizados int `json:"actualizados"`
	Omitidos     int `json:"omitidos"`
	Errores      int `json:"errores"`
	Procesados   int `json:"procesados"`
}

// Reported returns the number of rows the persister accounted for.
func (b Breakdown) Reported() int {
	return b.Nuevos + b.Actualizados + b.Omitidos + b.Errores
}

// ImportResult is what a Persister returns. A non-empty Duplicados means the
// persister re-checked server-side and found collisions; nothing was written.
type ImportResult struct {
	Success    bool                 `json:"success"`
	Message    string               `json:"message,omitempty"`
	Created    int                  `json:"created,omitempty"`
	Updated    int                  `json:"updated,omitempty"`
	Skipped    int                  `json:"skipped,omitempty"`
	Errors     int                  `json:"errors,omitempty"`
	Resultados *Breakdown           `json:"resultados,omitempty"`
	Duplicados []DuplicateCandidate `json:"duplicados,omitempty"`
	Detalles   []string             `json:"detalles,omitempty"`
}

// Summary is the outcome shown to the user after a completed import.
type Summary struct {
	Total       int    `json:"total"`
	Created     int    `json:"created"`
	Updated     int    `json:"updated"`
	Skipped     int    `json:"skipped"`
	Errored     int    `json:"errored"`
	NotReported int    `json:"notReported"`
	Message     string `json:"message"`
}

// Summarize aggregates a persister result against the number of rows sent.
// The resultados breakdown wins over the flat counters when present.
// NotReported is total minus every reported bucket, floored at zero.
func Summarize(total int, res ImportResult) Summary {
	b := Breakdown{
		Nuevos:       res.Created,
		Actualizados: res.Updated,
		Omitidos:     res.Skipped,
		Errores:      res.Errors,
	}
	if res.Resultados != nil {
		b = *res.Resultados
	}

	s := Summary{
		Total:       total,
		Created:     b.Nuevos,
		Updated:     b.Actualizados,
		Skipped:     b.Omitidos,
		Errored:     b.Errores,
		NotReported: max(0, total-b.Reported()),
	}

	s.Message = fmt.Sprintf("Importación completada: %d nuevos, %d actualizados, %d omitidos, %d con errores",
		s.Created, s.Updated, s.Skipped, s.Errored)
	if s.NotReported > 0 {
		s.Message += fmt.Sprintf(", %d no reportados", s.NotReported)
	}
	return s
}
