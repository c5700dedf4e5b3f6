package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name            string
		total           int
		res             ImportResult
		wantNotReported int
		wantCreated     int
	}{
		{
			name:  "breakdown with unreported rows",
			total: 100,
			res: ImportResult{Success: true, Resultados: &Breakdown{
				Nuevos: 40, Actualizados: 30, Omitidos: 20, Errores: 5, Procesados: 95,
			}},
			wantNotReported: 5,
			wantCreated:     40,
		},
		{
			name:            "flat counters",
			total:           10,
			res:             ImportResult{Success: true, Created: 6, Updated: 2, Skipped: 1},
			wantNotReported: 1,
			wantCreated:     6,
		},
		{
			name:  "breakdown wins over flat counters",
			total: 10,
			res: ImportResult{Success: true, Created: 1, Resultados: &Breakdown{
				Nuevos: 10,
			}},
			wantNotReported: 0,
			wantCreated:     10,
		},
		{
			name:  "over-reporting floors at zero",
			total: 3,
			res: ImportResult{Success: true, Resultados: &Breakdown{
				Nuevos: 5,
			}},
			wantNotReported: 0,
			wantCreated:     5,
		},
		{
			name:            "nothing reported",
			total:           7,
			res:             ImportResult{Success: true},
			wantNotReported: 7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(tt.total, tt.res)
			assert.Equal(t, tt.total, got.Total)
			assert.Equal(t, tt.wantNotReported, got.NotReported)
			assert.Equal(t, tt.wantCreated, got.Created)
		})
	}
}

func TestSummarize_Message(t *testing.T) {
	s := Summarize(100, ImportResult{Resultados: &Breakdown{Nuevos: 40, Actualizados: 30, Omitidos: 20, Errores: 5}})
	assert.Equal(t, "Importación completada: 40 nuevos, 30 actualizados, 20 omitidos, 5 con errores, 5 no reportados", s.Message)

	s = Summarize(2, ImportResult{Created: 2})
	assert.NotContains(t, s.Message, "no reportados")
}
