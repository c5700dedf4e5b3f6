package importer

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// TemplateSheet is the sheet name of generated templates.
const TemplateSheet = "Plantilla"

// TemplateFileName returns the download name of an entity's template.
func TemplateFileName(entity string) string {
	return "plantilla_" + entity + ".xlsx"
}

// BuildTemplate returns a one-row .xlsx workbook holding the given headers.
func BuildTemplate(headers []string) ([]byte, error) {
	if len(headers) == 0 {
		return nil, fmt.Errorf("build template: no headers")
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), TemplateSheet); err != nil {
		return nil, fmt.Errorf("build template: %w", err)
	}

	row := make([]any, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	if err := f.SetSheetRow(TemplateSheet, "A1", &row); err != nil {
		return nil, fmt.Errorf("build template: %w", err)
	}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("build template: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return nil, fmt.Errorf("build template: %w", err)
	}
	if err := f.SetCellStyle(TemplateSheet, "A1", last, style); err != nil {
		return nil, fmt.Errorf("build template: %w", err)
	}

	lastCol, _, err := excelize.SplitCellName(last)
	if err != nil {
		return nil, fmt.Errorf("build template: %w", err)
	}
	if err := f.SetColWidth(TemplateSheet, "A", lastCol, 22); err != nil {
		return nil, fmt.Errorf("build template: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("build template: %w", err)
	}
	return buf.Bytes(), nil
}
