package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/cases"
)

// Parse defaults.
const (
	DefaultNameField     = "nombre"
	DefaultPreviewRows   = 5
	DefaultLargeFileRows = 1000
)

// DefaultMaxFileSize is the largest spreadsheet Parse accepts (20MB).
var DefaultMaxFileSize int64 = 20 * 1024 * 1024

// AllowedExtensions are matched against the end of the file name, case-insensitively.
var AllowedExtensions = []string{".xlsx", ".xls"}

var (
	// ErrNoFile is returned when no file (or an unnamed one) was supplied.
	ErrNoFile = errors.New("no file provided")

	// ErrUnsupportedFile is returned for names without an allowed extension.
	ErrUnsupportedFile = errors.New("unsupported file type")

	// ErrEmptyFile is returned when the first sheet lacks a header row plus one data row.
	ErrEmptyFile = errors.New("empty file: a header row and at least one data row are required")

	// ErrFileTooLarge is returned when the upload exceeds the size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrInvalidSpreadsheet is returned when the bytes are not a readable workbook.
	ErrInvalidSpreadsheet = errors.New("invalid spreadsheet")
)

// MissingColumnsError lists every required header missing from the sheet.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return "missing required columns: " + strings.Join(e.Columns, ", ")
}

// ParseOptions configures Parse.
type ParseOptions struct {
	Mappings []ColumnMapping

	// NameField is the field whose blank value drops a row. Rows are only dropped
	// when some mapping targets this field.
	NameField string

	PreviewRows   int
	LargeFileRows int
	MaxFileSize   int64
}

func (o ParseOptions) withDefaults() ParseOptions {
	if o.NameField == "" {
		o.NameField = DefaultNameField
	}
	if o.PreviewRows <= 0 {
		o.PreviewRows = DefaultPreviewRows
	}
	if o.LargeFileRows <= 0 {
		o.LargeFileRows = DefaultLargeFileRows
	}
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	return o
}

// ParseResult is a parsed spreadsheet.
type ParseResult struct {
	FileName string     `json:"fileName"`
	Sheet    string     `json:"sheet"`
	Headers  []string   `json:"headers"`
	Preview  [][]string `json:"preview"`
	Rows     []Row      `json:"-"`

	// DataRows counts non-blank rows below the header, before blank-name rows are dropped.
	DataRows int `json:"dataRows"`

	// Advisory is set for large files; it never blocks the import.
	Advisory string `json:"advisory,omitempty"`
}

// HeaderIndex maps folded header names to their column position.
type HeaderIndex map[string]int

// CheckExtension validates the file name suffix. Content is not sniffed.
func CheckExtension(fileName string) error {
	if strings.TrimSpace(fileName) == "" {
		return ErrNoFile
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w %q: use .xlsx or .xls", ErrUnsupportedFile, ext)
}

// Parse reads the first sheet of a spreadsheet and builds records from it.
//
// Required headers are checked before anything else is built; every missing one
// is reported in a single *MissingColumnsError. Fully blank rows are skipped and
// rows whose name field is blank are dropped without being reported.
func Parse(ctx context.Context, r io.Reader, fileName string, opts ParseOptions) (*ParseResult, error) {
	opts = opts.withDefaults()

	if err := CheckExtension(fileName); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(r, opts.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if int64(len(data)) > opts.MaxFileSize {
		return nil, fmt.Errorf("%w: limit is %dMB", ErrFileTooLarge, opts.MaxFileSize/(1024*1024))
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSpreadsheet, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}
	sheet := sheets[0]

	// Raw values keep numbers unformatted and dates as serials; the Date
	// transform understands serials.
	grid, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %q: %w", ErrInvalidSpreadsheet, sheet, err)
	}

	return parseGrid(ctx, grid, fileName, sheet, opts)
}

// parseGrid does the work of Parse on an already-read sheet.
func parseGrid(ctx context.Context, grid [][]string, fileName, sheet string, opts ParseOptions) (*ParseResult, error) {
	if len(grid) < 2 {
		return nil, ErrEmptyFile
	}

	headers := make([]string, len(grid[0]))
	for i, h := range grid[0] {
		headers[i] = CleanCell(h)
	}

	idx, err := ValidateHeaders(headers, opts.Mappings)
	if err != nil {
		return nil, err
	}

	result := &ParseResult{
		FileName: fileName,
		Sheet:    sheet,
		Headers:  headers,
		Preview:  make([][]string, 0, opts.PreviewRows),
	}

	positions := make([]int, len(opts.Mappings))
	dropBlankNames := false
	for i, m := range opts.Mappings {
		pos, ok := idx[foldHeader(m.ExcelColumn)]
		if !ok {
			pos = -1
		}
		positions[i] = pos
		if m.Field == opts.NameField {
			dropBlankNames = true
		}
	}

	dropped := 0
	for n, raw := range grid[1:] {
		if n%ContextCheckInterval == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isBlankRow(raw) {
			continue
		}
		result.DataRows++

		if len(result.Preview) < opts.PreviewRows {
			result.Preview = append(result.Preview, previewRow(raw, len(headers)))
		}

		row := make(Row, len(opts.Mappings))
		for i, m := range opts.Mappings {
			pos := positions[i]
			if pos < 0 || pos >= len(raw) {
				row[m.Field] = nil
				continue
			}
			row[m.Field] = m.apply(raw[pos])
		}

		if dropBlankNames && row.String(opts.NameField) == "" {
			dropped++
			continue
		}
		result.Rows = append(result.Rows, row)
	}

	if result.DataRows == 0 {
		return nil, ErrEmptyFile
	}
	if result.DataRows > opts.LargeFileRows {
		result.Advisory = fmt.Sprintf(
			"El archivo tiene %d filas. El procesamiento puede tardar varios minutos.", result.DataRows)
	}

	slog.Debug("spreadsheet parsed",
		"file", fileName,
		"sheet", sheet,
		"data_rows", result.DataRows,
		"rows", len(result.Rows),
		"dropped_blank_name", dropped,
	)

	return result, nil
}

// ContextCheckInterval is how many rows are parsed between cancellation checks.
var ContextCheckInterval = 500

// MakeHeaderIndex maps folded header text to column position. The first
// occurrence of a repeated header wins.
func MakeHeaderIndex(headers []string) HeaderIndex {
	fold := cases.Fold()
	idx := make(HeaderIndex, len(headers))
	for i, h := range headers {
		key := fold.String(strings.TrimSpace(CleanCell(h)))
		if key == "" {
			continue
		}
		if _, seen := idx[key]; !seen {
			idx[key] = i
		}
	}
	return idx
}

// ValidateHeaders indexes the header row and fails listing every required
// mapping whose header is missing.
func ValidateHeaders(headers []string, mappings []ColumnMapping) (HeaderIndex, error) {
	idx := MakeHeaderIndex(headers)

	var missing []string
	for _, m := range mappings {
		if !m.Required {
			continue
		}
		if _, ok := idx[foldHeader(m.ExcelColumn)]; !ok {
			missing = append(missing, m.ExcelColumn)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Columns: missing}
	}
	return idx, nil
}

func foldHeader(h string) string {
	return cases.Fold().String(strings.TrimSpace(h))
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// previewRow pads or trims a raw row to the header width.
func previewRow(raw []string, width int) []string {
	out := make([]string, width)
	for i := 0; i < width && i < len(raw); i++ {
		out[i] = CleanCell(raw[i])
	}
	return out
}
