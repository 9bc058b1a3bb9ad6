package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

// ExcelExporter exports rows to a single-sheet workbook
type ExcelExporter struct {
	file    *excelize.File
	options ExcelOptions
}

// ExcelOptions configures Excel export behavior
type ExcelOptions struct {
	SheetName       string            `json:"sheet_name"`
	IncludeHeader   bool              `json:"include_header"`
	FreezeHeader    bool              `json:"freeze_header"`
	AutoFilter      bool              `json:"auto_filter"`
	TimestampFormat string            `json:"timestamp_format"`
	HeaderStyle     *ExcelStyleConfig `json:"header_style,omitempty"`
	AutoWidth       bool              `json:"auto_width"`
}

// ExcelStyleConfig defines style for cells
type ExcelStyleConfig struct {
	FontBold  bool   `json:"font_bold"`
	FontSize  int    `json:"font_size"`
	FontColor string `json:"font_color"`
	FillColor string `json:"fill_color"`
	Alignment string `json:"alignment"` // left, center, right
	Border    bool   `json:"border"`
}

// DefaultExcelOptions returns default Excel export options
func DefaultExcelOptions() ExcelOptions {
	return ExcelOptions{
		SheetName:       "Report",
		IncludeHeader:   true,
		FreezeHeader:    true,
		AutoFilter:      true,
		TimestampFormat: "yyyy-mm-dd hh:mm:ss",
		AutoWidth:       true,
		HeaderStyle: &ExcelStyleConfig{
			FontBold:  true,
			FontSize:  11,
			FillColor: "4472C4",
			FontColor: "FFFFFF",
			Alignment: "center",
			Border:    true,
		},
	}
}

// NewExcelExporter creates a new Excel exporter
func NewExcelExporter(options ExcelOptions) *ExcelExporter {
	file := excelize.NewFile()
	file.SetSheetName("Sheet1", options.SheetName)

	return &ExcelExporter{
		file:    file,
		options: options,
	}
}

// WriteHeader writes the header row with styling
func (e *ExcelExporter) WriteHeader(columns []string) error {
	if !e.options.IncludeHeader {
		return nil
	}
	sheet := e.options.SheetName

	headerStyleID := 0
	if e.options.HeaderStyle != nil {
		style, err := e.createStyle(e.options.HeaderStyle)
		if err != nil {
			return fmt.Errorf("failed to create header style: %w", err)
		}
		headerStyleID = style
	}

	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := e.file.SetCellValue(sheet, cell, col); err != nil {
			return err
		}
		if headerStyleID > 0 {
			e.file.SetCellStyle(sheet, cell, cell, headerStyleID)
		}
	}

	if e.options.FreezeHeader {
		e.file.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		})
	}
	return nil
}

// WriteRows writes data rows below the header
func (e *ExcelExporter) WriteRows(rows []map[string]interface{}, columns []string) error {
	sheet := e.options.SheetName
	startRow := 1
	if e.options.IncludeHeader {
		startRow = 2
	}

	timeStyle, err := e.file.NewStyle(&excelize.Style{CustomNumFmt: &e.options.TimestampFormat})
	if err != nil {
		return fmt.Errorf("failed to create timestamp style: %w", err)
	}

	widths := make(map[int]float64)
	for rowIdx, row := range rows {
		for colIdx, colName := range columns {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, startRow+rowIdx)
			val := row[colName]

			if t, ok := val.(time.Time); ok {
				if t.IsZero() {
					val = ""
				} else {
					e.file.SetCellStyle(sheet, cell, cell, timeStyle)
				}
			}
			if err := e.file.SetCellValue(sheet, cell, val); err != nil {
				return fmt.Errorf("failed to set cell value: %w", err)
			}

			if w := float64(len(fmt.Sprintf("%v", val))) * 1.2; w > widths[colIdx] {
				widths[colIdx] = w
			}
		}
	}

	if e.options.AutoFilter && e.options.IncludeHeader && len(rows) > 0 {
		lastCol, _ := excelize.CoordinatesToCellName(len(columns), 1)
		e.file.AutoFilter(sheet, "A1:"+lastCol, nil)
	}

	if e.options.AutoWidth {
		for colIdx, width := range widths {
			colName, _ := excelize.ColumnNumberToName(colIdx + 1)
			// Min width 10, max width 60
			if width < 10 {
				width = 10
			}
			if width > 60 {
				width = 60
			}
			e.file.SetColWidth(sheet, colName, colName, width)
		}
	}
	return nil
}

// WriteTo writes the workbook to a writer
func (e *ExcelExporter) WriteTo(w io.Writer) error {
	return e.file.Write(w)
}

// Close closes the workbook
func (e *ExcelExporter) Close() error {
	return e.file.Close()
}

func (e *ExcelExporter) createStyle(config *ExcelStyleConfig) (int, error) {
	style := &excelize.Style{
		Font: &excelize.Font{
			Bold:  config.FontBold,
			Size:  float64(config.FontSize),
			Color: config.FontColor,
		},
	}
	if config.FillColor != "" {
		style.Fill = excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{config.FillColor}}
	}
	if config.Alignment != "" {
		style.Alignment = &excelize.Alignment{Horizontal: config.Alignment}
	}
	if config.Border {
		style.Border = []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		}
	}
	return e.file.NewStyle(style)
}
