package export

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// PDFGenerator renders a titled table as a PDF document
type PDFGenerator struct {
	pdf     *gofpdf.Fpdf
	options PDFOptions
	now     func() time.Time
}

// PDFOptions configures PDF generation
type PDFOptions struct {
	PageSize       string             `json:"page_size"`   // A4, Letter, Legal
	Orientation    string             `json:"orientation"` // portrait, landscape
	Title          string             `json:"title"`
	Subtitle       string             `json:"subtitle,omitempty"`
	DateFormat     string             `json:"date_format"`
	IncludeDate    bool               `json:"include_date"`
	IncludePageNum bool               `json:"include_page_num"`
	HeaderColor    PDFColor           `json:"header_color"`
	AlternateRows  bool               `json:"alternate_rows"`
	AlternateColor PDFColor           `json:"alternate_color"`
	FontFamily     string             `json:"font_family"`
	FontSize       float64            `json:"font_size"`
	HeaderFontSize float64            `json:"header_font_size"`
	TitleFontSize  float64            `json:"title_font_size"`
	Margins        PDFMargins         `json:"margins"`
	ColumnWidths   map[string]float64 `json:"column_widths,omitempty"`
}

// PDFColor represents an RGB color
type PDFColor struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// PDFMargins represents page margins
type PDFMargins struct {
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

// DefaultPDFOptions returns default PDF options
func DefaultPDFOptions() PDFOptions {
	return PDFOptions{
		PageSize:       "A4",
		Orientation:    "portrait",
		Title:          "Report",
		DateFormat:     "2006-01-02 15:04:05",
		IncludeDate:    true,
		IncludePageNum: true,
		HeaderColor:    PDFColor{R: 68, G: 114, B: 196},
		AlternateRows:  true,
		AlternateColor: PDFColor{R: 242, G: 242, B: 242},
		FontFamily:     "Arial",
		FontSize:       8,
		HeaderFontSize: 9,
		TitleFontSize:  14,
		Margins:        PDFMargins{Left: 10, Right: 10, Top: 15, Bottom: 15},
		ColumnWidths: map[string]float64{
			"sequence":    10,
			"created_at":  32,
			"action":      34,
			"from_status": 38,
			"to_status":   38,
			"actor_role":  26,
		},
	}
}

// NewPDFGenerator creates a new PDF generator
func NewPDFGenerator(options PDFOptions) *PDFGenerator {
	orientation := "P"
	if options.Orientation == "landscape" {
		orientation = "L"
	}

	pdf := gofpdf.New(orientation, "mm", options.PageSize, "")
	pdf.SetMargins(options.Margins.Left, options.Margins.Top, options.Margins.Right)
	pdf.SetAutoPageBreak(false, options.Margins.Bottom)

	g := &PDFGenerator{pdf: pdf, options: options, now: time.Now}
	if options.IncludePageNum {
		pdf.SetFooterFunc(func() {
			pdf.SetY(-10)
			pdf.SetFont(options.FontFamily, "", 7)
			pdf.SetTextColor(128, 128, 128)
			pdf.CellFormat(0, 6, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
		})
	}
	return g
}

// GenerateReport lays out the title block and the table
func (g *PDFGenerator) GenerateReport(columns []string, columnLabels []string, rows []map[string]interface{}) error {
	if len(columns) != len(columnLabels) {
		return fmt.Errorf("column count %d does not match label count %d", len(columns), len(columnLabels))
	}
	g.pdf.AddPage()

	g.pdf.SetFont(g.options.FontFamily, "B", g.options.TitleFontSize)
	g.pdf.SetTextColor(0, 0, 0)
	g.pdf.CellFormat(0, 9, g.options.Title, "", 1, "C", false, 0, "")

	if g.options.Subtitle != "" {
		g.pdf.SetFont(g.options.FontFamily, "", g.options.FontSize+2)
		g.pdf.SetTextColor(100, 100, 100)
		g.pdf.CellFormat(0, 7, g.options.Subtitle, "", 1, "C", false, 0, "")
	}
	if g.options.IncludeDate {
		g.pdf.SetFont(g.options.FontFamily, "", g.options.FontSize)
		g.pdf.SetTextColor(128, 128, 128)
		g.pdf.CellFormat(0, 6, "Generated: "+g.now().UTC().Format(g.options.DateFormat), "", 1, "R", false, 0, "")
	}
	g.pdf.Ln(4)

	widths := g.columnWidths(columns)
	g.addTableHeader(columnLabels, widths)
	g.addTableData(columns, columnLabels, rows, widths)
	return g.pdf.Error()
}

// AddSummarySection appends key/value lines below the table
func (g *PDFGenerator) AddSummarySection(title string, items map[string]interface{}) {
	g.pdf.Ln(6)
	g.pdf.SetFont(g.options.FontFamily, "B", g.options.FontSize+2)
	g.pdf.SetTextColor(0, 0, 0)
	g.pdf.CellFormat(0, 8, title, "", 1, "L", false, 0, "")

	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		g.pdf.SetFont(g.options.FontFamily, "B", g.options.FontSize)
		g.pdf.CellFormat(45, 6, key+":", "", 0, "L", false, 0, "")
		g.pdf.SetFont(g.options.FontFamily, "", g.options.FontSize)
		g.pdf.CellFormat(0, 6, g.formatValue(items[key]), "", 1, "L", false, 0, "")
	}
}

// columnWidths uses the configured widths and spreads the rest of the page
// evenly over columns without one
func (g *PDFGenerator) columnWidths(columns []string) []float64 {
	pageWidth, _ := g.pdf.GetPageSize()
	available := pageWidth - g.options.Margins.Left - g.options.Margins.Right

	widths := make([]float64, len(columns))
	fixed, unset := 0.0, 0
	for i, col := range columns {
		if w, ok := g.options.ColumnWidths[col]; ok {
			widths[i] = w
			fixed += w
		} else {
			unset++
		}
	}
	if unset > 0 {
		rest := (available - fixed) / float64(unset)
		if rest < 15 {
			rest = 15
		}
		for i := range widths {
			if widths[i] == 0 {
				widths[i] = rest
			}
		}
	}
	return widths
}

func (g *PDFGenerator) addTableHeader(labels []string, widths []float64) {
	g.pdf.SetFont(g.options.FontFamily, "B", g.options.HeaderFontSize)
	g.pdf.SetFillColor(g.options.HeaderColor.R, g.options.HeaderColor.G, g.options.HeaderColor.B)
	g.pdf.SetTextColor(255, 255, 255)
	for i, label := range labels {
		g.pdf.CellFormat(widths[i], 7, label, "1", 0, "C", true, 0, "")
	}
	g.pdf.Ln(-1)
	g.pdf.SetFont(g.options.FontFamily, "", g.options.FontSize)
	g.pdf.SetTextColor(0, 0, 0)
}

func (g *PDFGenerator) addTableData(columns, labels []string, rows []map[string]interface{}, widths []float64) {
	_, pageHeight := g.pdf.GetPageSize()

	for i, row := range rows {
		if g.pdf.GetY()+6 > pageHeight-g.options.Margins.Bottom {
			g.pdf.AddPage()
			g.addTableHeader(labels, widths)
		}

		if g.options.AlternateRows && i%2 == 1 {
			g.pdf.SetFillColor(g.options.AlternateColor.R, g.options.AlternateColor.G, g.options.AlternateColor.B)
		} else {
			g.pdf.SetFillColor(255, 255, 255)
		}

		for j, col := range columns {
			val := g.fit(g.formatValue(row[col]), widths[j]-2)
			g.pdf.CellFormat(widths[j], 6, val, "1", 0, "L", true, 0, "")
		}
		g.pdf.Ln(-1)
	}
}

// fit truncates s until it renders within width
func (g *PDFGenerator) fit(s string, width float64) string {
	if g.pdf.GetStringWidth(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && g.pdf.GetStringWidth(string(runes)+"...") > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}

func (g *PDFGenerator) formatValue(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return ""
	case time.Time:
		if v.IsZero() {
			return ""
		}
		return v.UTC().Format(g.options.DateFormat)
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// WriteTo writes the PDF to a writer
func (g *PDFGenerator) WriteTo(w io.Writer) error {
	return g.pdf.Output(w)
}
