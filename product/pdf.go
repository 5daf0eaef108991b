/*
pdf.go - PDF export of a generated product sheet

PURPOSE:
  Renders a completed product sheet as an A4 PDF: title, price,
  description, then the buyer-facing characteristics as a two-column
  table. Characteristics are sorted for stable output.

ENCODING:
  The sheets are French; core fonts are cp1252, so all text goes through
  the unicode translator.
*/
package product

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/go-pdf/fpdf"
)

// RenderPDF renders the product sheet as a PDF document.
func RenderPDF(p *Product) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr(p.Sheet.Title), false)
	pdf.AddPage()

	// Title
	pdf.SetFont("Helvetica", "B", 18)
	pdf.MultiCell(0, 9, tr(p.Sheet.Title), "", "L", false)
	pdf.Ln(2)

	// Category and price line
	pdf.SetFont("Helvetica", "", 11)
	pdf.SetTextColor(100, 100, 100)
	meta := p.Category
	if p.Price != nil {
		meta = fmt.Sprintf("%s — %s €", p.Category, p.Price.StringFixed(2))
	}
	pdf.CellFormat(0, 6, tr(meta), "", 1, "L", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(4)

	// Description
	pdf.SetFont("Helvetica", "", 11)
	pdf.MultiCell(0, 5.5, tr(p.Sheet.Description), "", "L", false)
	pdf.Ln(6)

	// Characteristics table
	if len(p.Sheet.Characteristics) > 0 {
		pdf.SetFont("Helvetica", "B", 13)
		pdf.CellFormat(0, 7, tr("Caractéristiques"), "", 1, "L", false, 0, "")
		pdf.Ln(1)

		keys := make([]string, 0, len(p.Sheet.Characteristics))
		for k := range p.Sheet.Characteristics {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			pdf.SetFont("Helvetica", "B", 10)
			pdf.CellFormat(50, 6, tr(k), "B", 0, "L", false, 0, "")
			pdf.SetFont("Helvetica", "", 10)
			pdf.MultiCell(0, 6, tr(p.Sheet.Characteristics[k]), "B", "L", false)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
