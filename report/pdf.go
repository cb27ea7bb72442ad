package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	iface "FloorAuditServer/interface"

	"github.com/go-pdf/fpdf"
)

// maxTextLines caps the raw text stream in the PDF.
const maxTextLines = 40

type rgb struct{ r, g, b int }

var (
	hazardOrange = rgb{249, 115, 22}
	charcoal     = rgb{15, 23, 42}
	slate400     = rgb{100, 116, 139}
	slate600     = rgb{71, 85, 105}
	slate800     = rgb{30, 41, 59}
	slate50      = rgb{248, 250, 252}
	zebra        = rgb{249, 250, 251}
	separator    = rgb{226, 232, 240}
)

type doc struct {
	*fpdf.Fpdf
	tr func(string) string
}

func (d *doc) fill(c rgb) { d.SetFillColor(c.r, c.g, c.b) }
func (d *doc) ink(c rgb)  { d.SetTextColor(c.r, c.g, c.b) }
func (d *doc) draw(c rgb) { d.SetDrawColor(c.r, c.g, c.b) }

func (d *doc) text(x, y float64, s string) { d.Text(x, y, d.tr(s)) }

// PDF writes a two-part audit: the summary and requirement table, then a
// diagnostics page with the raw inventory and text stream.
func PDF(w io.Writer, result iface.AnalysisResult, meta Meta) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(meta.GeneratedAt)
	pdf.SetModificationDate(meta.GeneratedAt)
	pdf.SetCatalogSort(true)
	pdf.SetCompression(false)
	pdf.SetTitle("Fire Safety Audit "+ID(result), true)
	pdf.SetAutoPageBreak(false, 0)
	d := &doc{Fpdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}

	d.AddPage()
	header(d, hazardOrange, "FIRE SAFETY AUDIT", "ARCHITECTURAL COMPLIANCE REPORT")
	d.ink(slate400)
	d.SetFont("Helvetica", "", 9)
	d.text(140, 25, "REPORT ID: "+ID(result)[:8])
	d.text(140, 30, "GENERATED: "+meta.GeneratedAt.UTC().Format(time.DateOnly))
	d.text(140, 35, "BUILDING: "+string(orOverview(meta.BuildingType)))

	y := 55.0
	section(d, y, "Executive Summary")
	y += 15
	stats := []struct {
		label string
		value int
	}{
		{"ROOMS DETECTED", result.Rooms},
		{"EGRESS POINTS", result.Exits},
		{"SIGNAGE REQUIRED", result.SignageRequired},
	}
	for i, s := range stats {
		x := 20 + float64(i)*60
		d.fill(slate50)
		d.RoundedRect(x, y, 50, 25, 3, "1234", "F")
		d.ink(slate400)
		d.SetFont("Helvetica", "", 8)
		d.text(x+5, y+8, s.label)
		d.ink(hazardOrange)
		d.SetFont("Helvetica", "B", 14)
		d.text(x+5, y+18, strconv.Itoa(s.value))
	}

	y += 45
	section(d, y, "Compliance Inventory")
	y += 15
	tableHeader(d, y)
	y += 12
	for i, req := range result.Requirements {
		d.SetFont("Helvetica", "", 9)
		reason := d.SplitLines([]byte(d.tr(req.Reason)), 160)
		rowH := 10 + float64(len(reason))*4
		if y+rowH > 270 {
			d.AddPage()
			y = 30
			tableHeader(d, y)
			y += 12
		}
		if i%2 == 0 {
			d.fill(zebra)
			d.Rect(20, y-6, 170, rowH+2, "F")
		}
		d.ink(charcoal)
		d.SetFont("Helvetica", "B", 10)
		d.text(25, y, req.Type)
		d.ink(hazardOrange)
		d.text(110, y, strconv.Itoa(req.Count))
		d.ink(slate400)
		d.SetFont("Helvetica", "", 8)
		d.text(130, y, req.Regulation)

		y += 6
		d.SetFont("Helvetica", "", 9)
		d.ink(slate600)
		for _, l := range reason {
			d.Text(25, y, string(l))
			y += 4
		}
		d.draw(separator)
		d.Line(20, y, 190, y)
		y += 10
	}

	d.AddPage()
	header(d, charcoal, "VISION DIAGNOSTICS", "RAW MODEL INFERENCE & TEXT STREAM")
	y = 55
	subsection(d, y, "Raw Detection Inventory")
	y += 12
	d.SetFont("Helvetica", "", 10)
	for _, label := range sortedCounts(result.RawCounts) {
		y = ensureRoom(d, y)
		d.ink(slate400)
		d.SetFont("Helvetica", "", 10)
		d.text(25, y, "- "+strings.ToUpper(label))
		d.ink(hazardOrange)
		d.SetFont("Helvetica", "B", 10)
		d.text(80, y, fmt.Sprintf("%d detections", result.RawCounts[label]))
		y += 8
	}

	y += 10
	y = ensureRoom(d, y)
	subsection(d, y, "Identified Rooms")
	y += 12
	d.SetFont("Helvetica", "", 9)
	d.ink(slate600)
	for _, name := range result.RoomNames {
		y = ensureRoom(d, y)
		d.text(25, y, "- "+name)
		y += 6
	}

	y += 10
	y = ensureRoom(d, y)
	subsection(d, y, "Raw Text Stream")
	y += 12
	d.SetFont("Helvetica", "", 8)
	d.ink(slate600)
	texts := result.AllTexts
	if len(texts) > maxTextLines {
		texts = texts[:maxTextLines]
	}
	for _, t := range texts {
		y = ensureRoom(d, y)
		d.text(25, y, strconv.Quote(t))
		y += 6
	}
	if n := len(result.AllTexts) - len(texts); n > 0 {
		y = ensureRoom(d, y)
		d.text(25, y, fmt.Sprintf("... %d more lines in the text report", n))
	}

	return pdf.Output(w)
}

func orOverview(bt iface.BuildingType) iface.BuildingType {
	if bt == "" {
		return iface.Overview
	}
	return bt
}

func ensureRoom(d *doc, y float64) float64 {
	if y > 270 {
		d.AddPage()
		return 30
	}
	return y
}

func header(d *doc, band rgb, title, subtitle string) {
	d.fill(band)
	d.Rect(0, 0, 210, 40, "F")
	d.ink(rgb{255, 255, 255})
	d.SetFont("Helvetica", "B", 24)
	d.text(20, 25, title)
	d.SetFont("Helvetica", "", 10)
	d.text(20, 33, subtitle)
}

func section(d *doc, y float64, title string) {
	d.ink(charcoal)
	d.SetFont("Helvetica", "B", 16)
	d.text(20, y, title)
	d.draw(hazardOrange)
	d.SetLineWidth(0.5)
	d.Line(20, y+3, 60, y+3)
}

func subsection(d *doc, y float64, title string) {
	d.ink(charcoal)
	d.SetFont("Helvetica", "B", 14)
	d.text(20, y, title)
	d.draw(hazardOrange)
	d.Line(20, y+2, 80, y+2)
}

func tableHeader(d *doc, y float64) {
	d.fill(slate800)
	d.Rect(20, y-6, 170, 10, "F")
	d.ink(rgb{255, 255, 255})
	d.SetFont("Helvetica", "B", 9)
	d.text(25, y, "SIGNAGE COMPONENT")
	d.text(110, y, "QTY")
	d.text(130, y, "REGULATORY REF")
}
