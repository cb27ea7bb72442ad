// Package report renders an analysis result as a plain-text audit or a PDF.
// Both renderings depend only on the result and Meta.
package report

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	iface "FloorAuditServer/interface"

	"github.com/google/uuid"
)

// reportNamespace seeds report IDs.
var reportNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("floor-audit/report"))

// Meta is the per-export context that is not part of the result itself.
type Meta struct {
	GeneratedAt  time.Time
	BuildingType iface.BuildingType
	ModelSet     string
	Pages        int
	Engine       string
}

func (m Meta) engine() string {
	if m.Engine == "" {
		return "FloorAudit detector pipeline"
	}
	return m.Engine
}

// ID derives the report ID from the canonical JSON of the result, so the same
// result always gets the same ID.
func ID(result iface.AnalysisResult) string {
	b, err := json.Marshal(result)
	if err != nil {
		b = []byte(fmt.Sprintf("%+v", result))
	}
	return strings.ToUpper(uuid.NewSHA1(reportNamespace, b).String())
}

// FileName is the download name for a report with extension ext.
func FileName(result iface.AnalysisResult, ext string) string {
	return "Floor_Audit_" + ID(result)[:8] + "." + ext
}

func sortedCounts(counts map[string]int) []string {
	return slices.Sorted(maps.Keys(counts))
}

const rule = "------------------------------------------------"

// Text renders the audit as plain text.
func Text(result iface.AnalysisResult, meta Meta) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("FIRE SAFETY AUDIT REPORT")
	line("================================================")
	line("REPORT ID: %s", ID(result))
	line("DATE: %s", meta.GeneratedAt.UTC().Format(time.RFC3339))
	line("ENGINE: %s", meta.engine())
	if meta.BuildingType != "" {
		line("BUILDING TYPE: %s", meta.BuildingType)
	}
	if meta.ModelSet != "" {
		line("MODEL SET: %s", meta.ModelSet)
	}
	if meta.Pages > 0 {
		line("PAGES: %d", meta.Pages)
	}
	line(rule)
	line("")

	line("[1] EXECUTIVE SUMMARY")
	line(rule)
	line("- Total Rooms Identified: %d", result.Rooms)
	line("- Egress Points (Stairs/Exits): %d", result.Exits)
	line("- Total Safety Signage Required: %d", result.SignageRequired)
	line("")

	line("[2] COMPLIANCE INVENTORY")
	line(rule)
	for i, req := range result.Requirements {
		line("%d. [%s]", i+1, strings.ToUpper(req.Type))
		line("   Quantity: %d units", req.Count)
		line("   Regulation: %s", req.Regulation)
		line("   Compliance Reason: %s", req.Reason)
		line("   %s", rule)
	}

	line("")
	line("[3] IDENTIFIED ROOMS")
	line(rule)
	if len(result.RoomNames) == 0 {
		line("[INFO] No specific room labels identified from the text stream.")
	}
	for _, name := range result.RoomNames {
		line("- %s", name)
	}

	line("")
	line("[4] RAW DETECTION INVENTORY")
	line(rule)
	if len(result.RawCounts) == 0 {
		line("[INFO] No objects detected.")
	}
	for _, label := range sortedCounts(result.RawCounts) {
		line("- %s: %d detections", strings.ToUpper(label), result.RawCounts[label])
	}

	line("")
	line("[5] RAW TEXT STREAM (ALL DETECTED STRINGS)")
	line(rule)
	if len(result.AllTexts) == 0 {
		line("[INFO] No text strings detected.")
	}
	for _, t := range result.AllTexts {
		line("%q", t)
	}

	if len(result.Warnings) > 0 {
		line("")
		line("[6] PARTIAL RESULT WARNINGS")
		line(rule)
		for _, w := range result.Warnings {
			line("- %s", w)
		}
	}

	line("")
	line("================================================")
	b.WriteString("END OF REPORT\n")
	return b.String()
}
