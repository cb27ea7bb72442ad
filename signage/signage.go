// Package signage derives the fire-safety signage checklist for a floor plan
// from its detections. Calculate is pure: the same input always yields the
// same result.
package signage

import (
	"fmt"
	"math"
	"strings"

	iface "FloorAuditServer/interface"
)

// Regulation references attached to each requirement.
const (
	RegExit                   = "NBC 2016 Part 4"
	RegElectricalExtinguisher = "NBC Part 4 / IS 15683 (CO2, non-conductive)"
	RegGeneralExtinguisher    = "NBC Part 4 / IS 2190"
	RegWayfinding             = "ISO 7010 / NBC Part 4 Cl. 4.4.2.6"
	RegLift                   = "NBC Part 4 / IS 14665"
	RegDoorSwing              = "NBC 2016 Part 4 Cl. 4.4.2.4.3.6"
)

// Requirement type names.
const (
	TypeExit                   = "ISO 7010 Emergency Exit Sign"
	TypeElectricalExtinguisher = "CO2 Extinguisher (Electrical Hazard)"
	TypeGeneralExtinguisher    = "ABC Dry Powder Extinguisher"
	TypeWayfinding             = "ISO 7010 Directional Wayfinding Sign"
	TypeLift                   = "Lift Safety Warning Sign"
	TypeDoorSwing              = "Door Swing Compliance Review"
)

// Label sets, matched exactly.
var (
	DoorLabels        = []string{"door", "Door"}
	StairLabels       = []string{"stairs", "Stairs"}
	ElevatorLabels    = []string{"elevator", "Elevator", "lift"}
	PanelLabels       = []string{"electrical_panel"}
	ExtinguisherLabel = []string{"fire_extinguisher"}
	HoseReelLabels    = []string{"fire_hose_reel", "fire_hose"}
	AlarmLabels       = []string{"fire_alarm"}
	ExitSignLabels    = []string{"exit_sign", "emergency_exit"}
	ButtonLabels      = []string{"emergency_button"}
	SanitaryLabels    = []string{"Toilet", "toilet", "sink"}
	BedLabels         = []string{"bed"}
	DoorSwingLabels   = []string{"door_swing"}
)

// extinguisherReach is the NBC travel distance covered by one extinguisher.
const extinguisherReach = 15.0

// Input is everything a signage calculation depends on.
type Input struct {
	Boxes          []iface.DetectionBox
	RoomNames      []string
	AllTexts       []string
	PageCount      int
	BuildingType   iface.BuildingType
	PixelsPerMeter float64
}

// Buckets partitions detections by role. Unknown labels land in no bucket.
type Buckets struct {
	Doors, Stairs, Elevators, Panels, Extinguishers, HoseReels []iface.DetectionBox
	Alarms, ExitSigns, Buttons, Sanitary, Beds, DoorSwings     []iface.DetectionBox
}

func bucketize(boxes []iface.DetectionBox) Buckets {
	var b Buckets
	route := []struct {
		labels []string
		dst    *[]iface.DetectionBox
	}{
		{DoorLabels, &b.Doors},
		{StairLabels, &b.Stairs},
		{ElevatorLabels, &b.Elevators},
		{PanelLabels, &b.Panels},
		{ExtinguisherLabel, &b.Extinguishers},
		{HoseReelLabels, &b.HoseReels},
		{AlarmLabels, &b.Alarms},
		{ExitSignLabels, &b.ExitSigns},
		{ButtonLabels, &b.Buttons},
		{SanitaryLabels, &b.Sanitary},
		{BedLabels, &b.Beds},
		{DoorSwingLabels, &b.DoorSwings},
	}
	for _, box := range boxes {
		for _, r := range route {
			if contains(r.labels, box.Label) {
				*r.dst = append(*r.dst, box)
				break
			}
		}
	}
	return b
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// Histogram counts every label, known to the rules or not.
func Histogram(boxes []iface.DetectionBox) map[string]int {
	counts := make(map[string]int, len(boxes))
	for _, b := range boxes {
		counts[b.Label]++
	}
	return counts
}

func ceilDiv(n int, d float64) int {
	return int(math.Ceil(float64(n) / d))
}

// Calculate applies the signage rules in order and aggregates totals.
func Calculate(in Input) iface.AnalysisResult {
	b := bucketize(in.Boxes)
	doors, stairs := len(b.Doors), len(b.Stairs)
	bt := in.BuildingType
	if bt == "" {
		bt = iface.Overview
	}

	reqs := []iface.SignageRequirement{}

	// Exit signage.
	exits := max(stairs, 1)
	var exitReason string
	switch {
	case bt == iface.Hospital || bt == iface.Mall:
		exits = max(int(math.Ceil(float64(doors)*0.4)), 1)
		exitReason = fmt.Sprintf("%s occupancy: one exit sign per 2.5 doors (%d doors, %d detected stairwells).", bt, doors, stairs)
	case stairs > 0:
		exitReason = fmt.Sprintf("Required for %d detected stairwells (%s).", stairs, bt)
	default:
		exitReason = fmt.Sprintf("Mandatory minimum for egress path (0 detected stairwells, %s).", bt)
	}
	reqs = append(reqs, iface.SignageRequirement{Type: TypeExit, Count: exits, Reason: exitReason, Regulation: RegExit})

	// Electrical-hazard extinguishers.
	if n := len(b.Panels); n > 0 {
		reqs = append(reqs, iface.SignageRequirement{
			Type:       TypeElectricalExtinguisher,
			Count:      n,
			Reason:     fmt.Sprintf("Non-conductive suppression beside each of %d electrical panels.", n),
			Regulation: RegElectricalExtinguisher,
		})
	}

	// General extinguishers.
	reach := fmt.Sprintf("%.0fm", extinguisherReach)
	if in.PixelsPerMeter > 0 {
		reach = fmt.Sprintf("%.0fm (%.0fpx at %.4g px/m)", extinguisherReach, extinguisherReach*in.PixelsPerMeter, in.PixelsPerMeter)
	}
	reqs = append(reqs, iface.SignageRequirement{
		Type:       TypeGeneralExtinguisher,
		Count:      max(1, ceilDiv(doors, 2)),
		Reason:     fmt.Sprintf("Coverage for %d identified zones within %s travel distance.", doors, reach),
		Regulation: RegGeneralExtinguisher,
	})

	// Wayfinding.
	reqs = append(reqs, iface.SignageRequirement{
		Type:       TypeWayfinding,
		Count:      ceilDiv(doors, 3),
		Reason:     fmt.Sprintf("One directional sign per 3 doors as corridor junction proxy (%d doors).", doors),
		Regulation: RegWayfinding,
	})

	// Lift safety.
	if n := len(b.Elevators); n > 0 {
		reqs = append(reqs, iface.SignageRequirement{
			Type:       TypeLift,
			Count:      n,
			Reason:     fmt.Sprintf("\"Do not use lift in case of fire\" at each of %d lifts.", n),
			Regulation: RegLift,
		})
	}

	// Door swing.
	if flagged := FlagDoorSwings(b); len(flagged) > 0 {
		reqs = append(reqs, iface.SignageRequirement{
			Type:       TypeDoorSwing,
			Count:      len(flagged),
			Reason:     fmt.Sprintf("%d of %d door swings open against the nearest egress direction.", len(flagged), len(b.DoorSwings)),
			Regulation: RegDoorSwing,
		})
	}

	total := 0
	for _, r := range reqs {
		total += r.Count
	}
	return iface.AnalysisResult{
		Rooms:           max(1, doors),
		Exits:           exits,
		SignageRequired: total,
		Requirements:    reqs,
		Detections:      nonNil(in.Boxes),
		RoomNames:       nonNilStrings(in.RoomNames),
		AllTexts:        nonNilStrings(in.AllTexts),
		RawCounts:       Histogram(in.Boxes),
	}
}

// FlagDoorSwings returns the door-swing boxes whose leaf opens away from the
// nearest egress. For each swing, D is the nearest door center and E the
// nearest egress center (exit signs, emergency exits, stairs); the swing is
// flagged when (swing - D)·(E - D) < 0. Swings without a door or an egress
// reference are never flagged.
func FlagDoorSwings(b Buckets) []iface.DetectionBox {
	egress := make([]iface.DetectionBox, 0, len(b.ExitSigns)+len(b.Stairs))
	egress = append(egress, b.ExitSigns...)
	egress = append(egress, b.Stairs...)
	if len(b.Doors) == 0 || len(egress) == 0 {
		return nil
	}
	var flagged []iface.DetectionBox
	for _, s := range b.DoorSwings {
		sx, sy := s.Center()
		dx, dy := nearest(b.Doors, sx, sy)
		ex, ey := nearest(egress, dx, dy)
		if (sx-dx)*(ex-dx)+(sy-dy)*(ey-dy) < 0 {
			flagged = append(flagged, s)
		}
	}
	return flagged
}

// nearest returns the center of the box closest to (x, y); ties go to the
// earlier box.
func nearest(boxes []iface.DetectionBox, x, y float64) (float64, float64) {
	best := math.Inf(1)
	var bx, by float64
	for _, b := range boxes {
		cx, cy := b.Center()
		if d := (cx-x)*(cx-x) + (cy-y)*(cy-y); d < best {
			best, bx, by = d, cx, cy
		}
	}
	return bx, by
}

func nonNil(boxes []iface.DetectionBox) []iface.DetectionBox {
	return append([]iface.DetectionBox{}, boxes...)
}

func nonNilStrings(s []string) []string {
	return append([]string{}, s...)
}

// Summary is a one-line description of a result, used in logs.
func Summary(r iface.AnalysisResult) string {
	parts := make([]string, 0, len(r.Requirements))
	for _, req := range r.Requirements {
		parts = append(parts, fmt.Sprintf("%s=%d", req.Type, req.Count))
	}
	return fmt.Sprintf("rooms=%d exits=%d signage=%d [%s]", r.Rooms, r.Exits, r.SignageRequired, strings.Join(parts, ", "))
}
