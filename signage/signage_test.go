package signage

import (
	"fmt"
	"testing"

	iface "FloorAuditServer/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boxes(label string, n int) []iface.DetectionBox {
	out := make([]iface.DetectionBox, n)
	for i := range out {
		out[i] = iface.DetectionBox{X: float64(i * 100), Y: 0, W: 40, H: 80, Label: label, Confidence: 0.9}
	}
	return out
}

func find(t *testing.T, r iface.AnalysisResult, typ string) iface.SignageRequirement {
	t.Helper()
	for _, req := range r.Requirements {
		if req.Type == typ {
			return req
		}
	}
	t.Fatalf("requirement %q not emitted", typ)
	return iface.SignageRequirement{}
}

func has(r iface.AnalysisResult, typ string) bool {
	for _, req := range r.Requirements {
		if req.Type == typ {
			return true
		}
	}
	return false
}

func sum(r iface.AnalysisResult) int {
	total := 0
	for _, req := range r.Requirements {
		total += req.Count
	}
	return total
}

func TestCalculate_EmptyOverview(t *testing.T) {
	r := Calculate(Input{BuildingType: iface.Overview, PageCount: 1, PixelsPerMeter: 50})

	assert.Equal(t, 1, r.Exits)
	assert.Equal(t, 1, r.Rooms)
	assert.Equal(t, 1, find(t, r, TypeExit).Count)
	assert.Equal(t, RegExit, find(t, r, TypeExit).Regulation)
	assert.Equal(t, 1, find(t, r, TypeGeneralExtinguisher).Count)
	assert.Equal(t, 0, find(t, r, TypeWayfinding).Count)
	assert.False(t, has(r, TypeElectricalExtinguisher))
	assert.False(t, has(r, TypeLift))
	assert.False(t, has(r, TypeDoorSwing))
	assert.Equal(t, 2, r.SignageRequired)
	assert.Empty(t, r.RawCounts)
	assert.NotNil(t, r.Detections)
}

func TestCalculate_Hospital(t *testing.T) {
	in := Input{
		Boxes:        append(boxes("door", 10), boxes("stairs", 2)...),
		BuildingType: iface.Hospital,
		PageCount:    1,
	}
	r := Calculate(in)

	assert.Equal(t, 4, find(t, r, TypeExit).Count)
	assert.Equal(t, 4, r.Exits)
	assert.Equal(t, 5, find(t, r, TypeGeneralExtinguisher).Count)
	assert.Equal(t, 4, find(t, r, TypeWayfinding).Count)
	assert.Equal(t, 10, r.Rooms)
	assert.Equal(t, 13, r.SignageRequired)
	assert.Contains(t, find(t, r, TypeExit).Reason, "Hospital")
	assert.Equal(t, map[string]int{"door": 10, "stairs": 2}, r.RawCounts)
}

func TestCalculate_HospitalWithoutDoorsKeepsOneExit(t *testing.T) {
	r := Calculate(Input{BuildingType: iface.Mall})
	assert.Equal(t, 1, r.Exits)
	assert.Equal(t, 1, find(t, r, TypeExit).Count)
}

func TestCalculate_ElectricalPanels(t *testing.T) {
	r := Calculate(Input{Boxes: boxes("electrical_panel", 3), BuildingType: iface.Factory})

	assert.Equal(t, 3, find(t, r, TypeElectricalExtinguisher).Count)
	assert.Equal(t, RegElectricalExtinguisher, find(t, r, TypeElectricalExtinguisher).Regulation)
	assert.Equal(t, 1, find(t, r, TypeGeneralExtinguisher).Count)
	assert.Equal(t, 1, r.Rooms)
}

func TestCalculate_RuleOrder(t *testing.T) {
	in := Input{Boxes: append(append(boxes("Door", 4), boxes("lift", 2)...), boxes("electrical_panel", 1)...)}
	r := Calculate(in)

	types := make([]string, len(r.Requirements))
	for i, req := range r.Requirements {
		types[i] = req.Type
	}
	assert.Equal(t, []string{TypeExit, TypeElectricalExtinguisher, TypeGeneralExtinguisher, TypeWayfinding, TypeLift}, types)
	assert.Equal(t, 2, find(t, r, TypeLift).Count)
	assert.Equal(t, 2, find(t, r, TypeWayfinding).Count)
}

func TestCalculate_UnknownLabelsOnlyInHistogram(t *testing.T) {
	r := Calculate(Input{Boxes: append(boxes("class_17", 3), boxes("window", 2)...)})
	assert.Equal(t, map[string]int{"class_17": 3, "window": 2}, r.RawCounts)
	assert.Equal(t, 1, r.Rooms)
	assert.Equal(t, 2, r.SignageRequired)
}

func TestCalculate_SumInvariantAndDeterminism(t *testing.T) {
	labels := []string{"door", "Door", "stairs", "elevator", "electrical_panel", "exit_sign", "door_swing", "bed", "sink"}
	for n := 0; n < 25; n++ {
		var in []iface.DetectionBox
		for i := 0; i < n; i++ {
			l := labels[(i*7+n)%len(labels)]
			in = append(in, iface.DetectionBox{X: float64((i * 37) % 500), Y: float64((i * 53) % 400), W: 30, H: 30, Label: l})
		}
		for _, bt := range iface.BuildingTypes {
			t.Run(fmt.Sprintf("%d-%s", n, bt), func(t *testing.T) {
				a := Calculate(Input{Boxes: in, BuildingType: bt, PixelsPerMeter: 50})
				b := Calculate(Input{Boxes: in, BuildingType: bt, PixelsPerMeter: 50})
				assert.Equal(t, a, b)
				assert.Equal(t, sum(a), a.SignageRequired)
				assert.GreaterOrEqual(t, a.Rooms, 1)
				assert.GreaterOrEqual(t, a.Exits, 1)
			})
		}
	}
}

func TestCalculate_DoesNotAliasInput(t *testing.T) {
	in := boxes("door", 2)
	r := Calculate(Input{Boxes: in, RoomNames: []string{"LOBBY"}})
	r.Detections[0].Label = "changed"
	assert.Equal(t, "door", in[0].Label)
}

func TestFlagDoorSwings(t *testing.T) {
	door := iface.DetectionBox{X: 90, Y: 90, W: 20, H: 20, Label: "door"}       // center (100,100)
	exit := iface.DetectionBox{X: 290, Y: 90, W: 20, H: 20, Label: "exit_sign"} // center (300,100)
	toward := iface.DetectionBox{X: 110, Y: 95, W: 20, H: 10, Label: "door_swing"}
	away := iface.DetectionBox{X: 60, Y: 95, W: 20, H: 10, Label: "door_swing"}
	sideways := iface.DetectionBox{X: 95, Y: 120, W: 10, H: 20, Label: "door_swing"}

	b := bucketize([]iface.DetectionBox{door, exit, toward, away, sideways})
	flagged := FlagDoorSwings(b)
	require.Len(t, flagged, 1)
	assert.Equal(t, away, flagged[0])

	r := Calculate(Input{Boxes: []iface.DetectionBox{door, exit, toward, away, sideways}})
	assert.Equal(t, 1, find(t, r, TypeDoorSwing).Count)
}

func TestFlagDoorSwings_NoReference(t *testing.T) {
	swing := iface.DetectionBox{X: 0, Y: 0, W: 10, H: 10, Label: "door_swing"}
	door := iface.DetectionBox{X: 50, Y: 0, W: 10, H: 10, Label: "door"}
	assert.Empty(t, FlagDoorSwings(bucketize([]iface.DetectionBox{swing, door})))
	assert.Empty(t, FlagDoorSwings(bucketize([]iface.DetectionBox{swing, {X: 100, Label: "stairs"}})))
}

func TestSummary(t *testing.T) {
	s := Summary(Calculate(Input{}))
	assert.Contains(t, s, "rooms=1 exits=1 signage=2")
}
