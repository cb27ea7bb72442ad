package iface

import (
	"context"
	"fmt"
	"image"
)

// NamesConf describes a label table: either an inline list or a path to a
// newline separated labels file.
type NamesConf struct {
	IsFile bool
	Data   any
}

// EngineConfig is the read-only view of a detector's configuration.
type EngineConfig struct {
	Name      string
	Kind      string
	ModelPath string
	Names     NamesConf
	Conf      float32
	State     string
}

// DetectionBox is one decoded detection in page pixel coordinates
// (top-left origin).
type DetectionBox struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	W          float64 `json:"w"`
	H          float64 `json:"h"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Center returns the box center.
func (b DetectionBox) Center() (float64, float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Tensor is a dense row-major float32 tensor.
type Tensor struct {
	Shape []int64   `json:"shape"`
	Data  []float32 `json:"data"`
}

// Elements returns the product of the shape dimensions.
func (t Tensor) Elements() int64 {
	if len(t.Shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

type BBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// RecognizedWord is a single word returned by a text recognizer.
type RecognizedWord struct {
	Text string `json:"text"`
	BBox BBox   `json:"bbox"`
}

type SignageRequirement struct {
	Type       string `json:"type"`
	Count      int    `json:"count"`
	Reason     string `json:"reason"`
	Regulation string `json:"regulation"`
}

type BuildingType string

const (
	Overview BuildingType = "Overview"
	Hospital BuildingType = "Hospital"
	Mall     BuildingType = "Mall"
	Factory  BuildingType = "Factory"
	School   BuildingType = "School"
)

var BuildingTypes = []BuildingType{Overview, Hospital, Mall, Factory, School}

// ParseBuildingType accepts the enum names case-sensitively. An empty string
// maps to Overview.
func ParseBuildingType(s string) (BuildingType, error) {
	if s == "" {
		return Overview, nil
	}
	for _, bt := range BuildingTypes {
		if string(bt) == s {
			return bt, nil
		}
	}
	return "", fmt.Errorf("unknown building type %q", s)
}

// AnalysisResult is the outcome of one analysis run.
type AnalysisResult struct {
	Rooms           int                  `json:"rooms"`
	Exits           int                  `json:"exits"`
	SignageRequired int                  `json:"signageRequired"`
	Requirements    []SignageRequirement `json:"requirements"`
	Detections      []DetectionBox       `json:"detections"`
	RoomNames       []string             `json:"roomNames"`
	AllTexts        []string             `json:"allTexts"`
	RawCounts       map[string]int       `json:"rawCounts"`
	Warnings        []string             `json:"warnings,omitempty"`
}

// Model is an opaque inference backend.
type Model interface {
	Run(ctx context.Context, input Tensor) (Tensor, error)
	InputNames() []string
	OutputNames() []string
	Close() error
}

// Recognizer is an opaque text recognition service.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) ([]RecognizedWord, error)
}
