package store

import (
	"time"

	iface "FloorAuditServer/interface"
	"FloorAuditServer/signage"
)

// Session statuses.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// SessionModel is one analysis run.
type SessionModel struct {
	ID             string `gorm:"primaryKey;size:64"`
	FileName       string `gorm:"size:512"`
	Status         string `gorm:"size:16;index;not null"`
	BuildingType   string `gorm:"size:16"`
	ModelSet       string `gorm:"size:64"`
	Pages          int    `gorm:"not null"`
	PixelsPerMeter float64
	Result         string     `gorm:"type:text"`
	Error          string     `gorm:"type:text"`
	CreatedAt      time.Time  `gorm:"not null"`
	CompletedAt    *time.Time `gorm:"index"`
}

func (SessionModel) TableName() string { return "sessions" }

type DetectedElementModel struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	SessionID   string `gorm:"size:64;index;not null"`
	ElementType string `gorm:"size:64;index;not null"`
	Confidence  float64
	X, Y, W, H  float64
	CreatedAt   time.Time
}

func (DetectedElementModel) TableName() string { return "detected_elements" }

type RequirementModel struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	SessionID   string `gorm:"size:64;index;not null"`
	Position    int    `gorm:"not null"`
	SignageType string `gorm:"size:128;not null"`
	Quantity    int    `gorm:"not null"`
	Reason      string `gorm:"type:text"`
	Regulation  string `gorm:"size:128"`
	Priority    string `gorm:"size:16"`
	CreatedAt   time.Time
}

func (RequirementModel) TableName() string { return "requirements" }

// Priority ranks a requirement type: low, medium, high or critical.
func Priority(signageType string) string {
	switch signageType {
	case signage.TypeExit:
		return "critical"
	case signage.TypeElectricalExtinguisher, signage.TypeGeneralExtinguisher, signage.TypeDoorSwing:
		return "high"
	case signage.TypeWayfinding, signage.TypeLift:
		return "medium"
	}
	return "low"
}

func elementModels(sessionID string, boxes []iface.DetectionBox, at time.Time) []DetectedElementModel {
	out := make([]DetectedElementModel, len(boxes))
	for i, b := range boxes {
		out[i] = DetectedElementModel{
			SessionID:   sessionID,
			ElementType: b.Label,
			Confidence:  b.Confidence,
			X:           b.X,
			Y:           b.Y,
			W:           b.W,
			H:           b.H,
			CreatedAt:   at,
		}
	}
	return out
}

func requirementModels(sessionID string, reqs []iface.SignageRequirement, at time.Time) []RequirementModel {
	out := make([]RequirementModel, len(reqs))
	for i, r := range reqs {
		out[i] = RequirementModel{
			SessionID:   sessionID,
			Position:    i,
			SignageType: r.Type,
			Quantity:    r.Count,
			Reason:      r.Reason,
			Regulation:  r.Regulation,
			Priority:    Priority(r.Type),
			CreatedAt:   at,
		}
	}
	return out
}
