package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidSettings = errors.New("invalid print settings")

type Material string

const (
	MaterialPLA     Material = "PLA"
	MaterialPLAPlus Material = "PLA+"
	MaterialABS     Material = "ABS"
)

// ParseMaterial accepts any letter case ("pla", "Pla+").
func ParseMaterial(s string) (Material, error) {
	switch m := Material(strings.ToUpper(strings.TrimSpace(s))); m {
	case MaterialPLA, MaterialPLAPlus, MaterialABS:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown material %q", ErrInvalidSettings, s)
	}
}

// Normalize returns the canonical upper-case form without validating it.
func (m Material) Normalize() Material {
	return Material(strings.ToUpper(strings.TrimSpace(string(m))))
}

// Color is the filament colour stocked for the material.
func (m Material) Color() string {
	switch m.Normalize() {
	case MaterialPLAPlus:
		return "grey"
	case MaterialABS:
		return "yellow"
	default:
		return "blue"
	}
}

type InfillPattern string

const (
	InfillGrid       InfillPattern = "grid"
	InfillLines      InfillPattern = "lines"
	InfillTriangles  InfillPattern = "triangles"
	InfillCubic      InfillPattern = "cubic"
	InfillGyroid     InfillPattern = "gyroid"
	InfillConcentric InfillPattern = "concentric"
)

func (p InfillPattern) Valid() bool {
	switch p {
	case InfillGrid, InfillLines, InfillTriangles, InfillCubic, InfillGyroid, InfillConcentric:
		return true
	}
	return false
}

const DefaultLayerHeight = 0.15

type PrintSettings struct {
	LayerHeight   float64       `json:"layerHeight"`
	InfillDensity int           `json:"infillDensity"`
	InfillPattern InfillPattern `json:"infillPattern"`
	SupportEnable bool          `json:"supportEnable"`
	MaterialType  Material      `json:"materialType"`
	MaterialColor string        `json:"materialColor"`
}

func DefaultPrintSettings() PrintSettings {
	return PrintSettings{
		LayerHeight:   DefaultLayerHeight,
		InfillDensity: 20,
		InfillPattern: InfillGrid,
		MaterialType:  MaterialPLA,
		MaterialColor: MaterialPLA.Color(),
	}
}

// SetMaterial switches the material and the colour that goes with it.
func (s *PrintSettings) SetMaterial(m Material) {
	s.MaterialType = m.Normalize()
	s.MaterialColor = s.MaterialType.Color()
}

func (s PrintSettings) Validate() error {
	if s.LayerHeight <= 0 || s.LayerHeight > 0.4 {
		return fmt.Errorf("%w: layer height %.2fmm out of range", ErrInvalidSettings, s.LayerHeight)
	}
	if s.InfillDensity < 0 || s.InfillDensity > 100 {
		return fmt.Errorf("%w: infill density %d%% out of range", ErrInvalidSettings, s.InfillDensity)
	}
	if !s.InfillPattern.Valid() {
		return fmt.Errorf("%w: unknown infill pattern %q", ErrInvalidSettings, s.InfillPattern)
	}
	if _, err := ParseMaterial(string(s.MaterialType)); err != nil {
		return err
	}
	return nil
}

// MeshDimensions are bounding box extents in millimetres, height along the build axis.
type MeshDimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Depth  float64 `json:"depth"`
}

type PriceBreakdown struct {
	FilamentCost     decimal.Decimal `json:"filamentCost"`
	TimeCost         decimal.Decimal `json:"timeCost"`
	PackagingCost    decimal.Decimal `json:"packagingCost"`
	HumanEffortsCost decimal.Decimal `json:"humanEffortsCost"`
	ProfitCost       decimal.Decimal `json:"profitCost"`
	FinalPrice       int64           `json:"finalPrice"`
}

type PrintDetails struct {
	FilamentGrams int64   `json:"filamentGrams"`
	FilamentMm    float64 `json:"filamentMm"`
	Volume        float64 `json:"volume"`
	PrintSeconds  float64 `json:"printSeconds"`
}

type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Placement is where the model sits on the build plate.
type Placement struct {
	Position Vector3 `json:"position"`
	Rotation Vector3 `json:"rotation"`
}
