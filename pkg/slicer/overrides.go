package slicer

import (
	"strconv"

	"github.com/example/printshop/pkg/models"
	"github.com/shopspring/decimal"
)

// Override is one engine setting, passed to the engine as text.
type Override struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type materialPreset struct {
	printTemp  int
	bedTemp    int
	printSpeed int
	retraction string
}

var materialPresets = map[models.Material]materialPreset{
	models.MaterialPLA:     {printTemp: 210, bedTemp: 60, printSpeed: 80, retraction: "6.5"},
	models.MaterialPLAPlus: {printTemp: 220, bedTemp: 70, printSpeed: 75, retraction: "6.5"},
	models.MaterialABS:     {printTemp: 250, bedTemp: 100, printSpeed: 70, retraction: "4.5"},
}

const defaultInitialLayerHeight = "0.2"

var initialLayerMultiplier = decimal.RequireFromString("1.5")

// InitialLayerHeight is 1.5x the layer height, except the 0.15mm default which prints a 0.2mm
// first layer.
func InitialLayerHeight(layerHeight float64) string {
	if layerHeight == models.DefaultLayerHeight {
		return defaultInitialLayerHeight
	}
	return decimal.NewFromFloat(layerHeight).Mul(initialLayerMultiplier).String()
}

// BuildOverrides maps customer settings onto the engine's setting keys. Temperatures, speed and
// retraction come from the material preset, with PLA standing in for unknown materials; an empty
// infill pattern means grid.
func BuildOverrides(s models.PrintSettings) []Override {
	preset, ok := materialPresets[s.MaterialType.Normalize()]
	if !ok {
		preset = materialPresets[models.MaterialPLA]
	}

	pattern := s.InfillPattern
	if pattern == "" {
		pattern = models.InfillGrid
	}

	out := []Override{
		{Key: "layer_height", Value: strconv.FormatFloat(s.LayerHeight, 'f', -1, 64)},
		{Key: "initial_layer_height", Value: InitialLayerHeight(s.LayerHeight)},
		{Key: "infill_sparse_density", Value: strconv.Itoa(s.InfillDensity)},
		{Key: "infill_pattern", Value: string(pattern)},
		{Key: "material_print_temperature", Value: strconv.Itoa(preset.printTemp)},
		{Key: "material_bed_temperature", Value: strconv.Itoa(preset.bedTemp)},
		{Key: "speed_print", Value: strconv.Itoa(preset.printSpeed)},
		{Key: "retraction_enable", Value: "true"},
		{Key: "retraction_amount", Value: preset.retraction},
		{Key: "wall_line_count", Value: "3"},
		{Key: "top_layers", Value: "4"},
		{Key: "bottom_layers", Value: "3"},
		{Key: "adhesion_type", Value: "skirt"},
		{Key: "support_enable", Value: strconv.FormatBool(s.SupportEnable)},
	}
	if s.SupportEnable {
		out = append(out,
			Override{Key: "support_type", Value: "buildplate"},
			Override{Key: "support_angle", Value: "50"},
			Override{Key: "support_infill_rate", Value: "15"},
		)
	}
	return out
}
