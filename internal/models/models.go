// Package models is a catalogue of the image-classification architectures a
// training config may select. It only describes the networks; it does not
// build or run them.
package models

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownModel is returned by Lookup for names not in the catalogue.
var ErrUnknownModel = errors.New("unknown model")

// Arch describes one registered architecture.
type Arch struct {
	Name          string  `json:"name"`
	Family        string  `json:"family"`
	ImageSize     int     `json:"imageSize"`
	InChannels    int     `json:"inChannels"`
	NumClasses    int     `json:"numClasses"`
	InitChannels  int     `json:"initChannels"`
	EmbedDim      int     `json:"embedDim"`
	Depth         [4]int  `json:"depth"`
	NumHeads      [4]int  `json:"numHeads"`
	MLPRatio      float64 `json:"mlpRatio"`
	Group         int     `json:"group"`
	AttnStage     string  `json:"attnStage"`
	SpatialConv   string  `json:"spatialConv"`
	DropPathRate  float64 `json:"dropPathRate"`
	QKScale       float64 `json:"qkScale"`
	PretrainedURL string  `json:"pretrainedUrl,omitempty"`
}

// HasPretrained reports whether published weights exist for the model.
func (a Arch) HasPretrained() bool {
	return a.PretrainedURL != ""
}

// NumFeatures is the width of the classifier input.
func (a Arch) NumFeatures() int {
	return a.EmbedDim * 2
}

// Blocks is the total number of transformer/conv blocks.
func (a Arch) Blocks() int {
	total := 0
	for _, d := range a.Depth {
		total += d
	}
	return total
}

var catalogue = map[string]Arch{
	"visformer_tiny": {
		Name: "visformer_tiny", Family: "visformer",
		ImageSize: 224, InChannels: 3, NumClasses: 1000,
		InitChannels: 16, EmbedDim: 192,
		Depth: [4]int{0, 7, 4, 4}, NumHeads: [4]int{3, 3, 3, 3},
		MLPRatio: 4, Group: 8, AttnStage: "0011", SpatialConv: "1100",
		DropPathRate: 0.03, QKScale: -0.25,
	},
	"visformer_small": {
		Name: "visformer_small", Family: "visformer",
		ImageSize: 224, InChannels: 3, NumClasses: 1000,
		InitChannels: 32, EmbedDim: 384,
		Depth: [4]int{0, 7, 4, 4}, NumHeads: [4]int{6, 6, 6, 6},
		MLPRatio: 4, Group: 8, AttnStage: "0011", SpatialConv: "1100",
		DropPathRate: 0.1, QKScale: -0.25,
	},
	"visformer_tiny_v2": {
		Name: "visformer_tiny_v2", Family: "visformer",
		ImageSize: 224, InChannels: 3, NumClasses: 1000,
		InitChannels: 24, EmbedDim: 192,
		Depth: [4]int{1, 4, 6, 3}, NumHeads: [4]int{1, 3, 6, 12},
		MLPRatio: 4, Group: 8, AttnStage: "0011", SpatialConv: "1100",
		DropPathRate: 0.03, QKScale: -0.5,
	},
	"visformer_small_v2": {
		Name: "visformer_small_v2", Family: "visformer",
		ImageSize: 224, InChannels: 3, NumClasses: 1000,
		InitChannels: 32, EmbedDim: 256,
		Depth: [4]int{1, 10, 14, 3}, NumHeads: [4]int{2, 4, 8, 16},
		MLPRatio: 4, Group: 8, AttnStage: "0011", SpatialConv: "1100",
		DropPathRate: 0.1, QKScale: -0.5,
	},
}

// Lookup returns the architecture registered under name.
func Lookup(name string) (Arch, error) {
	arch, ok := catalogue[name]
	if !ok {
		return Arch{}, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return arch, nil
}

// Names returns the registered model names in sorted order.
func Names() []string {
	names := make([]string, 0, len(catalogue))
	for name := range catalogue {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every registered architecture sorted by name.
func All() []Arch {
	names := Names()
	out := make([]Arch, len(names))
	for i, name := range names {
		out[i] = catalogue[name]
	}
	return out
}
