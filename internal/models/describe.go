package models

// Stage describes one of the four resolution stages of a visformer network.
type Stage struct {
	Index         int       `json:"index"`
	Channels      int       `json:"channels"`
	Resolution    int       `json:"resolution"`
	WindowSize    int       `json:"windowSize"`
	ShiftSizes    []int     `json:"shiftSizes"`
	Blocks        int       `json:"blocks"`
	Heads         int       `json:"heads"`
	HeadDim       int       `json:"headDim"`
	Attention     bool      `json:"attention"`
	SpatialConv   bool      `json:"spatialConv"`
	DropPathRates []float64 `json:"dropPathRates"`
}

var (
	stageWindows       = [4]int{56, 28, 14, 7}
	stageHeadDimRatios = [4]float64{0.25, 0.5, 1, 1}
	stageWidthFactors  = [4]float64{0.25, 0.5, 1, 2}
)

// Describe lays out the stages of arch for an input of imageSize pixels
// (arch.ImageSize when imageSize <= 0). dropPathRate overrides the
// architecture default when non-negative.
func Describe(arch Arch, imageSize int, dropPathRate float64) []Stage {
	if imageSize <= 0 {
		imageSize = arch.ImageSize
	}
	if dropPathRate < 0 {
		dropPathRate = arch.DropPathRate
	}

	rates := linspace(0, dropPathRate, arch.Blocks())
	// stem halves the input, each patch embedding halves it again
	resolution := imageSize / 2

	stages := make([]Stage, 4)
	offset := 0
	for i := range stages {
		resolution /= 2
		channels := int(float64(arch.EmbedDim) * stageWidthFactors[i])
		heads := arch.NumHeads[i]
		headDim := 0
		if heads > 0 {
			headDim = int(float64(channels/heads) * stageHeadDimRatios[i])
		}

		// a window covering the whole feature map is clamped and never shifted
		window, shift := stageWindows[i], stageWindows[i]/2
		if resolution <= window {
			window, shift = resolution, 0
		}
		shifts := make([]int, arch.Depth[i])
		for b := range shifts {
			// odd blocks, counted across the whole network, are shifted
			if (offset+b)%2 == 1 {
				shifts[b] = shift
			}
		}

		stages[i] = Stage{
			Index:         i,
			Channels:      channels,
			Resolution:    resolution,
			WindowSize:    window,
			ShiftSizes:    shifts,
			Blocks:        arch.Depth[i],
			Heads:         heads,
			HeadDim:       headDim,
			Attention:     stageFlag(arch.AttnStage, i),
			SpatialConv:   stageFlag(arch.SpatialConv, i),
			DropPathRates: append([]float64{}, rates[offset:offset+arch.Depth[i]]...),
		}
		offset += arch.Depth[i]
	}
	return stages
}

func stageFlag(mask string, i int) bool {
	return i < len(mask) && mask[i] == '1'
}

// linspace mirrors numpy.linspace(start, stop, n) with the endpoint included.
func linspace(start, stop float64, n int) []float64 {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []float64{start}
	}
	out := make([]float64, n)
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	out[n-1] = stop
	return out
}
