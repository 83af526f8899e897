package manager

import (
	"log/slog"

	"github.com/mrjoshuak/go-sortlast/composite"
	"github.com/mrjoshuak/go-sortlast/scale"
)

// Config controls a Manager. Satellites take most window settings from the
// root every frame; RootRank, Components and the compositer settings must
// agree on every rank.
type Config struct {
	// RootRank is the rank that drives frames and holds the composite.
	RootRank int

	// ImageReductionFactor is the initial reduction factor.
	ImageReductionFactor float64
	// MaxImageReductionFactor caps manual and automatic factors.
	MaxImageReductionFactor float64
	// AutoImageReductionFactor picks the factor from the target's desired
	// update rate at the start of every frame.
	AutoImageReductionFactor bool

	// ParallelRendering enables the frame protocol. When false the root
	// renders alone.
	ParallelRendering bool
	// RenderEventPropagation makes StartFrame trigger a render on every
	// satellite serving RMIs.
	RenderEventPropagation bool
	// UseCompositing merges the ranks' images at the end of a frame.
	UseCompositing bool
	// WriteBackImages displays the composited image on the target.
	WriteBackImages bool
	// MagnifyImages upsamples reduced images to full size on write-back.
	MagnifyImages bool
	// MagnifyMethod is the upsampling algorithm.
	MagnifyMethod scale.Method
	// SynchronizeTileProperties copies the root's tile scale and viewport
	// to satellites.
	SynchronizeTileProperties bool

	// ForcedSize, when non-zero, replaces the target's actual size as the
	// full image size.
	ForcedSize [2]int

	// Components is the number of color components captured: 3 or 4.
	Components int

	// Compositer selects the compositing algorithm.
	Compositer composite.Kind
	// Deflate compresses compressed-compositing payloads with zlib.
	Deflate bool
	// BroadcastResult leaves the composite on every rank, not only the root.
	BroadcastResult bool

	// Logger receives protocol diagnostics. Nil discards them.
	Logger *slog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ImageReductionFactor:      1,
		MaxImageReductionFactor:   16,
		ParallelRendering:         true,
		RenderEventPropagation:    true,
		UseCompositing:            true,
		WriteBackImages:           true,
		MagnifyImages:             true,
		MagnifyMethod:             scale.Nearest,
		SynchronizeTileProperties: true,
		Components:                4,
		Compositer:                composite.KindTree,
	}
}
