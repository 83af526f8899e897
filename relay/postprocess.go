package relay

import (
	"fmt"

	"github.com/mrjoshuak/go-sortlast/frame"
	"github.com/mrjoshuak/go-sortlast/scale"
)

// FitTo returns a PostProcess hook that resamples received images to
// width x height with filter f. The hook reuses one output image, so the
// result is only valid until the next pass.
func FitTo(width, height int, f scale.Filter) func(*frame.Image) (*frame.Image, error) {
	out := &frame.Image{}
	return func(img *frame.Image) (*frame.Image, error) {
		if width <= 0 || height <= 0 {
			return nil, fmt.Errorf("relay: cannot fit to %dx%d", width, height)
		}
		scale.Resample(out, img, width, height, f)
		return out, nil
	}
}

// Chain runs post-processing hooks in order.
func Chain(hooks ...func(*frame.Image) (*frame.Image, error)) func(*frame.Image) (*frame.Image, error) {
	return func(img *frame.Image) (*frame.Image, error) {
		var err error
		for _, h := range hooks {
			if img, err = h(img); err != nil {
				return nil, err
			}
		}
		return img, nil
	}
}
