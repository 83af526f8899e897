// Package imagefile reads and writes frame images for the command line
// tools. The format follows the file extension.
package imagefile

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	_ "github.com/ftrvxmtrx/tga"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/mrjoshuak/go-sortlast/frame"
	"github.com/mrjoshuak/go-sortlast/internal/parallel"
)

// ErrFormat reports an extension no encoder handles.
var ErrFormat = errors.New("imagefile: unsupported output format")

// Encode writes img to w in the format named by ext (".webp", ".png",
// ".bmp", ".tif" or ".tiff").
func Encode(w io.Writer, img *frame.Image, ext string) error {
	rgba := img.ToRGBA()
	switch strings.ToLower(ext) {
	case ".webp":
		return nativewebp.Encode(w, rgba, nil)
	case ".png":
		return png.Encode(w, rgba)
	case ".bmp":
		return bmp.Encode(w, rgba)
	case ".tif", ".tiff":
		return tiff.Encode(w, rgba, &tiff.Options{Compression: tiff.Deflate})
	}
	return fmt.Errorf("%w: %q", ErrFormat, ext)
}

// Write saves img to path.
func Write(path string, img *frame.Image) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if err := Encode(f, img, filepath.Ext(path)); err != nil {
		return fmt.Errorf("imagefile: %s: %w", path, err)
	}
	return nil
}

// Read decodes any registered format (png, bmp, tiff, webp, tga) into an
// image with the given number of components.
func Read(path string, components int) (*frame.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("imagefile: %s: %w", path, err)
	}
	return frame.FromImage(src, components), nil
}

// Diff counts the pixels whose color differs between a and b. Images of
// different sizes differ everywhere.
func Diff(a, b *frame.Image) int {
	if a.Width != b.Width || a.Height != b.Height {
		return max(a.Pixels(), b.Pixels())
	}
	rows := make([]int, a.Height)
	parallel.For(a.Height, func(y int) {
		for x := 0; x < a.Width; x++ {
			if a.At(x, y) != b.At(x, y) {
				rows[y]++
			}
		}
	})
	n := 0
	for _, r := range rows {
		n += r
	}
	return n
}
