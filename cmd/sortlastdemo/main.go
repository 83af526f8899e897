// sortlastdemo renders a synthetic scene split across in-process ranks,
// composites the ranks' images and writes the result.
//
// Every rank draws a share of the scene's boxes into its own target. The
// root drives the frames; the other ranks serve its render requests. With
// a reduction factor of 1 the composite is checked against a render of
// the whole scene in one target.
//
// Usage:
//
//	sortlastdemo [options]
//
// Options:
//
//	-config file      JSON settings; flags override them
//	-ranks n          number of ranks (default 4)
//	-width, -height   window size (default 400x300)
//	-frames n         frames to render (default 1)
//	-reduction f      image reduction factor (default 1)
//	-rate r           desired update rate; picks the reduction factor
//	-method m         magnification: nearest or linear
//	-compositer c     tree or compressed
//	-deflate          deflate compressed compositing payloads
//	-components n     3 or 4 color components
//	-out file         write the final image (.webp, .png, .bmp, .tiff)
//	-ref file         compare the final image against a reference image
//	-v                verbose output
//
// Exit codes:
//
//	0: success
//	1: the image differs from the reference
//	2: error
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"

	"github.com/mrjoshuak/go-sortlast/comm"
	"github.com/mrjoshuak/go-sortlast/frame"
	"github.com/mrjoshuak/go-sortlast/internal/config"
	"github.com/mrjoshuak/go-sortlast/internal/imagefile"
	"github.com/mrjoshuak/go-sortlast/internal/logging"
	"github.com/mrjoshuak/go-sortlast/manager"
)

func main() {
	configPath := flag.String("config", "", "JSON config file")
	flags := config.Flags(flag.CommandLine,
		"ranks", "width", "height", "frames", "reduction", "rate", "method",
		"compositer", "deflate", "components", "out", "ref", "v")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sortlastdemo [options]\n\n")
		fmt.Fprintf(os.Stderr, "Render a scene split across ranks and composite it.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	var file config.Config
	if *configPath != "" {
		var err error
		if file, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
	}
	cfg, err := config.Merge(file, *flags).Resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	log := logging.NewText(os.Stderr, cfg.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	img, err := run(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if cfg.Out != "" {
		if err := imagefile.Write(cfg.Out, img); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		log.Info("wrote image", "path", cfg.Out, "width", img.Width, "height", img.Height)
	}
	if cfg.Ref != "" {
		ref, err := imagefile.Read(cfg.Ref, img.Components)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		if d := imagefile.Diff(img, ref); d != 0 {
			fmt.Fprintf(os.Stderr, "%d of %d pixels differ from %s\n", d, img.Pixels(), cfg.Ref)
			os.Exit(1)
		}
		log.Info("image matches reference", "path", cfg.Ref)
	}
}

// run composites cfg.Frames frames and returns the root's final image.
func run(ctx context.Context, cfg config.Resolved, log *slog.Logger) (*frame.Image, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rects := sceneRects(rectsPerRank * cfg.Ranks)
	targets := partition(rects, cfg.Ranks, cfg.Width, cfg.Height)
	group := comm.NewLocalGroup(cfg.Ranks, log)

	mcfg := manager.DefaultConfig()
	mcfg.ImageReductionFactor = cfg.ReductionFactor
	mcfg.MaxImageReductionFactor = max(mcfg.MaxImageReductionFactor, cfg.ReductionFactor)
	mcfg.AutoImageReductionFactor = cfg.UpdateRate > 0
	mcfg.MagnifyMethod = cfg.MagnifyMethod
	mcfg.Compositer = cfg.CompositerKind
	mcfg.Deflate = cfg.Deflate
	mcfg.Components = cfg.Components
	mcfg.Logger = log

	mgrs := make([]*manager.Manager, cfg.Ranks)
	for r := range mgrs {
		mgrs[r] = manager.New(group[r], targets[r], mcfg)
		defer mgrs[r].Close()
	}
	root := mgrs[mcfg.RootRank]
	targets[mcfg.RootRank].SetDesiredUpdateRate(cfg.UpdateRate)

	var wg sync.WaitGroup
	errs := make([]error, cfg.Ranks)
	for r, m := range mgrs {
		if r == mcfg.RootRank {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[r] = m.StartServices(ctx)
		}()
	}

	var frameErr error
	for i := range cfg.Frames {
		if frameErr = root.Render(ctx); frameErr != nil {
			break
		}
		log.Info("frame",
			"n", i,
			"factor", root.ImageReductionFactor(),
			"reduced", root.ReducedSize(),
			"render", root.RenderTime(),
			"composite", root.ImageProcessingTime())
	}
	if frameErr != nil {
		// Satellites may be blocked inside the failed frame.
		cancel()
	} else if err := root.StopServices(ctx); err != nil {
		frameErr = err
	}
	wg.Wait()
	if frameErr != nil {
		return nil, frameErr
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	img, err := root.PixelData()
	if err != nil {
		return nil, err
	}
	if root.ImageReductionFactor() == 1 {
		want, err := reference(ctx, rects, cfg.Width, cfg.Height)
		if err != nil {
			return nil, err
		}
		if d := imagefile.Diff(img, want); d != 0 {
			log.Warn("composite differs from single-process render", "pixels", d)
		} else {
			log.Info("composite matches single-process render")
		}
	}
	return img, nil
}
