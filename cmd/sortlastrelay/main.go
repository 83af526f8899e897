// sortlastrelay runs a two-process render loop over the network.
//
// The server renders a fixed scene and serves one client at a time. The
// client drives the frames: it sends its window size to the server,
// receives the server's image and optionally writes the last one to a
// file.
//
// Usage:
//
//	sortlastrelay -serve addr [options]
//	sortlastrelay -connect addr [options]
//
// Options:
//
//	-config file      JSON settings; flags override them
//	-serve addr       listen on addr and render for a client
//	-connect addr     connect to a server and drive the frames
//	-width, -height   client window size (default 400x300)
//	-frames n         frames to render (default 1)
//	-codec c          image codec: raw, rle, zlib or j2k (default zlib)
//	-components n     3 or 4 color components
//	-heartbeat d      client heartbeat interval (default 5s)
//	-out file         client: write the last image (.webp, .png, .bmp, .tiff)
//	-v                verbose output
//
// Exit codes:
//
//	0: success
//	2: error
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/color"
	"log/slog"
	"os"
	"os/signal"

	"github.com/mrjoshuak/go-sortlast/comm"
	"github.com/mrjoshuak/go-sortlast/comm/netcomm"
	"github.com/mrjoshuak/go-sortlast/internal/config"
	"github.com/mrjoshuak/go-sortlast/internal/imagefile"
	"github.com/mrjoshuak/go-sortlast/internal/logging"
	"github.com/mrjoshuak/go-sortlast/memtarget"
	"github.com/mrjoshuak/go-sortlast/synchronizer"
)

func main() {
	configPath := flag.String("config", "", "JSON config file")
	flags := config.Flags(flag.CommandLine,
		"serve", "connect", "width", "height", "frames", "codec", "components",
		"heartbeat", "out", "v")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sortlastrelay -serve addr | -connect addr [options]\n\n")
		fmt.Fprintf(os.Stderr, "Render remotely and display the images locally.\n\n")
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
	if (cfg.Serve == "") == (cfg.Connect == "") {
		flag.Usage()
		os.Exit(2)
	}
	log := logging.NewText(os.Stderr, cfg.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ncfg := netcomm.DefaultConfig()
	ncfg.HeartbeatInterval = cfg.HeartbeatInterval
	ncfg.Logger = log

	if cfg.Serve != "" {
		err = serve(ctx, cfg, ncfg, log)
	} else {
		err = connect(ctx, cfg, ncfg, log)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
}

func syncConfig(cfg config.Resolved, log *slog.Logger) synchronizer.Config {
	scfg := synchronizer.DefaultConfig()
	scfg.RootRank = netcomm.ClientRank
	// The client has no scene of its own.
	scfg.SynchronizeRenderers = false
	scfg.Codec = cfg.ImageCodec
	scfg.Components = cfg.Components
	scfg.Logger = log
	return scfg
}

// scene is what the server draws: two overlapping boxes on a dark
// background.
func scene() *memtarget.Renderer {
	r := memtarget.NewRenderer(
		memtarget.Rect{X0: 0.1, Y0: 0.1, X1: 0.6, Y1: 0.7, Depth: 0.4, Color: color.RGBA{R: 0xD0, G: 0x50, B: 0x30, A: 0xFF}},
		memtarget.Rect{X0: 0.35, Y0: 0.3, X1: 0.9, Y1: 0.9, Depth: 0.6, Color: color.RGBA{R: 0x30, G: 0x80, B: 0xD0, A: 0xFF}},
	)
	st := r.State()
	st.Background = [3]float64{0.08, 0.08, 0.1}
	r.SetState(st)
	return r
}

// serve renders for one client after another until ctx ends.
func serve(ctx context.Context, cfg config.Resolved, ncfg netcomm.Config, log *slog.Logger) error {
	srv, err := netcomm.Listen(cfg.Serve, ncfg)
	if err != nil {
		return err
	}
	defer srv.Close()
	log.Info("listening", "addr", srv.Addr().String())

	reg := synchronizer.NewRegistry()
	for {
		ep, err := srv.Accept(ctx)
		if err != nil {
			return err
		}
		log.Info("client connected")
		target := memtarget.New(cfg.Width, cfg.Height, scene())
		if err := session(ctx, ep, target, reg, cfg, log); err != nil {
			log.Warn("session ended", "err", err)
		}
	}
}

func session(ctx context.Context, ep *comm.Endpoint, target *memtarget.Target, reg *synchronizer.Registry, cfg config.Resolved, log *slog.Logger) error {
	defer ep.Close()
	s, err := synchronizer.New(ep, target, reg, syncConfig(cfg, log))
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.StartServices(ctx); err != nil {
		return err
	}
	log.Info("client done", "frames", s.Frames(), "renders", target.Renders())
	return nil
}

// connect drives cfg.Frames frames against the server at cfg.Connect.
func connect(ctx context.Context, cfg config.Resolved, ncfg netcomm.Config, log *slog.Logger) error {
	ep, err := netcomm.Dial(ctx, cfg.Connect, ncfg)
	if err != nil {
		return err
	}
	defer ep.Close()

	target := memtarget.New(cfg.Width, cfg.Height)
	s, err := synchronizer.New(ep, target, synchronizer.NewRegistry(), syncConfig(cfg, log))
	if err != nil {
		return err
	}
	defer s.Close()

	for i := range cfg.Frames {
		if err := s.Render(ctx); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		n, elapsed := s.Relay().Stats()
		h := s.Relay().LastHeader()
		log.Info("frame", "n", i, "width", h.Width, "height", h.Height, "bytes", n, "elapsed", elapsed)
	}
	if err := s.StopServices(ctx); err != nil {
		return err
	}

	if cfg.Out == "" {
		return nil
	}
	img, shown := target.Displayed()
	if shown == 0 {
		return errors.New("server sent no image")
	}
	if err := imagefile.Write(cfg.Out, img); err != nil {
		return err
	}
	log.Info("wrote image", "path", cfg.Out, "width", img.Width, "height", img.Height)
	return nil
}
