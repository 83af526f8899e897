// Package config loads the settings of the command line tools: a JSON file
// first, then flags that override it, then defaults for whatever is still
// unset.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mrjoshuak/go-sortlast/composite"
	"github.com/mrjoshuak/go-sortlast/relay"
	"github.com/mrjoshuak/go-sortlast/scale"
)

// Defaults
const (
	DefaultRanks  = 4
	DefaultWidth  = 400
	DefaultHeight = 300
	DefaultFrames = 1
)

// ErrInvalid reports a setting outside its range.
var ErrInvalid = errors.New("config: invalid setting")

// Config is the union of the tools' settings. Zero values mean unset.
type Config struct {
	Ranks           int     `json:"ranks,omitempty"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
	Frames          int     `json:"frames,omitempty"`
	ReductionFactor float64 `json:"reductionFactor,omitempty"`
	UpdateRate      float64 `json:"updateRate,omitempty"`
	Method          string  `json:"method,omitempty"`
	Compositer      string  `json:"compositer,omitempty"`
	Deflate         bool    `json:"deflate,omitempty"`
	Codec           string  `json:"codec,omitempty"`
	Filter          string  `json:"filter,omitempty"`
	Components      int     `json:"components,omitempty"`
	Out             string  `json:"out,omitempty"`
	Ref             string  `json:"ref,omitempty"`
	Serve           string  `json:"serve,omitempty"`
	Connect         string  `json:"connect,omitempty"`
	Heartbeat       string  `json:"heartbeat,omitempty"`
	Verbose         bool    `json:"verbose,omitempty"`
}

// Load reads a JSON config file. Unknown keys are an error.
func Load(path string) (Config, error) {
	var c Config
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return c, fmt.Errorf("config: %s: %w", path, err)
	}
	return c, nil
}

// Flags binds the settings to fs with zero defaults, so that only flags
// given on the command line override the file. names selects the flags a
// tool offers; all are bound when it is empty.
func Flags(fs *flag.FlagSet, names ...string) *Config {
	c := &Config{}
	want := func(name string) bool {
		if len(names) == 0 {
			return true
		}
		for _, n := range names {
			if n == name {
				return true
			}
		}
		return false
	}
	if want("ranks") {
		fs.IntVar(&c.Ranks, "ranks", 0, fmt.Sprintf("number of ranks (default %d)", DefaultRanks))
	}
	if want("width") {
		fs.IntVar(&c.Width, "width", 0, fmt.Sprintf("window width (default %d)", DefaultWidth))
	}
	if want("height") {
		fs.IntVar(&c.Height, "height", 0, fmt.Sprintf("window height (default %d)", DefaultHeight))
	}
	if want("frames") {
		fs.IntVar(&c.Frames, "frames", 0, fmt.Sprintf("frames to render (default %d)", DefaultFrames))
	}
	if want("reduction") {
		fs.Float64Var(&c.ReductionFactor, "reduction", 0, "image reduction factor (default 1)")
	}
	if want("rate") {
		fs.Float64Var(&c.UpdateRate, "rate", 0, "desired update rate; picks the reduction factor each frame")
	}
	if want("method") {
		fs.StringVar(&c.Method, "method", "", "magnification method: nearest or linear")
	}
	if want("compositer") {
		fs.StringVar(&c.Compositer, "compositer", "", "compositing algorithm: tree or compressed")
	}
	if want("deflate") {
		fs.BoolVar(&c.Deflate, "deflate", false, "deflate compressed compositing payloads")
	}
	if want("codec") {
		fs.StringVar(&c.Codec, "codec", "", "relay image codec: raw, rle, zlib or j2k (default zlib)")
	}
	if want("filter") {
		fs.StringVar(&c.Filter, "filter", "", "resampling filter for displayed images")
	}
	if want("components") {
		fs.IntVar(&c.Components, "components", 0, "color components, 3 or 4 (default 4)")
	}
	if want("out") {
		fs.StringVar(&c.Out, "out", "", "output image (.webp, .png, .bmp or .tiff)")
	}
	if want("ref") {
		fs.StringVar(&c.Ref, "ref", "", "reference image to compare against")
	}
	if want("serve") {
		fs.StringVar(&c.Serve, "serve", "", "listen address of the server")
	}
	if want("connect") {
		fs.StringVar(&c.Connect, "connect", "", "address of the server to connect to")
	}
	if want("heartbeat") {
		fs.StringVar(&c.Heartbeat, "heartbeat", "", "heartbeat interval (default 5s, 0 disables)")
	}
	if want("v") {
		fs.BoolVar(&c.Verbose, "v", false, "verbose output")
	}
	return c
}

// Merge returns base with every set field of override applied.
func Merge(base, override Config) Config {
	set := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}
	setF := func(dst *float64, v float64) {
		if v != 0 {
			*dst = v
		}
	}
	setS := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&base.Ranks, override.Ranks)
	set(&base.Width, override.Width)
	set(&base.Height, override.Height)
	set(&base.Frames, override.Frames)
	set(&base.Components, override.Components)
	setF(&base.ReductionFactor, override.ReductionFactor)
	setF(&base.UpdateRate, override.UpdateRate)
	setS(&base.Method, override.Method)
	setS(&base.Compositer, override.Compositer)
	setS(&base.Codec, override.Codec)
	setS(&base.Filter, override.Filter)
	setS(&base.Out, override.Out)
	setS(&base.Ref, override.Ref)
	setS(&base.Serve, override.Serve)
	setS(&base.Connect, override.Connect)
	setS(&base.Heartbeat, override.Heartbeat)
	base.Deflate = base.Deflate || override.Deflate
	base.Verbose = base.Verbose || override.Verbose
	return base
}

// Resolved is a Config with defaults filled in and names parsed.
type Resolved struct {
	Config
	MagnifyMethod     scale.Method
	CompositerKind    composite.Kind
	ImageCodec        relay.Codec
	ResampleFilter    scale.Filter
	HeartbeatInterval time.Duration
}

// Resolve fills defaults and parses the named settings.
func (c Config) Resolve() (Resolved, error) {
	r := Resolved{Config: c}
	if r.Ranks == 0 {
		r.Ranks = DefaultRanks
	}
	if r.Width == 0 {
		r.Width = DefaultWidth
	}
	if r.Height == 0 {
		r.Height = DefaultHeight
	}
	if r.Frames == 0 {
		r.Frames = DefaultFrames
	}
	if r.ReductionFactor == 0 {
		r.ReductionFactor = 1
	}
	if r.Components == 0 {
		r.Components = 4
	}
	if r.Codec == "" {
		r.Codec = relay.CodecZlib.String()
	}

	switch {
	case r.Ranks < 1:
		return r, fmt.Errorf("%w: ranks %d", ErrInvalid, r.Ranks)
	case r.Width < 1 || r.Height < 1:
		return r, fmt.Errorf("%w: size %dx%d", ErrInvalid, r.Width, r.Height)
	case r.Frames < 1:
		return r, fmt.Errorf("%w: frames %d", ErrInvalid, r.Frames)
	case r.ReductionFactor < 1:
		return r, fmt.Errorf("%w: reduction factor %v", ErrInvalid, r.ReductionFactor)
	case r.UpdateRate < 0:
		return r, fmt.Errorf("%w: update rate %v", ErrInvalid, r.UpdateRate)
	case r.Components != 3 && r.Components != 4:
		return r, fmt.Errorf("%w: %d components", ErrInvalid, r.Components)
	}

	var err error
	if r.MagnifyMethod, err = scale.ParseMethod(r.Method); err != nil {
		return r, err
	}
	if r.CompositerKind, err = composite.ParseKind(r.Compositer); err != nil {
		return r, err
	}
	if r.ImageCodec, err = relay.ParseCodec(r.Codec); err != nil {
		return r, err
	}
	if r.ResampleFilter, err = scale.ParseFilter(r.Filter); err != nil {
		return r, err
	}
	r.HeartbeatInterval = 5 * time.Second
	if r.Heartbeat != "" {
		if r.HeartbeatInterval, err = time.ParseDuration(r.Heartbeat); err != nil || r.HeartbeatInterval < 0 {
			return r, fmt.Errorf("%w: heartbeat %q", ErrInvalid, r.Heartbeat)
		}
	}
	return r, nil
}
