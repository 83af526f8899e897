// Package parallel splits per-pixel and per-row loops across goroutines.
//
// The compositing merge and the image scalers are embarrassingly parallel
// within one process: every pixel (or scanline) is independent. The helpers
// here fan a loop out in contiguous chunks and fall back to a plain loop when
// the work is too small to be worth the goroutine overhead.
package parallel

import (
	"runtime"
	"sync"
)

// Config configures how loops are split.
type Config struct {
	// NumWorkers is the number of goroutines. 0 means runtime.GOMAXPROCS(0).
	NumWorkers int

	// GrainSize is the minimum number of items per worker. Loops with fewer
	// than GrainSize*NumWorkers items run sequentially.
	GrainSize int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		NumWorkers: 0,
		GrainSize:  4096,
	}
}

var (
	config   = DefaultConfig()
	configMu sync.RWMutex
)

// SetConfig replaces the process-wide configuration.
func SetConfig(c Config) {
	configMu.Lock()
	defer configMu.Unlock()
	config = c
}

// GetConfig returns the process-wide configuration.
func GetConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return config
}

func effectiveWorkers(c Config) int {
	if c.NumWorkers <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return c.NumWorkers
}

// ForRange calls fn(start, end) over disjoint chunks covering [0, n).
// Chunks run concurrently when n is large enough.
func ForRange(n int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	c := GetConfig()
	workers := effectiveWorkers(c)
	grain := c.GrainSize
	if grain < 1 {
		grain = 1
	}

	if workers == 1 || n <= grain*workers {
		fn(0, n)
		return
	}

	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// For runs fn(i) for i in [0, n).
func For(n int, fn func(i int)) {
	ForRange(n, func(start, end int) {
		for i := start; i < end; i++ {
			fn(i)
		}
	})
}
