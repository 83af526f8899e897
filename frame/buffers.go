package frame

// Buffers is the per-process compositing storage: the local pair captured
// from the render target and a scratch pair that receives a partner's data.
//
// A Buffers value is allocated once per coordinator and reused for every
// frame; Ensure only reallocates when a frame is larger than any before it.
// It is owned by one composite at a time and is not safe for concurrent use.
type Buffers struct {
	Local   Pair
	Scratch Pair

	grows int
}

// Ensure sizes both pairs for a width x height image with the given number
// of color components and returns them.
func (b *Buffers) Ensure(width, height, components int) (local, scratch *Pair) {
	n := width * height
	if cap(b.Local.Depth) < n || cap(b.Local.Pix) < n*components ||
		cap(b.Scratch.Depth) < n || cap(b.Scratch.Pix) < n*components {
		b.grows++
	}
	b.Local.Resize(width, height, components)
	b.Scratch.Resize(width, height, components)
	return &b.Local, &b.Scratch
}

// Grows returns how many times Ensure had to allocate.
func (b *Buffers) Grows() int {
	return b.grows
}
