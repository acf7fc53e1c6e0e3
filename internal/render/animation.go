package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"reflect"
)

var ErrNoFrames = errors.New("animation has no frames")

// GIFEncoder writes frames as a looping GIF at Path and at every path in Copies.
type GIFEncoder struct {
	Path   string
	Copies []string
}

func (e GIFEncoder) Encode(ctx context.Context, frames []image.Image, fps float64) error {
	if e.Path == "" {
		return errors.New("animation path is required")
	}
	var buf bytes.Buffer
	if err := EncodeGIF(ctx, &buf, frames, fps); err != nil {
		return err
	}
	for _, path := range append([]string{e.Path}, e.Copies...) {
		if err := writeFileAtomic(path, buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// EncodeGIF quantises every frame to the Plan 9 palette and writes the
// animation. Each frame is shown for 1/fps seconds.
func EncodeGIF(ctx context.Context, w io.Writer, frames []image.Image, fps float64) error {
	if len(frames) == 0 {
		return ErrNoFrames
	}
	delay := FrameDelay(fps)
	anim := &gif.GIF{
		Image: make([]*image.Paletted, 0, len(frames)),
		Delay: make([]int, 0, len(frames)),
	}
	var prev image.Image
	var paletted *image.Paletted
	for i, frame := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if frame == nil {
			return fmt.Errorf("frame %d is nil", i)
		}
		if paletted == nil || !sameFrame(prev, frame) {
			paletted = quantize(frame)
		}
		prev = frame
		anim.Image = append(anim.Image, paletted)
		anim.Delay = append(anim.Delay, delay)
	}
	return gif.EncodeAll(w, anim)
}

// sameFrame reports whether b is the very image a points to. Padding repeats
// the final frame, so only consecutive pointer-identical frames share a
// quantised copy; value images are always quantised again.
func sameFrame(a, b image.Image) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Kind() != reflect.Pointer || vb.Kind() != reflect.Pointer || va.Type() != vb.Type() {
		return false
	}
	return va.Pointer() == vb.Pointer()
}

// FrameDelay converts frames per second to GIF delay units of 10ms.
func FrameDelay(fps float64) int {
	if fps <= 0 {
		fps = 1
	}
	delay := int(math.Round(100 / fps))
	if delay < 1 {
		delay = 1
	}
	return delay
}

func quantize(img image.Image) *image.Paletted {
	bounds := img.Bounds()
	paletted := image.NewPaletted(bounds, palette.Plan9)
	draw.FloydSteinberg.Draw(paletted, bounds, img, bounds.Min)
	return paletted
}

// WritePNG stores a single frame, creating parent directories as needed.
func WritePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// FrameName is the file name of the still for one snapshot.
func FrameName(generation int, final bool) string {
	if final {
		return fmt.Sprintf("gen_%06d_final.png", generation)
	}
	return fmt.Sprintf("gen_%06d.png", generation)
}
