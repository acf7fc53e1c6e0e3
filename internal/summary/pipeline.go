package summary

import (
	"context"
	"errors"
	"fmt"
	"image"

	"evoviz/internal/model"
)

// Renderer turns one snapshot into a still image.
type Renderer interface {
	Render(ctx context.Context, snap model.Snapshot) (image.Image, error)
}

// Encoder concatenates frames into an animation.
type Encoder interface {
	Encode(ctx context.Context, frames []image.Image, fps float64) error
}

type RendererFunc func(ctx context.Context, snap model.Snapshot) (image.Image, error)

func (f RendererFunc) Render(ctx context.Context, snap model.Snapshot) (image.Image, error) {
	return f(ctx, snap)
}

// FrameSink observes every rendered frame, e.g. to keep per-generation stills.
type FrameSink func(snap model.Snapshot, frame image.Image) error

type Pipeline struct {
	Aggregator *Aggregator
	Renderer   Renderer
	Encoder    Encoder
	FPS        float64
	ClosingPad int
	Sink       FrameSink
}

type Report struct {
	Snapshots   []model.Snapshot
	Frames      int
	Generations int
	Misses      int
}

func (p *Pipeline) Run(ctx context.Context, records []model.LogRecord) (Report, error) {
	if p.Aggregator == nil {
		return Report{}, errors.New("pipeline aggregator is required")
	}
	if p.Renderer == nil {
		return Report{}, errors.New("pipeline renderer is required")
	}
	snapshots, err := p.Aggregator.Build(records)
	if err != nil {
		return Report{}, err
	}

	report := Report{Snapshots: snapshots}
	frames := make([]image.Image, 0, len(snapshots)+p.ClosingPad)
	for _, snap := range snapshots {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		frame, err := p.Renderer.Render(ctx, snap)
		if err != nil {
			return Report{}, fmt.Errorf("render generation %d: %w", snap.Generation, err)
		}
		if p.Sink != nil {
			if err := p.Sink(snap, frame); err != nil {
				return Report{}, fmt.Errorf("store frame for generation %d: %w", snap.Generation, err)
			}
		}
		frames = append(frames, frame)
		report.Misses += snap.Mutation.Misses + snap.LocalSearch.Misses + snap.BubbleUp.Misses + snap.Recombination.Misses
	}
	if len(frames) > 0 {
		closing := frames[len(frames)-1]
		for i := 0; i < p.ClosingPad; i++ {
			frames = append(frames, closing)
		}
	}
	report.Frames = len(frames)
	last := snapshots[len(snapshots)-1]
	report.Generations = len(last.Track.X)

	if p.Encoder != nil {
		fps := p.FPS
		if fps <= 0 {
			fps = 1
		}
		if err := p.Encoder.Encode(ctx, frames, fps); err != nil {
			return Report{}, fmt.Errorf("encode animation: %w", err)
		}
	}
	return report, nil
}
