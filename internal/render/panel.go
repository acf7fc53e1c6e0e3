package render

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"evoviz/internal/model"
	"evoviz/internal/trace"
)

var (
	pocketColor        = chart.ColorGreen
	mutationColor      = chart.ColorBlack
	localSearchColor   = drawing.ColorFromHex("d97706")
	recombinationColor = drawing.ColorFromHex("0891b2")
)

// DegreeColor is the marker colour of a bubble-up degree.
func DegreeColor(d model.Degree) drawing.Color {
	switch d {
	case model.DegreeLeft:
		return chart.ColorBlue
	case model.DegreeCenter:
		return chart.ColorRed
	default:
		return chart.ColorAlternateGray
	}
}

// pointStyle draws markers without a connecting line.
func pointStyle(col drawing.Color, width float64) chart.Style {
	return chart.Style{
		StrokeWidth: 0,
		StrokeColor: chart.ColorTransparent,
		DotWidth:    width,
		DotColor:    col,
	}
}

type panelSpec struct {
	agent       int
	width       int
	height      int
	showBubbles bool
	xMax        float64
	legend      bool
}

// agentSeries builds the chart series of one slot. Empty overlays produce no series.
func agentSeries(snap model.Snapshot, spec panelSpec) []chart.Series {
	series := make([]chart.Series, 0, 6)
	agent := spec.agent

	if ys := at(snap.Track.Ys, agent); len(ys) > 0 {
		xs := make([]float64, len(ys))
		gens := atInts(snap.Track.Gens, agent)
		for i := range ys {
			if i < len(gens) {
				xs[i] = float64(gens[i])
			} else if i < len(snap.Track.X) {
				xs[i] = float64(snap.Track.X[i])
			}
		}
		series = append(series, chart.ContinuousSeries{
			Name:    "Pocket Fitness",
			Style:   chart.Style{StrokeColor: pocketColor, StrokeWidth: 2},
			XValues: xs,
			YValues: ys,
		})
	}

	if s, ok := overlaySeries(snap.Mutation, agent, fmt.Sprintf("(%d) Mutate Improve", len(atInts(snap.Mutation.Xs, agent))), pointStyle(mutationColor, 5)); ok {
		series = append(series, s)
	}
	if spec.showBubbles {
		series = append(series, bubbleSeries(snap, agent)...)
	}
	if s, ok := overlaySeries(snap.LocalSearch, agent, fmt.Sprintf("(%d) LS Improve", len(atInts(snap.LocalSearch.Xs, agent))), pointStyle(localSearchColor, 4)); ok {
		series = append(series, s)
	}
	if s, ok := overlaySeries(snap.Recombination, agent, fmt.Sprintf("(%d) Recombine Improve", len(atInts(snap.Recombination.Xs, agent))), pointStyle(recombinationColor, 4)); ok {
		series = append(series, s)
	}
	return series
}

// overlaySeries pairs generations with looked-up fitness values. Entries whose
// fitness lookup missed have no y value and are not drawn.
func overlaySeries(overlay model.Overlay, agent int, name string, style chart.Style) (chart.Series, bool) {
	var xs, ys []float64
	for _, point := range trace.Points(overlay, agent) {
		if !point.HasFitness {
			continue
		}
		xs = append(xs, float64(point.Generation))
		ys = append(ys, point.Fitness)
	}
	if len(xs) == 0 {
		return nil, false
	}
	return chart.ContinuousSeries{
		Name:    name,
		Style:   style,
		XValues: xs,
		YValues: ys,
	}, true
}

func bubbleSeries(snap model.Snapshot, agent int) []chart.Series {
	var counts [3]int
	if agent >= 0 && agent < len(snap.DegreeCounts) {
		counts = snap.DegreeCounts[agent]
	}

	buckets := make([]struct{ xs, ys []float64 }, 3)
	for _, point := range trace.Points(snap.BubbleUp, agent) {
		d := point.Degree
		if !point.HasFitness || !point.HasDegree || d < 0 || int(d) >= len(buckets) {
			continue
		}
		buckets[d].xs = append(buckets[d].xs, float64(point.Generation))
		buckets[d].ys = append(buckets[d].ys, point.Fitness)
	}

	series := make([]chart.Series, 0, 3)
	for d, bucket := range buckets {
		if len(bucket.xs) == 0 {
			continue
		}
		degree := model.Degree(d)
		series = append(series, chart.ContinuousSeries{
			Name:    fmt.Sprintf("(%d) Bubble Up From %s Child", counts[d], trace.DegreeLabel(degree)),
			Style:   pointStyle(DegreeColor(degree), 6),
			XValues: bucket.xs,
			YValues: bucket.ys,
		})
	}
	return series
}

// renderPanel draws one slot to an image. Slots without data render as nil so
// the caller can draw a placeholder.
func renderPanel(snap model.Snapshot, spec panelSpec) (image.Image, error) {
	series := agentSeries(snap, spec)
	if len(series) == 0 {
		return nil, nil
	}

	yMin, yMax := seriesRange(series)
	ch := chart.Chart{
		Title:      fmt.Sprintf("Agent %d", spec.agent),
		Width:      spec.width,
		Height:     spec.height,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}},
		XAxis: chart.XAxis{
			Name:           "Generation",
			Range:          &chart.ContinuousRange{Min: 0, Max: spec.xMax},
			ValueFormatter: intFormatter,
		},
		YAxis: chart.YAxis{
			Name:  "Fitness",
			Range: &chart.ContinuousRange{Min: yMin, Max: yMax},
		},
		Series: series,
	}
	if spec.legend {
		ch.Elements = []chart.Renderable{chart.Legend(&ch)}
	}

	var buf bytes.Buffer
	if err := ch.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render agent %d: %w", spec.agent, err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		return nil, fmt.Errorf("decode agent %d panel: %w", spec.agent, err)
	}
	return img, nil
}

// seriesRange returns a padded, non-degenerate y range over every finite value.
func seriesRange(series []chart.Series) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range series {
		cs, ok := s.(chart.ContinuousSeries)
		if !ok {
			continue
		}
		for _, y := range cs.YValues {
			if math.IsNaN(y) || math.IsInf(y, 0) {
				continue
			}
			lo = math.Min(lo, y)
			hi = math.Max(hi, y)
		}
	}
	if math.IsInf(lo, 1) {
		return 0, 1
	}
	pad := (hi - lo) * 0.1
	if pad == 0 {
		pad = math.Max(math.Abs(hi)*0.1, 1)
	}
	return lo - pad, hi + pad
}

func intFormatter(v interface{}) string {
	if f, ok := v.(float64); ok {
		return fmt.Sprintf("%d", int(math.Round(f)))
	}
	return fmt.Sprintf("%v", v)
}

func at(lists [][]float64, idx int) []float64 {
	if idx < 0 || idx >= len(lists) {
		return nil
	}
	return lists[idx]
}

func atInts(lists [][]int, idx int) []int {
	if idx < 0 || idx >= len(lists) {
		return nil
	}
	return lists[idx]
}
