package render

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"evoviz/internal/model"
	"evoviz/internal/topology"
)

const (
	DefaultPanelWidth  = 480
	DefaultPanelHeight = 320
	titleBand          = 28
)

var (
	background  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	textColor   = color.RGBA{R: 20, G: 20, B: 20, A: 255}
	placeholder = color.RGBA{R: 236, G: 236, B: 236, A: 255}
)

// GridRenderer lays one chart panel per topology slot onto a single frame.
type GridRenderer struct {
	Topology    topology.Topology
	PanelWidth  int
	PanelHeight int
	Title       string
}

func NewGridRenderer(topo topology.Topology, title string) *GridRenderer {
	return &GridRenderer{
		Topology:    topo,
		PanelWidth:  DefaultPanelWidth,
		PanelHeight: DefaultPanelHeight,
		Title:       title,
	}
}

// Size returns the pixel size of every frame this renderer produces.
func (g *GridRenderer) Size() (int, int) {
	rows, cols := g.Topology.Dimensions()
	return cols * g.panelWidth(), rows*g.panelHeight() + titleBand
}

func (g *GridRenderer) Render(ctx context.Context, snap model.Snapshot) (image.Image, error) {
	width, height := g.Size()
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	xMax := float64(snap.Cutoff)
	if xMax < 1 {
		xMax = 1
	}
	for slot := 0; slot < g.Topology.Slots; slot++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cell := g.Topology.Cell(slot)
		origin := image.Pt(cell.Col*g.panelWidth(), cell.Row*g.panelHeight()+titleBand)
		rect := image.Rectangle{Min: origin, Max: origin.Add(image.Pt(g.panelWidth(), g.panelHeight()))}

		panel, err := renderPanel(snap, panelSpec{
			agent:       slot,
			width:       g.panelWidth(),
			height:      g.panelHeight(),
			showBubbles: len(g.Topology.Children(slot)) > 0,
			xMax:        xMax,
			legend:      true,
		})
		if err != nil {
			return nil, err
		}
		if panel == nil {
			emptyPanel(canvas, rect, slot)
			continue
		}
		draw.Draw(canvas, rect, panel, panel.Bounds().Min, draw.Src)
	}

	drawText(canvas, g.caption(snap), 8, titleBand-9)
	return canvas, nil
}

func (g *GridRenderer) caption(snap model.Snapshot) string {
	parts := make([]string, 0, 2)
	if title := strings.TrimSpace(g.Title); title != "" {
		parts = append(parts, title)
	}
	if snap.Final {
		parts = append(parts, fmt.Sprintf("final, generation %d", snap.Generation))
	} else {
		parts = append(parts, fmt.Sprintf("generation %d", snap.Generation))
	}
	return strings.Join(parts, " - ")
}

func (g *GridRenderer) panelWidth() int {
	if g.PanelWidth <= 0 {
		return DefaultPanelWidth
	}
	return g.PanelWidth
}

func (g *GridRenderer) panelHeight() int {
	if g.PanelHeight <= 0 {
		return DefaultPanelHeight
	}
	return g.PanelHeight
}

func emptyPanel(dst draw.Image, rect image.Rectangle, slot int) {
	inner := rect.Inset(4)
	draw.Draw(dst, inner, image.NewUniform(placeholder), image.Point{}, draw.Src)
	drawText(dst, fmt.Sprintf("Agent %d (no data)", slot), inner.Min.X+8, inner.Min.Y+18)
}

func drawText(dst draw.Image, text string, x, y int) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(textColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
