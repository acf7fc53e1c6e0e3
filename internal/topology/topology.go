package topology

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultSlots   = 13
	DefaultDegree  = 3
	defaultColumns = 9
)

// Cell places a slot on the summary grid.
type Cell struct {
	Row int `yaml:"row" json:"row"`
	Col int `yaml:"col" json:"col"`
}

// Topology describes the fixed population shape: how many agent slots exist,
// who is whose parent, and where each slot is drawn.
type Topology struct {
	Slots   int    `yaml:"slots" json:"slots"`
	Parents []int  `yaml:"parents" json:"parents"`
	Grid    []Cell `yaml:"grid" json:"grid"`
	Rows    int    `yaml:"rows" json:"rows"`
	Columns int    `yaml:"columns" json:"columns"`
}

// Default is the 13-agent ternary tree: one root, three at depth 1, nine at depth 2.
func Default() Topology {
	return Tree(DefaultDegree, 2)
}

// Tree builds a complete tree of the given branching degree and depth. The
// grid puts each depth on its own row with leaves packed left to right and
// parents centred over their children.
func Tree(degree, depth int) Topology {
	if degree < 1 {
		degree = 1
	}
	if depth < 0 {
		depth = 0
	}
	slots := 0
	width := 1
	for d := 0; d <= depth; d++ {
		slots += width
		if d < depth {
			width *= degree
		}
	}
	topo := Topology{
		Slots:   slots,
		Parents: make([]int, slots),
		Grid:    make([]Cell, slots),
		Rows:    depth + 1,
		Columns: width,
	}
	for slot := 0; slot < slots; slot++ {
		if slot == 0 {
			topo.Parents[slot] = -1
			continue
		}
		topo.Parents[slot] = (slot - 1) / degree
	}

	// Leaves span the full width; each level above is centred over its block.
	levelStart := 0
	levelWidth := 1
	for d := 0; d <= depth; d++ {
		span := width / levelWidth
		for i := 0; i < levelWidth; i++ {
			topo.Grid[levelStart+i] = Cell{Row: d, Col: i*span + span/2}
		}
		levelStart += levelWidth
		levelWidth *= degree
	}
	return topo
}

func (t Topology) Valid(slot int) bool {
	return slot >= 0 && slot < t.Slots
}

func (t Topology) Parent(slot int) int {
	if !t.Valid(slot) || slot >= len(t.Parents) {
		return -1
	}
	return t.Parents[slot]
}

func (t Topology) Children(slot int) []int {
	children := make([]int, 0, DefaultDegree)
	for child, parent := range t.Parents {
		if parent == slot && child != slot {
			children = append(children, child)
		}
	}
	return children
}

func (t Topology) Depth(slot int) int {
	depth := 0
	for cur := t.Parent(slot); cur >= 0; cur = t.Parent(cur) {
		depth++
		if depth > t.Slots {
			return -1
		}
	}
	return depth
}

// Cell returns the grid placement of a slot, falling back to a row-major
// layout when the descriptor carries no explicit grid.
func (t Topology) Cell(slot int) Cell {
	if slot >= 0 && slot < len(t.Grid) {
		return t.Grid[slot]
	}
	cols := t.Columns
	if cols <= 0 {
		cols = defaultColumns
	}
	return Cell{Row: slot / cols, Col: slot % cols}
}

// Dimensions returns the grid size needed to draw every slot.
func (t Topology) Dimensions() (rows, cols int) {
	rows, cols = t.Rows, t.Columns
	for slot := 0; slot < t.Slots; slot++ {
		cell := t.Cell(slot)
		if cell.Row+1 > rows {
			rows = cell.Row + 1
		}
		if cell.Col+1 > cols {
			cols = cell.Col + 1
		}
	}
	return rows, cols
}

func (t Topology) Validate() error {
	if t.Slots <= 0 {
		return errors.New("topology requires at least one slot")
	}
	if len(t.Parents) != t.Slots {
		return fmt.Errorf("topology parents length %d does not match slots %d", len(t.Parents), t.Slots)
	}
	roots := 0
	for slot, parent := range t.Parents {
		if parent == -1 {
			roots++
			continue
		}
		if !t.Valid(parent) || parent == slot {
			return fmt.Errorf("topology slot %d has invalid parent %d", slot, parent)
		}
	}
	if roots != 1 {
		return fmt.Errorf("topology must have exactly one root, got %d", roots)
	}
	for slot := 0; slot < t.Slots; slot++ {
		if t.Depth(slot) < 0 {
			return fmt.Errorf("topology slot %d is part of a parent cycle", slot)
		}
	}
	if len(t.Grid) != 0 && len(t.Grid) != t.Slots {
		return fmt.Errorf("topology grid length %d does not match slots %d", len(t.Grid), t.Slots)
	}
	seen := make(map[Cell]int, len(t.Grid))
	for slot, cell := range t.Grid {
		if cell.Row < 0 || cell.Col < 0 {
			return fmt.Errorf("topology slot %d has negative grid cell %+v", slot, cell)
		}
		if prev, ok := seen[cell]; ok {
			return fmt.Errorf("topology slots %d and %d share grid cell %+v", prev, slot, cell)
		}
		seen[cell] = slot
	}
	return nil
}

func LoadFile(path string) (Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Topology{}, err
	}
	var topo Topology
	if err := yaml.Unmarshal(data, &topo); err != nil {
		return Topology{}, fmt.Errorf("decode topology %s: %w", path, err)
	}
	if err := topo.Validate(); err != nil {
		return Topology{}, fmt.Errorf("topology %s: %w", path, err)
	}
	return topo, nil
}
