package match

// Board is a Height x Width grid stored row-major: Cells[y][x].
type Board struct {
	Width  int      `json:"width"`
	Height int      `json:"height"`
	Cells  [][]Cell `json:"cells"`
}

// MapDef is the slice of a catalog map the engine needs.
type MapDef struct {
	ID       string          `json:"id" yaml:"id"`
	Name     string          `json:"name" yaml:"name"`
	Width    int             `json:"width" yaml:"width"`
	Height   int             `json:"height" yaml:"height"`
	Specials []SpecialSquare `json:"specials,omitempty" yaml:"specials"`
}

type SpecialSquare struct {
	X     int     `json:"x" yaml:"x"`
	Y     int     `json:"y" yaml:"y"`
	Kind  string  `json:"kind" yaml:"kind"`
	Value float64 `json:"value,omitempty" yaml:"value"`
}

const (
	defaultWidth  = 6
	defaultHeight = 3
)

// InitializeBoard builds an empty grid from m. home starts with one pawn at the center
// of the last row and away with one pawn at the center of the first row.
func InitializeBoard(m MapDef, home, away string) Board {
	w, h := m.Width, m.Height
	if w <= 0 {
		w = defaultWidth
	}
	if h <= 0 {
		h = defaultHeight
	}
	b := Board{Width: w, Height: h, Cells: make([][]Cell, h)}
	for y := 0; y < h; y++ {
		row := make([]Cell, w)
		for x := 0; x < w; x++ {
			row[x] = Cell{X: x, Y: y, Pawns: map[string]int{}}
		}
		b.Cells[y] = row
	}
	for _, sq := range m.Specials {
		if c := b.At(Coord{X: sq.X, Y: sq.Y}); c != nil {
			c.Special = &Special{Kind: sq.Kind, Value: sq.Value}
		}
	}
	center := w / 2
	b.Cells[h-1][center].Pawns[home] = 1
	b.Cells[0][center].Pawns[away] = 1
	return b
}

func (b *Board) In(c Coord) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < b.Width && c.Y < b.Height
}

// At returns the cell at c, or nil when c is off the board.
func (b *Board) At(c Coord) *Cell {
	if !b.In(c) || len(b.Cells) <= c.Y || len(b.Cells[c.Y]) <= c.X {
		return nil
	}
	return &b.Cells[c.Y][c.X]
}

// orient converts an owner-relative offset to an absolute delta. Away players look at
// the board rotated by 180 degrees, so both axes flip for them.
func orient(side Side, o Offset) (dx, dy int) {
	if side == SideAway {
		return -o.DX, -o.DY
	}
	return o.DX, o.DY
}

// resolve maps offsets from origin to in-bounds absolute cells; the rest are dropped.
func (b *Board) resolve(side Side, origin Coord, offsets []Offset) []Coord {
	out := make([]Coord, 0, len(offsets))
	for _, o := range offsets {
		dx, dy := orient(side, o)
		c := Coord{X: origin.X + dx, Y: origin.Y + dy}
		if b.In(c) {
			out = append(out, c)
		}
	}
	return out
}

func containsCoord(list []Coord, c Coord) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}
