// Package boardimg draws the final board of a match as a PNG for the result record.
package boardimg

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strconv"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/pawnline-match-server/internal/match"
)

var (
	backgroundColor = color.NRGBA{R: 28, G: 31, B: 46, A: 255}
	emptyCellColor  = color.NRGBA{R: 233, G: 226, B: 206, A: 255}
	altCellColor    = color.NRGBA{R: 218, G: 208, B: 184, A: 255}
	specialColor    = color.NRGBA{R: 240, G: 196, B: 64, A: 120}
	homeColor       = color.NRGBA{R: 74, G: 134, B: 232, A: 255}
	awayColor       = color.NRGBA{R: 226, G: 92, B: 84, A: 255}
	textPrimary     = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	textOnCard      = color.NRGBA{R: 20, G: 20, B: 28, A: 255}
)

// Renderer is safe for concurrent use; glyphs are cached across calls.
type Renderer struct {
	cellSize int
}

type Option func(*Renderer)

// WithCellSize sets the pixel size of one board cell.
func WithCellSize(px int) Option {
	return func(r *Renderer) {
		if px >= 24 {
			r.cellSize = px
		}
	}
}

func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{cellSize: 72}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RenderPNG draws s in absolute orientation: home at the bottom. Row scores are shown
// at the left for home and at the right for away.
func (r *Renderer) RenderPNG(s *match.Session) ([]byte, error) {
	if s == nil || s.Board.Width == 0 || s.Board.Height == 0 {
		return nil, fmt.Errorf("board is empty")
	}
	const (
		headerHeight = 40
		scoreColumn  = 56
		margin       = 16
	)
	cs := r.cellSize
	b := &s.Board
	boardW, boardH := b.Width*cs, b.Height*cs
	totalW := margin*2 + scoreColumn*2 + boardW
	totalH := margin*2 + headerHeight + boardH
	origin := image.Point{X: margin + scoreColumn, Y: margin + headerHeight}

	img := image.NewRGBA(image.Rect(0, 0, totalW, totalH))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	drawer := &font.Drawer{Dst: img, Face: basicfont.Face7x13}
	drawHeader(drawer, s, image.Rect(margin, margin, totalW-margin, margin+headerHeight))

	home, away := s.Home(), s.Away()
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			rect := cellRect(origin, cs, x, y)
			if err := r.drawCell(img, drawer, &b.Cells[y][x], rect, home, away); err != nil {
				return nil, err
			}
		}
		rowMid := origin.Y + y*cs + cs/2
		if home != nil && y < len(home.RowScores) {
			drawCentered(drawer, formatScore(home.RowScores[y]), margin+scoreColumn/2, rowMid+4, homeColor)
		}
		if away != nil && y < len(away.RowScores) {
			drawCentered(drawer, formatScore(away.RowScores[y]), origin.X+boardW+scoreColumn/2, rowMid+4, awayColor)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) drawCell(img *image.RGBA, drawer *font.Drawer, cell *match.Cell, rect image.Rectangle, home, away *match.Participant) error {
	bg := emptyCellColor
	if (cell.X+cell.Y)%2 == 1 {
		bg = altCellColor
	}
	imagedraw.Draw(img, rect.Inset(1), image.NewUniform(bg), image.Point{}, imagedraw.Src)
	if cell.Special != nil {
		imagedraw.Draw(img, rect.Inset(1), image.NewUniform(specialColor), image.Point{}, imagedraw.Over)
	}

	cs := rect.Dx()
	if cell.Card != nil {
		glyph, err := renderGlyph(glyphCard, ownerColor(cell.Owner, home, away), cs*3/4)
		if err != nil {
			return err
		}
		at := rect.Min.Add(image.Pt(cs/8, cs/8))
		imagedraw.Draw(img, glyph.Bounds().Add(at), glyph, image.Point{}, imagedraw.Over)
		drawCentered(drawer, strconv.Itoa(cell.Card.Power), rect.Min.X+cs/2, rect.Min.Y+cs/2, textOnCard)
	}

	// 칸 아래쪽에 폰 개수만큼 표시
	pawnSize := cs / 5
	px := rect.Min.X + 2
	for _, p := range []*match.Participant{home, away} {
		if p == nil {
			continue
		}
		n := cell.Pawns[p.ID]
		if n == 0 {
			continue
		}
		glyph, err := renderGlyph(glyphPawn, ownerColor(p.ID, home, away), pawnSize)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			at := image.Pt(px, rect.Max.Y-pawnSize-2)
			imagedraw.Draw(img, glyph.Bounds().Add(at), glyph, image.Point{}, imagedraw.Over)
			px += pawnSize - 2
		}
	}

	markerSize := cs / 5
	mx := rect.Max.X - markerSize - 2
	for _, eff := range cell.Effects {
		kind := glyphBuff
		if eff == match.EffectDebuff {
			kind = glyphDebuff
		}
		glyph, err := renderGlyph(kind, color.NRGBA{}, markerSize)
		if err != nil {
			return err
		}
		imagedraw.Draw(img, glyph.Bounds().Add(image.Pt(mx, rect.Min.Y+2)), glyph, image.Point{}, imagedraw.Over)
		mx -= markerSize
	}
	return nil
}

func drawHeader(drawer *font.Drawer, s *match.Session, rect image.Rectangle) {
	home, away := s.Home(), s.Away()
	if home == nil || away == nil {
		return
	}
	mid := rect.Min.Y + rect.Dy()/2 + 4
	left := fmt.Sprintf("%s %s", displayName(home), formatScore(home.TotalScore))
	right := fmt.Sprintf("%s %s", formatScore(away.TotalScore), displayName(away))
	drawCentered(drawer, left, rect.Min.X+rect.Dx()/4, mid, homeColor)
	drawCentered(drawer, "vs", rect.Min.X+rect.Dx()/2, mid, textPrimary)
	drawCentered(drawer, right, rect.Min.X+rect.Dx()*3/4, mid, awayColor)
}

func displayName(p *match.Participant) string {
	if n := strings.TrimSpace(p.DisplayName); n != "" {
		return n
	}
	if n := strings.TrimSpace(p.Username); n != "" {
		return n
	}
	return p.ID
}

func ownerColor(id string, home, away *match.Participant) color.NRGBA {
	if away != nil && id == away.ID {
		return awayColor
	}
	if home != nil && id == home.ID {
		return homeColor
	}
	return emptyCellColor
}

func cellRect(origin image.Point, cs, x, y int) image.Rectangle {
	tl := origin.Add(image.Pt(x*cs, y*cs))
	return image.Rectangle{Min: tl, Max: tl.Add(image.Pt(cs, cs))}
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func drawCentered(drawer *font.Drawer, text string, centerX, baseline int, clr color.Color) {
	if text == "" {
		return
	}
	width := drawer.MeasureString(text).Round()
	drawer.Src = image.NewUniform(clr)
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}
