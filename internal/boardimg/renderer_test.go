package boardimg

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/pawnline-match-server/internal/match"
)

func finishedSession() *match.Session {
	s := &match.Session{
		ID:    "m1",
		Phase: match.PhaseEnded,
		Board: match.InitializeBoard(match.MapDef{ID: "meadow", Width: 6, Height: 3}, "u1", "u2"),
		Participants: []*match.Participant{
			{ID: "u1", DisplayName: "Ann", Side: match.SideHome, RowScores: []float64{0, 0, 3}, TotalScore: 3},
			{ID: "u2", DisplayName: "Bo", Side: match.SideAway, RowScores: []float64{2, 0, 0}, TotalScore: 2},
		},
	}
	home := s.Board.At(match.Coord{X: 3, Y: 2})
	home.Card = &match.Card{ID: "c3", Power: 3}
	home.Owner = "u1"
	home.Effects = []match.EffectClass{match.EffectBuff}
	away := s.Board.At(match.Coord{X: 0, Y: 0})
	away.Card = &match.Card{ID: "c1", Power: 2}
	away.Owner = "u2"
	s.Board.At(match.Coord{X: 1, Y: 1}).Pawns["u1"] = 3
	return s
}

func TestRenderPNG(t *testing.T) {
	r := NewRenderer(WithCellSize(72))
	out, err := r.RenderPNG(finishedSession())
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 16*2+56*2+6*72, img.Bounds().Dx())
	assert.Equal(t, 16*2+40+3*72, img.Bounds().Dy())

	// lower body of each card glyph carries its owner's color
	originX, originY := 16+56, 16+40
	hr, _, hb, _ := img.At(originX+3*72+36, originY+2*72+52).RGBA()
	assert.Greater(t, hb, hr, "home card should be blue")
	ar, _, ab, _ := img.At(originX+36, originY+52).RGBA()
	assert.Greater(t, ar, ab, "away card should be red")
}

func TestRenderRejectsEmptyBoard(t *testing.T) {
	_, err := NewRenderer().RenderPNG(&match.Session{})
	assert.Error(t, err)
	_, err = NewRenderer().RenderPNG(nil)
	assert.Error(t, err)
}

func TestGlyphCache(t *testing.T) {
	a, err := renderGlyph(glyphPawn, homeColor, 20)
	require.NoError(t, err)
	b, err := renderGlyph(glyphPawn, homeColor, 20)
	require.NoError(t, err)
	assert.Same(t, a, b)
}
