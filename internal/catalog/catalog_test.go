package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/pawnline-match-server/internal/match"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	cards, chars, maps := c.Len()
	assert.Equal(t, 10, cards)
	assert.Equal(t, 3, chars)
	assert.Equal(t, 2, maps)

	bard, err := c.Card("bard")
	require.NoError(t, err)
	require.NotNil(t, bard.Ability)
	assert.Equal(t, match.Boost{Amount: 2}, bard.Ability.Effect)

	witch, err := c.Card("witch")
	require.NoError(t, err)
	assert.Equal(t, match.Reduction{Amount: 2}, witch.Ability.Effect)

	m, err := c.Map("crossroads")
	require.NoError(t, err)
	assert.Len(t, m.Specials, 2)

	_, err = c.Card("nope")
	assert.Error(t, err)
	_, err = c.Character("nope")
	assert.Error(t, err)
	_, err = c.Map("nope")
	assert.Error(t, err)
}

func TestCardIsSnapshot(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	a, _ := c.Card("bard")
	a.Power = 99
	a.PawnOffsets[0].DX = 42
	a.Ability.Range[0].DX = 42

	b, _ := c.Card("bard")
	assert.Equal(t, 2, b.Power)
	assert.Equal(t, -1, b.PawnOffsets[0].DX)
	assert.Equal(t, 1, b.Ability.Range[0].DX)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"duplicate card":   "cards:\n  - {id: a, power: 1, pawnCost: 1}\n  - {id: a, power: 1, pawnCost: 1}\n",
		"bad cost":         "cards:\n  - {id: a, power: 1, pawnCost: 5}\n",
		"unknown effect":   "cards:\n  - {id: a, power: 1, pawnCost: 1, ability: {effectType: conditional, value: 1}}\n",
		"empty map":        "maps:\n  - {id: m, width: 0, height: 3}\n",
		"special off grid": "maps:\n  - {id: m, width: 2, height: 2, specials: [{x: 5, y: 0, kind: shrine}]}\n",
		"nameless char":    "characters:\n  - {name: Bob}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cards:\n  - {id: only, power: 3, pawnCost: 1}\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	card, err := c.Card("only")
	require.NoError(t, err)
	assert.Equal(t, 3, card.Power)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
