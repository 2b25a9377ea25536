// Package catalog serves read-only card, character and map definitions from YAML.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/park285/pawnline-match-server/internal/match"
)

//go:embed default.yaml
var defaultYAML []byte

type offsetDoc struct {
	DX    int `yaml:"dx"`
	DY    int `yaml:"dy"`
	Count int `yaml:"count"`
}

type abilityDoc struct {
	Name       string      `yaml:"name"`
	EffectType string      `yaml:"effectType"`
	Value      float64     `yaml:"value"`
	Range      []offsetDoc `yaml:"range"`
}

type cardDoc struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	Power       int         `yaml:"power"`
	PawnCost    int         `yaml:"pawnCost"`
	PawnOffsets []offsetDoc `yaml:"pawnOffsets"`
	Ability     *abilityDoc `yaml:"ability"`
	Image       string      `yaml:"image"`
}

type characterDoc struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Portrait string `yaml:"portrait"`
}

type document struct {
	Cards      []cardDoc      `yaml:"cards"`
	Characters []characterDoc `yaml:"characters"`
	Maps       []match.MapDef `yaml:"maps"`
}

// Catalog is immutable once built; lookups hand out copies so callers may keep them.
type Catalog struct {
	cards      map[string]match.Card
	characters map[string]match.Character
	maps       map[string]match.MapDef
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultYAML)
}

// Load reads path, or the embedded catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse는 YAML 문서에서 카탈로그를 만듦. ID 중복은 오류.
func Parse(b []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	c := &Catalog{
		cards:      make(map[string]match.Card, len(doc.Cards)),
		characters: make(map[string]match.Character, len(doc.Characters)),
		maps:       make(map[string]match.MapDef, len(doc.Maps)),
	}
	for _, d := range doc.Cards {
		card, err := d.toCard()
		if err != nil {
			return nil, err
		}
		if _, dup := c.cards[card.ID]; dup {
			return nil, fmt.Errorf("duplicate card %q", card.ID)
		}
		c.cards[card.ID] = card
	}
	for _, d := range doc.Characters {
		id := strings.TrimSpace(d.ID)
		if id == "" {
			return nil, fmt.Errorf("character without id")
		}
		if _, dup := c.characters[id]; dup {
			return nil, fmt.Errorf("duplicate character %q", id)
		}
		c.characters[id] = match.Character{ID: id, Name: d.Name, Portrait: d.Portrait}
	}
	for _, m := range doc.Maps {
		if err := validateMap(m); err != nil {
			return nil, err
		}
		if _, dup := c.maps[m.ID]; dup {
			return nil, fmt.Errorf("duplicate map %q", m.ID)
		}
		c.maps[m.ID] = m
	}
	return c, nil
}

func (d cardDoc) toCard() (match.Card, error) {
	id := strings.TrimSpace(d.ID)
	if id == "" {
		return match.Card{}, fmt.Errorf("card without id")
	}
	if d.Power < 0 {
		return match.Card{}, fmt.Errorf("card %s: negative power", id)
	}
	if d.PawnCost < 1 || d.PawnCost > match.MaxPawns {
		return match.Card{}, fmt.Errorf("card %s: pawnCost must be 1..%d", id, match.MaxPawns)
	}
	card := match.Card{
		ID:          id,
		Name:        d.Name,
		Power:       d.Power,
		PawnCost:    d.PawnCost,
		PawnOffsets: offsets(d.PawnOffsets),
		Image:       d.Image,
	}
	if d.Ability != nil {
		eff, err := match.ParseEffect(d.Ability.EffectType, d.Ability.Value)
		if err != nil {
			return match.Card{}, fmt.Errorf("card %s: %w", id, err)
		}
		card.Ability = &match.Ability{Name: d.Ability.Name, Effect: eff, Range: offsets(d.Ability.Range)}
	}
	return card, nil
}

func offsets(in []offsetDoc) []match.Offset {
	if len(in) == 0 {
		return nil
	}
	out := make([]match.Offset, len(in))
	for i, o := range in {
		out[i] = match.Offset{DX: o.DX, DY: o.DY, Count: o.Count}
	}
	return out
}

func validateMap(m match.MapDef) error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("map without id")
	}
	if m.Width < 1 || m.Height < 1 {
		return fmt.Errorf("map %s: width and height must be positive", m.ID)
	}
	for _, sq := range m.Specials {
		if sq.X < 0 || sq.X >= m.Width || sq.Y < 0 || sq.Y >= m.Height {
			return fmt.Errorf("map %s: special square (%d,%d) off the board", m.ID, sq.X, sq.Y)
		}
	}
	return nil
}

// Card returns a snapshot of the card; mutating it never affects the catalog.
func (c *Catalog) Card(id string) (match.Card, error) {
	card, ok := c.cards[id]
	if !ok {
		return match.Card{}, fmt.Errorf("unknown card %q", id)
	}
	card.PawnOffsets = append([]match.Offset(nil), card.PawnOffsets...)
	if card.Ability != nil {
		a := *card.Ability
		a.Range = append([]match.Offset(nil), a.Range...)
		card.Ability = &a
	}
	return card, nil
}

func (c *Catalog) Character(id string) (match.Character, error) {
	ch, ok := c.characters[id]
	if !ok {
		return match.Character{}, fmt.Errorf("unknown character %q", id)
	}
	return ch, nil
}

func (c *Catalog) Map(id string) (match.MapDef, error) {
	m, ok := c.maps[id]
	if !ok {
		return match.MapDef{}, fmt.Errorf("unknown map %q", id)
	}
	m.Specials = append([]match.SpecialSquare(nil), m.Specials...)
	return m, nil
}

// Len reports the number of cards, characters and maps.
func (c *Catalog) Len() (cards, characters, maps int) {
	return len(c.cards), len(c.characters), len(c.maps)
}
