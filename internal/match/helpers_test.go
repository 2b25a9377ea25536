package match

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type cardMap map[string]Card

func (m cardMap) Card(id string) (Card, error) {
	c, ok := m[id]
	if !ok {
		return Card{}, fmt.Errorf("unknown card %s", id)
	}
	return c, nil
}

// scriptedRand returns queued die faces and never shuffles.
type scriptedRand struct {
	faces []int
}

func (r *scriptedRand) IntN(n int) int {
	if len(r.faces) == 0 {
		return 0
	}
	f := r.faces[0]
	r.faces = r.faces[1:]
	return f - 1
}

func (r *scriptedRand) Shuffle(int, func(i, j int)) {}

var testClock = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(cards cardMap, faces ...int) *Engine {
	return NewEngine(&scriptedRand{faces: faces}, cards, DefaultRewards).
		WithClock(func() time.Time { return testClock })
}

// newTestSession deals the given decks to "home" and "away" on a 6x3 board.
func newTestSession(t *testing.T, cards cardMap, homeDeck, awayDeck []string, faces ...int) (*Engine, *Session) {
	t.Helper()
	e := newTestEngine(cards, faces...)
	s, err := e.NewSession(Setup{
		MatchID: "m1",
		LobbyID: "l1",
		Map:     MapDef{ID: "map1", Width: 6, Height: 3},
		Home:    Seat{ID: "home", DisplayName: "Home", Deck: homeDeck},
		Away:    Seat{ID: "away", DisplayName: "Away", Deck: awayDeck},
	})
	require.NoError(t, err)
	return e, s
}

// startPlaying skips the dice phase.
func startPlaying(s *Session, first string) {
	s.Phase = PhasePlaying
	s.CurrentTurn = first
	s.TurnNumber = 1
}

func deckOf(id string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = id
	}
	return out
}
