package match

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"sync"
)

// Randomizer is the source of dice and shuffles. *rand.Rand satisfies it.
type Randomizer interface {
	IntN(n int) int
	Shuffle(n int, swap func(i, j int))
}

// NewRandom returns a PCG generator seeded from crypto/rand.
func NewRandom() *rand.Rand {
	var seed [16]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(binary.LittleEndian.Uint64(seed[:8]), binary.LittleEndian.Uint64(seed[8:])))
}

// lockedRand serializes access so one Engine can serve many matches at once.
type lockedRand struct {
	mu sync.Mutex
	r  Randomizer
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

func (l *lockedRand) Shuffle(n int, swap func(i, j int)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.r.Shuffle(n, swap)
}

// CardLookup resolves catalog card ids into snapshots at draw time.
type CardLookup interface {
	Card(id string) (Card, error)
}

// ShuffleDeck permutes ids in place uniformly.
func ShuffleDeck(r Randomizer, ids []string) {
	r.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
}

// Draw moves the front of p's deck into p's hand. It reports false on an empty deck.
func Draw(p *Participant, cards CardLookup) (bool, error) {
	if len(p.Deck) == 0 {
		return false, nil
	}
	id := p.Deck[0]
	card, err := cards.Card(id)
	if err != nil {
		return false, fmt.Errorf("draw %s: %w", id, err)
	}
	p.Deck = p.Deck[1:]
	p.Hand = append(p.Hand, card)
	return true, nil
}

// ShuffleAndDeal shuffles p's deck and draws the opening hand.
func ShuffleAndDeal(r Randomizer, p *Participant, cards CardLookup) error {
	ShuffleDeck(r, p.Deck)
	for i := 0; i < HandSize; i++ {
		ok, err := Draw(p, cards)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}
	return nil
}

func outOfCards(p *Participant) bool { return len(p.Hand) == 0 && len(p.Deck) == 0 }
