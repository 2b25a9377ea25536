package pvpmatch

import (
	"context"

	"github.com/park285/pawnline-match-server/internal/match"
)

// Catalog resolves card and map definitions.
type Catalog interface {
	match.CardLookup
	Map(id string) (match.MapDef, error)
	Character(id string) (match.Character, error)
}

// ResultStore persists finalized matches. Saves must be idempotent per match id
// because a failed finalization is retried by the sweeper.
type ResultStore interface {
	SaveResult(ctx context.Context, r *Record) error
}

// CoinLedger credits match rewards. The match id is used as an idempotency key.
type CoinLedger interface {
	Credit(ctx context.Context, c Credit) error
}

type Credit struct {
	MatchID string
	UserID  string
	Coins   int
	Outcome match.Outcome
}

// BoardRenderer draws the final board for the result record.
type BoardRenderer interface {
	RenderPNG(s *match.Session) ([]byte, error)
}

// ExpiryNotifier is told about matches the sweeper abandoned, before their session is removed.
type ExpiryNotifier interface {
	MatchExpired(ctx context.Context, s *match.Session)
}
