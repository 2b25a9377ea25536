package match

import "time"

// Phase is the state machine position. Transitions only move forward.
type Phase string

const (
	PhaseDiceRoll Phase = "dice_roll"
	PhasePlaying  Phase = "playing"
	PhaseEnded    Phase = "ended"
)

// Status describes how a match is (or was) going.
type Status string

const (
	StatusPlaying   Status = "playing"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// Side is the absolute seat assigned at creation. It never changes.
type Side string

const (
	SideHome Side = "home"
	SideAway Side = "away"
)

// EndReason records why a match reached PhaseEnded.
type EndReason string

const (
	EndCompleted EndReason = "completed"
	EndForfeit   EndReason = "forfeit"
	EndExpired   EndReason = "expired"
	// EndAgreed means both participants voted to stop with the scores as they stood.
	EndAgreed EndReason = "agreed"
)

const (
	MaxPawns = 4
	HandSize = 5
	DiceFace = 6
)

// Coord is an absolute board coordinate; X is the column and Y the row.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Offset is relative to the card's own cell, authored from its owner's point of view.
// Count is only used by pawn offsets; zero means one pawn.
type Offset struct {
	DX    int `json:"dx"`
	DY    int `json:"dy"`
	Count int `json:"count,omitempty"`
}

// Card is a snapshot of a catalog card taken at draw time.
type Card struct {
	ID          string   `json:"cardId"`
	Name        string   `json:"name"`
	Power       int      `json:"power"`
	PawnCost    int      `json:"pawnCost"`
	PawnOffsets []Offset `json:"pawnOffsets,omitempty"`
	Ability     *Ability `json:"ability,omitempty"`
	Image       string   `json:"image,omitempty"`
}

// Character is the read-only character pick for a participant.
type Character struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Portrait string `json:"portrait,omitempty"`
}

// Special is a map-defined square modifier copied onto the cell.
type Special struct {
	Kind  string  `json:"kind"`
	Value float64 `json:"value,omitempty"`
}

type Cell struct {
	X       int            `json:"x"`
	Y       int            `json:"y"`
	Card    *Card          `json:"card,omitempty"`
	Owner   string         `json:"owner,omitempty"`
	Pawns   map[string]int `json:"pawns"`
	Special *Special       `json:"special,omitempty"`
	// AbilityCells is the absolute range of the placed card's ability.
	AbilityCells []Coord       `json:"abilityCells,omitempty"`
	Effects      []EffectClass `json:"effects,omitempty"`
}

type Participant struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	Avatar      string    `json:"avatar,omitempty"`
	Side        Side      `json:"side"`
	Character   Character `json:"character"`
	Hand        []Card    `json:"hand"`
	Deck        []string  `json:"deck"`
	// Decklist is the deck as handed over at creation, kept for rematches.
	Decklist    []string  `json:"decklist,omitempty"`
	DiceRoll    *int      `json:"diceRoll"`
	HasRolled   bool      `json:"hasRolled"`
	RowScores   []float64 `json:"rowScores"`
	TotalScore  float64   `json:"totalScore"`
	CoinsEarned int       `json:"coinsEarned"`
}

// Session is the single authoritative state of one match. EndVote holds the participant
// waiting for the opponent to agree to an early end.
type Session struct {
	ID           string         `json:"id"`
	LobbyID      string         `json:"lobbyId"`
	MapID        string         `json:"mapId"`
	Phase        Phase          `json:"phase"`
	Status       Status         `json:"status"`
	CurrentTurn  string         `json:"currentTurn,omitempty"`
	TurnNumber   int            `json:"turnNumber"`
	Winner       string         `json:"winner,omitempty"`
	EndReason    EndReason      `json:"endReason,omitempty"`
	EndVote      string         `json:"endVote,omitempty"`
	Participants []*Participant `json:"participants"`
	Board        Board          `json:"board"`
	Version      int64          `json:"version"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	EndedAt      time.Time      `json:"endedAt,omitzero"`
	// ExpiresAt is refreshed by the store on every write.
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

// ExpiredAt reports whether the session's idle deadline has passed at now.
func (s *Session) ExpiredAt(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Participant returns the participant with id, or nil.
func (s *Session) Participant(id string) *Participant {
	if s == nil || id == "" {
		return nil
	}
	for _, p := range s.Participants {
		if p != nil && p.ID == id {
			return p
		}
	}
	return nil
}

// Opponent returns the other participant of id, or nil when id does not play.
func (s *Session) Opponent(id string) *Participant {
	if s.Participant(id) == nil {
		return nil
	}
	for _, p := range s.Participants {
		if p != nil && p.ID != id {
			return p
		}
	}
	return nil
}

// Home and Away return the participant seated on that side.
func (s *Session) Home() *Participant { return s.bySide(SideHome) }
func (s *Session) Away() *Participant { return s.bySide(SideAway) }

func (s *Session) bySide(side Side) *Participant {
	for _, p := range s.Participants {
		if p != nil && p.Side == side {
			return p
		}
	}
	return nil
}

func (s *Session) Ended() bool { return s != nil && s.Phase == PhaseEnded }

// Duration is the time from creation until the end, or until now while running.
func (s *Session) Duration(now time.Time) time.Duration {
	end := s.EndedAt
	if end.IsZero() {
		end = now
	}
	d := end.Sub(s.CreatedAt)
	if d < 0 {
		return 0
	}
	return d
}
