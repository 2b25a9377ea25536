package pvpmatch

import (
	"encoding/json"
	"time"

	"github.com/park285/pawnline-match-server/internal/match"
)

// Record is the finalized form of a match, written once the session reaches ended.
type Record struct {
	MatchID    string
	LobbyID    string
	MapID      string
	Status     match.Status
	EndReason  match.EndReason
	WinnerID   string
	Home       SeatResult
	Away       SeatResult
	TurnNumber int
	// Board is the final absolute board as JSON.
	Board      json.RawMessage
	BoardPNG   []byte
	StartedAt  time.Time
	EndedAt    time.Time
	DurationMS int64
}

type SeatResult struct {
	UserID      string
	DisplayName string
	Score       float64
	RowScores   []float64
	Coins       int
	Outcome     match.Outcome
}

func seatResult(s *match.Session, p *match.Participant) SeatResult {
	if p == nil {
		return SeatResult{}
	}
	return SeatResult{
		UserID:      p.ID,
		DisplayName: p.DisplayName,
		Score:       p.TotalScore,
		RowScores:   append([]float64(nil), p.RowScores...),
		Coins:       p.CoinsEarned,
		Outcome:     match.OutcomeFor(s, p.ID),
	}
}

// NewRecord snapshots an ended session. png may be nil.
func NewRecord(s *match.Session, png []byte) (*Record, error) {
	board, err := json.Marshal(s.Board)
	if err != nil {
		return nil, err
	}
	ended := s.EndedAt
	if ended.IsZero() {
		ended = s.UpdatedAt
	}
	return &Record{
		MatchID:    s.ID,
		LobbyID:    s.LobbyID,
		MapID:      s.MapID,
		Status:     s.Status,
		EndReason:  s.EndReason,
		WinnerID:   s.Winner,
		Home:       seatResult(s, s.Home()),
		Away:       seatResult(s, s.Away()),
		TurnNumber: s.TurnNumber,
		Board:      board,
		BoardPNG:   png,
		StartedAt:  s.CreatedAt,
		EndedAt:    ended,
		DurationMS: s.Duration(ended).Milliseconds(),
	}, nil
}
