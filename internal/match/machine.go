package match

import (
	"strings"
	"time"
)

// Seat is what the lobby hands over for one participant.
type Seat struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	Avatar      string    `json:"avatar,omitempty"`
	Character   Character `json:"character"`
	Deck        []string  `json:"deck"`
}

// Setup describes a match about to start. Home is seated first.
type Setup struct {
	MatchID string
	LobbyID string
	Map     MapDef
	Home    Seat
	Away    Seat
}

// Rewards are the coins granted at finalization.
type Rewards struct {
	Win        int
	ForfeitWin int
	AgreedWin  int
}

// DefaultRewards matches the live economy: two coins for a win, one for a forfeit win
// or an agreed early end.
var DefaultRewards = Rewards{Win: 2, ForfeitWin: 1, AgreedWin: 1}

// Engine runs the phase state machine over a Session. It holds no session state itself;
// callers load, mutate through Engine, and write back.
type Engine struct {
	rng     Randomizer
	cards   CardLookup
	rewards Rewards
	now     func() time.Time
}

func NewEngine(rng Randomizer, cards CardLookup, rewards Rewards) *Engine {
	if rng == nil {
		rng = NewRandom()
	}
	return &Engine{rng: &lockedRand{r: rng}, cards: cards, rewards: rewards, now: time.Now}
}

// WithClock replaces the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// NewSession shuffles both decks, deals opening hands and seeds the board.
func (e *Engine) NewSession(st Setup) (*Session, error) {
	home, away := strings.TrimSpace(st.Home.ID), strings.TrimSpace(st.Away.ID)
	if home == "" || away == "" || home == away {
		return nil, errorf(KindInvalidRequest, "a match needs two distinct participants")
	}
	if strings.TrimSpace(st.MatchID) == "" {
		return nil, errorf(KindInvalidRequest, "match id required")
	}
	now := e.now()
	s := &Session{
		ID:        st.MatchID,
		LobbyID:   st.LobbyID,
		MapID:     st.Map.ID,
		Phase:     PhaseDiceRoll,
		Status:    StatusPlaying,
		Board:     InitializeBoard(st.Map, home, away),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, seat := range []struct {
		s    Seat
		side Side
	}{{st.Home, SideHome}, {st.Away, SideAway}} {
		p := &Participant{
			ID:          strings.TrimSpace(seat.s.ID),
			Username:    seat.s.Username,
			DisplayName: seat.s.DisplayName,
			Avatar:      seat.s.Avatar,
			Side:        seat.side,
			Character:   seat.s.Character,
			Hand:        []Card{},
			Deck:        append([]string(nil), seat.s.Deck...),
			Decklist:    append([]string(nil), seat.s.Deck...),
			RowScores:   make([]float64, s.Board.Height),
		}
		if err := ShuffleAndDeal(e.rng, p, e.cards); err != nil {
			return nil, err
		}
		s.Participants = append(s.Participants, p)
	}
	return s, nil
}

// RollResult reports a dice submission.
type RollResult struct {
	Value int `json:"value"`
	// Rolls holds both values once both participants rolled, including on a tie.
	Rolls     map[string]int `json:"rolls,omitempty"`
	Waiting   bool           `json:"waiting"`
	Tie       bool           `json:"tie"`
	FirstTurn string         `json:"firstTurn,omitempty"`
}

// Roll records one die for participantID. A tie resets both rolls and stays in dice_roll;
// otherwise the higher roller opens turn 1.
func (e *Engine) Roll(s *Session, participantID string) (RollResult, error) {
	p := s.Participant(participantID)
	if p == nil {
		return RollResult{}, ErrParticipantNotInMatch
	}
	if s.Phase != PhaseDiceRoll {
		return RollResult{}, errorf(KindWrongPhase, "cannot roll during %s", s.Phase)
	}
	if p.HasRolled {
		return RollResult{}, ErrAlreadyRolled
	}
	o := s.Opponent(participantID)

	v := e.rng.IntN(DiceFace) + 1
	p.DiceRoll = &v
	p.HasRolled = true
	e.touch(s)

	res := RollResult{Value: v}
	if !o.HasRolled || o.DiceRoll == nil {
		res.Waiting = true
		return res, nil
	}
	other := *o.DiceRoll
	res.Rolls = map[string]int{p.ID: v, o.ID: other}
	// 동점이면 둘 다 다시 굴림
	if other == v {
		p.DiceRoll, o.DiceRoll = nil, nil
		p.HasRolled, o.HasRolled = false, false
		res.Tie = true
		return res, nil
	}
	first := p
	if other > v {
		first = o
	}
	s.CurrentTurn = first.ID
	s.TurnNumber = 1
	s.Phase = PhasePlaying
	s.Status = StatusPlaying
	res.FirstTurn = first.ID
	return res, nil
}

// TurnResult reports a play or skip.
type TurnResult struct {
	Card  *Card `json:"card,omitempty"`
	At    Coord `json:"at"`
	Drew  bool  `json:"drew"`
	Ended bool  `json:"ended"`
}

// PlayCard places the card at handIndex on at (absolute) for the current player.
func (e *Engine) PlayCard(s *Session, participantID string, handIndex int, cardID string, at Coord) (TurnResult, error) {
	if err := requireTurn(s, participantID); err != nil {
		return TurnResult{}, err
	}
	// 배치 검증 후 적용
	if err := ValidatePlacement(s, participantID, handIndex, cardID, at); err != nil {
		return TurnResult{}, err
	}
	card := ApplyPlacement(s, participantID, handIndex, at)
	RecomputeScores(s)
	e.touch(s)

	res := TurnResult{Card: &card, At: at}
	if endConditionMet(s) {
		e.complete(s)
		res.Ended = true
		return res, nil
	}
	drew, err := e.passTurn(s, participantID)
	if err != nil {
		return TurnResult{}, err
	}
	res.Drew = drew
	return res, nil
}

// SkipTurn passes without placing anything.
func (e *Engine) SkipTurn(s *Session, participantID string) (TurnResult, error) {
	if err := requireTurn(s, participantID); err != nil {
		return TurnResult{}, err
	}
	drew, err := e.passTurn(s, participantID)
	if err != nil {
		return TurnResult{}, err
	}
	e.touch(s)
	res := TurnResult{Drew: drew}
	if endConditionMet(s) {
		e.complete(s)
		res.Ended = true
	}
	return res, nil
}

// Forfeit ends a running match in favor of the other participant using the scores as
// they stand. Only the winner is paid.
func (e *Engine) Forfeit(s *Session, participantID string) error {
	if s.Participant(participantID) == nil {
		return ErrParticipantNotInMatch
	}
	if s.Ended() {
		return errorf(KindWrongPhase, "match already ended")
	}
	RecomputeScores(s)
	winner := s.Opponent(participantID) // 기권하면 상대 승리, 보상도 상대만
	winner.CoinsEarned = e.rewards.ForfeitWin
	e.finish(s, winner.ID, StatusAbandoned, EndForfeit)
	return nil
}

// Expire abandons an idle match without a winner. It reports false if already ended.
func (e *Engine) Expire(s *Session) bool {
	if s.Ended() {
		return false
	}
	RecomputeScores(s)
	e.finish(s, "", StatusAbandoned, EndExpired)
	return true
}

func requireTurn(s *Session, participantID string) error {
	if s.Participant(participantID) == nil {
		return ErrParticipantNotInMatch
	}
	if s.Phase != PhasePlaying {
		return errorf(KindWrongPhase, "match is in %s", s.Phase)
	}
	if s.CurrentTurn != participantID {
		return ErrNotYourTurn
	}
	return nil
}

// endConditionMet는 양쪽 모두 덱과 손패가 비었는지 확인.
func endConditionMet(s *Session) bool {
	for _, p := range s.Participants {
		if !outOfCards(p) {
			return false
		}
	}
	return true
}

// passTurn draws for the opponent of actor when possible and hands them the turn.
func (e *Engine) passTurn(s *Session, actor string) (bool, error) {
	o := s.Opponent(actor)
	drew, err := Draw(o, e.cards)
	if err != nil {
		return false, err
	}
	s.CurrentTurn = o.ID
	s.TurnNumber++
	return drew, nil
}

func (e *Engine) complete(s *Session) {
	winner := ""
	if l := Leader(s); l != nil {
		winner = l.ID
		l.CoinsEarned = e.rewards.Win
	}
	e.finish(s, winner, StatusCompleted, EndCompleted)
}

func (e *Engine) finish(s *Session, winner string, status Status, reason EndReason) {
	s.Phase = PhaseEnded
	s.Status = status
	s.Winner = winner
	s.EndReason = reason
	s.EndedAt = e.now()
	s.UpdatedAt = s.EndedAt
}

func (e *Engine) touch(s *Session) { s.UpdatedAt = e.now() }

// Outcome is a participant's stat line for a finished match.
type Outcome string

const (
	OutcomeWin       Outcome = "win"
	OutcomeLoss      Outcome = "loss"
	OutcomeDraw      Outcome = "draw"
	OutcomeAbandoned Outcome = "abandoned"
)

// OutcomeFor classifies how the match ended for participantID.
func OutcomeFor(s *Session, participantID string) Outcome {
	switch {
	case s.EndReason == EndExpired:
		return OutcomeAbandoned
	case s.Winner == "":
		return OutcomeDraw
	case s.Winner == participantID:
		return OutcomeWin
	default:
		return OutcomeLoss
	}
}
