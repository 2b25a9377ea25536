package match

// ValidatePlacement checks that participantID may play the card at handIndex onto at.
// cardID is optional; when set it must match the card at handIndex.
func ValidatePlacement(s *Session, participantID string, handIndex int, cardID string, at Coord) error {
	p := s.Participant(participantID)
	if p == nil {
		return ErrParticipantNotInMatch
	}
	if handIndex < 0 || handIndex >= len(p.Hand) {
		return errorf(KindInvalidCard, "hand index %d out of range", handIndex)
	}
	// 손패 확인
	card := p.Hand[handIndex]
	if cardID != "" && card.ID != cardID {
		return errorf(KindInvalidCard, "card %s is not at hand index %d", cardID, handIndex)
	}
	// 칸 확인: 범위, 폰 수, 자기 카드 여부
	cell := s.Board.At(at)
	if cell == nil {
		return errorf(KindOutOfBounds, "cell (%d,%d) is off the board", at.X, at.Y)
	}
	if cell.Pawns[participantID] < card.PawnCost {
		return errorf(KindInsufficientPawns, "need %d pawns, have %d", card.PawnCost, cell.Pawns[participantID])
	}
	if cell.Card != nil && cell.Owner == participantID {
		return ErrCellOccupiedBySelf
	}
	return nil
}

// ApplyPlacement mutates s for a placement that already passed ValidatePlacement and
// returns the played card.
func ApplyPlacement(s *Session, participantID string, handIndex int, at Coord) Card {
	p := s.Participant(participantID)
	card := p.Hand[handIndex]
	cell := s.Board.At(at)

	placed := card
	cell.Card = &placed
	cell.Owner = participantID
	// Capturing an opponent's cell and taking an empty one reset the same way.
	cell.Pawns = map[string]int{participantID: 1}
	cell.AbilityCells = nil
	if card.Ability != nil {
		cell.AbilityCells = s.Board.resolve(p.Side, at, card.Ability.Range)
	}

	for _, o := range card.PawnOffsets {
		dx, dy := orient(p.Side, o)
		target := s.Board.At(Coord{X: at.X + dx, Y: at.Y + dy})
		if target == nil {
			continue
		}
		n := o.Count
		if n <= 0 {
			n = 1
		}
		if target.Pawns == nil {
			target.Pawns = map[string]int{}
		}
		target.Pawns[participantID] = min(target.Pawns[participantID]+n, MaxPawns)
	}

	p.Hand = append(p.Hand[:handIndex:handIndex], p.Hand[handIndex+1:]...)
	return card
}

// EffectCell is a highlighted ability target.
type EffectCell struct {
	Coord
	Effect EffectClass `json:"effect"`
}

// Preview describes what a placement would do without doing it.
type Preview struct {
	Valid        bool         `json:"valid"`
	Reason       Kind         `json:"reason,omitempty"`
	PawnCells    []Coord      `json:"pawnCells"`
	AbilityCells []EffectCell `json:"abilityCells"`
}

// PreviewPlacement validates and resolves highlight cells in absolute coordinates.
// Highlights are returned even when the placement is invalid so the client can still draw them.
func PreviewPlacement(s *Session, participantID string, handIndex int, cardID string, at Coord) (Preview, error) {
	p := s.Participant(participantID)
	if p == nil {
		return Preview{}, ErrParticipantNotInMatch
	}
	out := Preview{PawnCells: []Coord{}, AbilityCells: []EffectCell{}}
	if err := ValidatePlacement(s, participantID, handIndex, cardID, at); err != nil {
		kind, _ := KindOf(err)
		out.Reason = kind
		if kind == KindInvalidCard || kind == KindOutOfBounds {
			return out, nil
		}
	} else {
		out.Valid = true
	}
	card := p.Hand[handIndex]
	out.PawnCells = s.Board.resolve(p.Side, at, card.PawnOffsets)
	if card.Ability != nil && card.Ability.Effect != nil {
		class := card.Ability.Effect.Class()
		for _, c := range s.Board.resolve(p.Side, at, card.Ability.Range) {
			out.AbilityCells = append(out.AbilityCells, EffectCell{Coord: c, Effect: class})
		}
	}
	return out, nil
}
