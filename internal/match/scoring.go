package match

// RecomputeScores rebuilds every row score and total from the board. It never reads
// previous scores, so calling it repeatedly gives the same result.
func RecomputeScores(s *Session) {
	b := &s.Board
	for _, p := range s.Participants {
		p.RowScores = make([]float64, b.Height)
		p.TotalScore = 0
	}

	for y := 0; y < b.Height; y++ {
		totals := make(map[string]float64, 2)
		for x := 0; x < b.Width; x++ {
			cell := &b.Cells[y][x]
			if cell.Card == nil || cell.Owner == "" {
				continue
			}
			totals[cell.Owner] += cellValue(b, Coord{X: x, Y: y})
		}
		awardRow(s, y, totals)
	}
	markEffects(b)
}

// cellValue is the card's power with every same-row ability that reaches it applied.
func cellValue(b *Board, at Coord) float64 {
	cell := b.At(at)
	var effects []Effect
	for x := 0; x < b.Width; x++ {
		if x == at.X {
			continue
		}
		src := &b.Cells[at.Y][x]
		if src.Card == nil || src.Card.Ability == nil || src.Card.Ability.Effect == nil {
			continue
		}
		if containsCoord(src.AbilityCells, at) {
			effects = append(effects, src.Card.Ability.Effect)
		}
	}
	return applyEffects(float64(cell.Card.Power), effects)
}

// awardRow gives the row total to the strictly higher side; a tie awards nothing.
func awardRow(s *Session, y int, totals map[string]float64) {
	if len(s.Participants) != 2 {
		return
	}
	a, b := s.Participants[0], s.Participants[1]
	ta, tb := totals[a.ID], totals[b.ID]
	switch {
	case ta > tb:
		a.RowScores[y] = ta
		a.TotalScore += ta
	case tb > ta:
		b.RowScores[y] = tb
		b.TotalScore += tb
	}
}

// markEffects tags each cell with the effect classes that currently reach it.
func markEffects(b *Board) {
	for y := range b.Cells {
		for x := range b.Cells[y] {
			b.Cells[y][x].Effects = nil
		}
	}
	for y := range b.Cells {
		for x := range b.Cells[y] {
			src := &b.Cells[y][x]
			if src.Card == nil || src.Card.Ability == nil || src.Card.Ability.Effect == nil {
				continue
			}
			class := src.Card.Ability.Effect.Class()
			for _, c := range src.AbilityCells {
				if c.Y != y {
					continue
				}
				t := b.At(c)
				if t != nil && !hasClass(t.Effects, class) {
					t.Effects = append(t.Effects, class)
				}
			}
		}
	}
}

func hasClass(list []EffectClass, c EffectClass) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}

// Leader는 총점이 더 높은 참가자를 반환. 동점이면 nil.
func Leader(s *Session) *Participant {
	if len(s.Participants) != 2 {
		return nil
	}
	a, b := s.Participants[0], s.Participants[1]
	switch {
	case a.TotalScore > b.TotalScore:
		return a
	case b.TotalScore > a.TotalScore:
		return b
	}
	return nil
}
