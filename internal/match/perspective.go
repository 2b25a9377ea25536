package match

// Label replaces participant ids in a projection.
type Label string

const (
	LabelSelf     Label = "self"
	LabelOpponent Label = "opponent"
	LabelNone     Label = "none"
)

// CellView is a cell as one viewer sees it. AbilityCells follows the viewer's frame.
type CellView struct {
	X            int           `json:"x"`
	Y            int           `json:"y"`
	Card         *Card         `json:"card,omitempty"`
	Owner        Label         `json:"owner"`
	Pawns        map[Label]int `json:"pawns"`
	Special      *Special      `json:"special,omitempty"`
	AbilityCells []Coord       `json:"abilityCells,omitempty"`
	Effects      []EffectClass `json:"effects,omitempty"`
}

type BoardView struct {
	Width  int          `json:"width"`
	Height int          `json:"height"`
	Cells  [][]CellView `json:"cells"`
}

// SelfView is the viewer's own record, hand included.
type SelfView struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	Avatar      string    `json:"avatar,omitempty"`
	Side        Side      `json:"side"`
	Character   Character `json:"character"`
	Hand        []Card    `json:"hand"`
	DeckCount   int       `json:"deckCount"`
	DiceRoll    *int      `json:"diceRoll"`
	HasRolled   bool      `json:"hasRolled"`
	RowScores   []float64 `json:"rowScores"`
	TotalScore  float64   `json:"totalScore"`
	CoinsEarned int       `json:"coinsEarned"`
}

// OpponentView hides card identities behind counts.
type OpponentView struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	Avatar      string    `json:"avatar,omitempty"`
	Side        Side      `json:"side"`
	Character   Character `json:"character"`
	HandCount   int       `json:"handCount"`
	DeckCount   int       `json:"deckCount"`
	DiceRoll    *int      `json:"diceRoll"`
	HasRolled   bool      `json:"hasRolled"`
	RowScores   []float64 `json:"rowScores"`
	TotalScore  float64   `json:"totalScore"`
	CoinsEarned int       `json:"coinsEarned"`
}

// View is one participant's projection of a session: the viewer is always home.
type View struct {
	MatchID     string       `json:"matchId"`
	Phase       Phase        `json:"phase"`
	Status      Status       `json:"status"`
	TurnNumber  int          `json:"turnNumber"`
	CurrentTurn Label        `json:"currentTurn"`
	IsMyTurn    bool         `json:"isMyTurn"`
	Winner      Label        `json:"winner"`
	EndReason   EndReason    `json:"endReason,omitempty"`
	EndVote     Label        `json:"endVote"`
	Board       BoardView    `json:"board"`
	Me          SelfView     `json:"me"`
	Opponent    OpponentView `json:"opponent"`
	Version     int64        `json:"version"`
}

// Project builds viewerID's view of s. For the away seat the board and row scores are
// rotated by 180 degrees.
func Project(s *Session, viewerID string) (*View, error) {
	me := s.Participant(viewerID)
	if me == nil {
		return nil, ErrParticipantNotInMatch
	}
	opp := s.Opponent(viewerID)
	board := relabel(&s.Board, viewerID)
	rows := func(r []float64) []float64 { return append([]float64(nil), r...) }
	if me.Side == SideAway {
		board = RotateBoard(board)
		rows = reversed
	}

	bothRolled := (me.HasRolled && opp.HasRolled) || s.Phase != PhaseDiceRoll
	v := &View{
		MatchID:     s.ID,
		Phase:       s.Phase,
		Status:      s.Status,
		TurnNumber:  s.TurnNumber,
		CurrentTurn: labelFor(s.CurrentTurn, viewerID),
		IsMyTurn:    s.Phase == PhasePlaying && s.CurrentTurn == viewerID,
		Winner:      labelFor(s.Winner, viewerID),
		EndReason:   s.EndReason,
		EndVote:     labelFor(s.EndVote, viewerID),
		Board:       board,
		Version:     s.Version,
		Me: SelfView{
			ID: me.ID, Username: me.Username, DisplayName: me.DisplayName, Avatar: me.Avatar,
			Side: me.Side, Character: me.Character,
			Hand:      append([]Card{}, me.Hand...),
			DeckCount: len(me.Deck),
			DiceRoll:  me.DiceRoll, HasRolled: me.HasRolled,
			RowScores: rows(me.RowScores), TotalScore: me.TotalScore, CoinsEarned: me.CoinsEarned,
		},
		Opponent: OpponentView{
			ID: opp.ID, Username: opp.Username, DisplayName: opp.DisplayName, Avatar: opp.Avatar,
			Side: opp.Side, Character: opp.Character,
			HandCount: len(opp.Hand), DeckCount: len(opp.Deck),
			HasRolled: opp.HasRolled,
			RowScores: rows(opp.RowScores), TotalScore: opp.TotalScore, CoinsEarned: opp.CoinsEarned,
		},
	}
	if bothRolled {
		v.Opponent.DiceRoll = opp.DiceRoll
	}
	return v, nil
}

// labelFor는 참가자 ID를 보는 사람 기준 라벨로 바꿈.
func labelFor(id, viewerID string) Label {
	switch id {
	case "":
		return LabelNone
	case viewerID:
		return LabelSelf
	default:
		return LabelOpponent
	}
}

// relabel copies b replacing participant ids with labels, without moving cells.
func relabel(b *Board, viewerID string) BoardView {
	out := BoardView{Width: b.Width, Height: b.Height, Cells: make([][]CellView, len(b.Cells))}
	for y, row := range b.Cells {
		out.Cells[y] = make([]CellView, len(row))
		for x, c := range row {
			pawns := make(map[Label]int, len(c.Pawns))
			for id, n := range c.Pawns {
				if n > 0 {
					pawns[labelFor(id, viewerID)] = n
				}
			}
			cv := CellView{
				X: x, Y: y,
				Owner:   labelFor(c.Owner, viewerID),
				Pawns:   pawns,
				Special: c.Special,
				Effects: c.Effects,
			}
			if len(c.AbilityCells) > 0 {
				cv.AbilityCells = append([]Coord(nil), c.AbilityCells...)
			}
			if c.Card != nil {
				card := *c.Card
				cv.Card = &card
			}
			out.Cells[y][x] = cv
		}
	}
	return out
}

// RotateBoard turns a projected board by 180 degrees. Applying it twice is the identity.
func RotateBoard(b BoardView) BoardView {
	out := BoardView{Width: b.Width, Height: b.Height, Cells: make([][]CellView, b.Height)}
	for y := 0; y < b.Height; y++ {
		out.Cells[y] = make([]CellView, b.Width)
	}
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			c := b.Cells[y][x]
			ny, nx := b.Height-1-y, b.Width-1-x
			c.X, c.Y = nx, ny
			if len(c.AbilityCells) > 0 {
				cells := make([]Coord, len(c.AbilityCells))
				for i, a := range c.AbilityCells {
					cells[i] = Coord{X: b.Width - 1 - a.X, Y: b.Height - 1 - a.Y}
				}
				c.AbilityCells = cells
			}
			out.Cells[ny][nx] = c
		}
	}
	return out
}

// reversed는 뒤집힌 복사본을 반환.
func reversed(r []float64) []float64 {
	out := make([]float64, len(r))
	for i, v := range r {
		out[len(r)-1-i] = v
	}
	return out
}

// ToAbsolute converts a coordinate seen by viewerID into a board coordinate.
func ToAbsolute(s *Session, viewerID string, c Coord) Coord {
	if p := s.Participant(viewerID); p != nil && p.Side == SideAway {
		return Coord{X: s.Board.Width - 1 - c.X, Y: s.Board.Height - 1 - c.Y}
	}
	return c
}

// ToViewer is the inverse of ToAbsolute.
func ToViewer(s *Session, viewerID string, c Coord) Coord {
	return ToAbsolute(s, viewerID, c)
}

// PreviewForViewer maps a preview's absolute cells into viewerID's frame.
func PreviewForViewer(s *Session, viewerID string, pv Preview) Preview {
	out := Preview{Valid: pv.Valid, Reason: pv.Reason, PawnCells: make([]Coord, 0, len(pv.PawnCells)), AbilityCells: make([]EffectCell, 0, len(pv.AbilityCells))}
	for _, c := range pv.PawnCells {
		out.PawnCells = append(out.PawnCells, ToViewer(s, viewerID, c))
	}
	for _, c := range pv.AbilityCells {
		out.AbilityCells = append(out.AbilityCells, EffectCell{Coord: ToViewer(s, viewerID, c.Coord), Effect: c.Effect})
	}
	return out
}
