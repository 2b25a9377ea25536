// Package pvpmatch runs matches on top of the session store: it applies player actions
// through the engine with optimistic writes, finalizes ended matches, and sweeps idle ones.
package pvpmatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/park285/pawnline-match-server/internal/match"
	"github.com/park285/pawnline-match-server/internal/matchstore"
	"github.com/park285/pawnline-match-server/internal/obslog"
)

const tracerName = "github.com/park285/pawnline-match-server/internal/pvpmatch"

type Manager struct {
	store    matchstore.Store
	engine   *match.Engine
	catalog  Catalog
	results  ResultStore
	ledger   CoinLedger
	renderer BoardRenderer
	notifier ExpiryNotifier
	tracer   trace.Tracer
	now      func() time.Time

	sweepBatch      int
	finalizeTimeout time.Duration
	rematchWindow   time.Duration
	rematches       rematchBook
}

type Option func(*Manager)

func WithResults(r ResultStore) Option   { return func(m *Manager) { m.results = r } }
func WithLedger(l CoinLedger) Option     { return func(m *Manager) { m.ledger = l } }
func WithRenderer(r BoardRenderer) Option { return func(m *Manager) { m.renderer = r } }

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithSweepBatch caps how many due matches one sweep handles.
func WithSweepBatch(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.sweepBatch = n
		}
	}
}

// WithRematchWindow sets how long a completed match can be replayed by the same players.
func WithRematchWindow(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.rematchWindow = d
		}
	}
}

func NewManager(store matchstore.Store, engine *match.Engine, catalog Catalog, opts ...Option) *Manager {
	m := &Manager{
		store:           store,
		engine:          engine,
		catalog:         catalog,
		tracer:          otel.Tracer(tracerName),
		now:             time.Now,
		sweepBatch:      100,
		finalizeTimeout: 10 * time.Second,
		rematchWindow:   2 * time.Minute,
		rematches:       rematchBook{offers: make(map[string]*rematchOffer)},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AttachNotifier wires the component told about swept matches.
func (m *Manager) AttachNotifier(n ExpiryNotifier) {
	if m != nil {
		m.notifier = n
	}
}

// StartRequest is what the lobby posts when both players are ready.
type StartRequest struct {
	MatchID string     `json:"matchId,omitempty"`
	LobbyID string     `json:"lobbyId"`
	MapID   string     `json:"mapId"`
	Home    match.Seat `json:"home"`
	Away    match.Seat `json:"away"`
}

func invalid(format string, args ...any) error {
	return &match.Error{Kind: match.KindInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// CreateMatch deals a new match and stores it in dice_roll.
func (m *Manager) CreateMatch(ctx context.Context, req StartRequest) (*match.Session, error) {
	ctx, span := m.tracer.Start(ctx, "pvpmatch.CreateMatch",
		trace.WithAttributes(attribute.String("lobby.id", req.LobbyID)))
	defer span.End()

	def, err := m.catalog.Map(req.MapID)
	if err != nil {
		return nil, spanErr(span, invalid("map %q: %v", req.MapID, err))
	}
	if req.Home, err = m.resolveSeat(req.Home); err != nil {
		return nil, spanErr(span, err)
	}
	if req.Away, err = m.resolveSeat(req.Away); err != nil {
		return nil, spanErr(span, err)
	}
	for _, seat := range []match.Seat{req.Home, req.Away} {
		busy, err := m.busyIn(ctx, seat.ID)
		if err != nil {
			return nil, spanErr(span, err)
		}
		if busy != "" {
			return nil, spanErr(span, invalid("user %s is already in match %s", seat.ID, busy))
		}
	}
	id := strings.TrimSpace(req.MatchID)
	if id == "" {
		id = uuid.NewString()
	}
	s, err := m.engine.NewSession(match.Setup{
		MatchID: id,
		LobbyID: req.LobbyID,
		Map:     def,
		Home:    req.Home,
		Away:    req.Away,
	})
	if err != nil {
		return nil, spanErr(span, err)
	}
	if err := m.store.Create(ctx, s); err != nil {
		if errors.Is(err, matchstore.ErrExists) {
			return nil, spanErr(span, invalid("match %s already exists", id))
		}
		return nil, spanErr(span, err)
	}
	span.SetAttributes(attribute.String("match.id", s.ID))
	obslog.L().Info("match_create",
		zap.String("match_id", s.ID),
		zap.String("lobby_id", s.LobbyID),
		zap.String("map_id", s.MapID),
		zap.String("home", s.Home().ID),
		zap.String("away", s.Away().ID),
	)
	return s, nil
}

// resolveSeat fills the character from the catalog and checks every deck card exists,
// so draws later in the match cannot fail on a bad id.
func (m *Manager) resolveSeat(seat match.Seat) (match.Seat, error) {
	if id := strings.TrimSpace(seat.Character.ID); id != "" {
		ch, err := m.catalog.Character(id)
		if err != nil {
			return seat, invalid("character %q: %v", id, err)
		}
		seat.Character = ch
	}
	for _, id := range seat.Deck {
		if _, err := m.catalog.Card(id); err != nil {
			return seat, invalid("deck of %s: %v", seat.ID, err)
		}
	}
	return seat, nil
}

// busyIn returns the id of a live match userID already plays in.
func (m *Manager) busyIn(ctx context.Context, userID string) (string, error) {
	id, err := m.store.ActiveFor(ctx, userID)
	if err != nil || id == "" {
		return "", err
	}
	s, err := m.store.Load(ctx, id)
	if match.Unavailable(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if s.Ended() || s.ExpiredAt(m.now()) {
		return "", nil
	}
	return id, nil
}

func (m *Manager) Load(ctx context.Context, matchID string) (*match.Session, error) {
	return m.store.Load(ctx, matchID)
}

// ActiveMatchFor returns the match userID is currently seated in.
func (m *Manager) ActiveMatchFor(ctx context.Context, userID string) (*match.Session, error) {
	id, err := m.store.ActiveFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, match.ErrSessionNotFound
	}
	return m.store.Load(ctx, id)
}

// Authorize loads matchID and checks that userID plays in it and that it is still live.
func (m *Manager) Authorize(ctx context.Context, matchID, userID string) (*match.Session, error) {
	s, err := m.store.Load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if s.Participant(userID) == nil {
		return nil, match.ErrParticipantNotInMatch
	}
	if !s.Ended() && s.ExpiredAt(m.now()) {
		return nil, match.ErrSessionExpired
	}
	return s, nil
}

// View is Authorize followed by projection into userID's frame.
func (m *Manager) View(ctx context.Context, matchID, userID string) (*match.View, error) {
	s, err := m.Authorize(ctx, matchID, userID)
	if err != nil {
		return nil, err
	}
	return match.Project(s, userID)
}

// Action is the outcome of one accepted player action.
type Action struct {
	Session *match.Session
	Roll    *match.RollResult
	Turn    *match.TurnResult
	Vote    *match.VoteResult
}

func (m *Manager) Roll(ctx context.Context, matchID, userID string) (*Action, error) {
	var res match.RollResult
	s, err := m.mutate(ctx, "Roll", matchID, userID, func(s *match.Session) error {
		var err error
		res, err = m.engine.Roll(s, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("match_roll",
		zap.String("match_id", matchID),
		zap.String("user_id", userID),
		zap.Int("value", res.Value),
		zap.Bool("tie", res.Tie),
		zap.String("first_turn", res.FirstTurn),
	)
	return &Action{Session: s, Roll: &res}, nil
}

// PlayRequest carries a placement in the requesting player's own frame.
type PlayRequest struct {
	MatchID   string
	UserID    string
	HandIndex int
	CardID    string
	At        match.Coord
}

func (m *Manager) PlayCard(ctx context.Context, req PlayRequest) (*Action, error) {
	var res match.TurnResult
	s, err := m.mutate(ctx, "PlayCard", req.MatchID, req.UserID, func(s *match.Session) error {
		at := match.ToAbsolute(s, req.UserID, req.At)
		var err error
		res, err = m.engine.PlayCard(s, req.UserID, req.HandIndex, req.CardID, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("match_play_card",
		zap.String("match_id", req.MatchID),
		zap.String("user_id", req.UserID),
		zap.String("card_id", req.CardID),
		zap.Int("x", res.At.X),
		zap.Int("y", res.At.Y),
		zap.Int("turn", s.TurnNumber),
		zap.Bool("ended", res.Ended),
	)
	return &Action{Session: s, Turn: &res}, nil
}

func (m *Manager) SkipTurn(ctx context.Context, matchID, userID string) (*Action, error) {
	var res match.TurnResult
	s, err := m.mutate(ctx, "SkipTurn", matchID, userID, func(s *match.Session) error {
		var err error
		res, err = m.engine.SkipTurn(s, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("match_skip_turn",
		zap.String("match_id", matchID),
		zap.String("user_id", userID),
		zap.Bool("ended", res.Ended),
	)
	return &Action{Session: s, Turn: &res}, nil
}

// Forfeit ends the match in the opponent's favor. Used for explicit leaves and disconnects.
func (m *Manager) Forfeit(ctx context.Context, matchID, userID string) (*Action, error) {
	s, err := m.mutate(ctx, "Forfeit", matchID, userID, func(s *match.Session) error {
		return m.engine.Forfeit(s, userID)
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("match_forfeit",
		zap.String("match_id", matchID),
		zap.String("user_id", userID),
		zap.String("winner", s.Winner),
	)
	return &Action{Session: s}, nil
}

// VoteEnd records userID's answer to an early end of a running match.
func (m *Manager) VoteEnd(ctx context.Context, matchID, userID string, v match.Vote) (*Action, error) {
	var res match.VoteResult
	s, err := m.mutate(ctx, "VoteEnd", matchID, userID, func(s *match.Session) error {
		var err error
		res, err = m.engine.VoteEnd(s, userID, v)
		return err
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("match_vote_end",
		zap.String("match_id", matchID),
		zap.String("user_id", userID),
		zap.String("vote", string(v)),
		zap.Bool("ended", res.Ended),
	)
	return &Action{Session: s, Vote: &res}, nil
}

// Preview evaluates a placement without changing anything. Coordinates in and out are
// in userID's frame. A negative HandIndex selects the first hand card with CardID.
func (m *Manager) Preview(ctx context.Context, req PlayRequest) (match.Preview, error) {
	s, err := m.Authorize(ctx, req.MatchID, req.UserID)
	if err != nil {
		return match.Preview{}, err
	}
	idx := req.HandIndex
	if idx < 0 {
		idx = handIndexOf(s.Participant(req.UserID), req.CardID)
	}
	at := match.ToAbsolute(s, req.UserID, req.At)
	pv, err := match.PreviewPlacement(s, req.UserID, idx, req.CardID, at)
	if err != nil {
		return match.Preview{}, err
	}
	return match.PreviewForViewer(s, req.UserID, pv), nil
}

func handIndexOf(p *match.Participant, cardID string) int {
	for i, c := range p.Hand {
		if c.ID == cardID {
			return i
		}
	}
	return -1
}

// mutate runs fn inside a versioned store update. fn may run more than once on conflicts,
// so it must only touch the session it is given and values it fully reassigns.
func (m *Manager) mutate(ctx context.Context, op, matchID, userID string, fn func(*match.Session) error) (*match.Session, error) {
	ctx, span := m.tracer.Start(ctx, "pvpmatch."+op, trace.WithAttributes(
		attribute.String("match.id", matchID),
		attribute.String("user.id", userID),
	))
	defer span.End()

	s, err := m.store.Update(ctx, matchID, func(s *match.Session) error {
		if s.Participant(userID) == nil {
			return match.ErrParticipantNotInMatch
		}
		// 스위퍼보다 먼저 들어온 요청도 만료 처리
		if !s.Ended() && s.ExpiredAt(m.now()) {
			return match.ErrSessionExpired
		}
		return fn(s)
	})
	if err != nil {
		// 규칙 위반은 정상 거절이라 경고 로그 없음
		if kind, ok := match.KindOf(err); ok {
			span.SetAttributes(attribute.String("match.rejected", string(kind)))
			return nil, err
		}
		obslog.L().Warn("match_action_error",
			zap.String("op", op),
			zap.String("match_id", matchID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil, spanErr(span, err)
	}
	span.SetAttributes(
		attribute.Int64("match.version", s.Version),
		attribute.String("match.phase", string(s.Phase)),
	)
	if s.Ended() {
		m.finalize(ctx, s)
	}
	return s, nil
}

// finalize persists an ended match, pays rewards, and drops the live session. On any
// failure the session is kept so the sweeper can retry once its deadline passes.
func (m *Manager) finalize(ctx context.Context, s *match.Session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.finalizeTimeout)
	defer cancel()
	ctx, span := m.tracer.Start(ctx, "pvpmatch.Finalize", trace.WithAttributes(attribute.String("match.id", s.ID)))
	defer span.End()

	var png []byte
	if m.renderer != nil {
		b, err := m.renderer.RenderPNG(s)
		if err != nil {
			obslog.L().Warn("match_render_error", zap.String("match_id", s.ID), zap.Error(err))
		}
		png = b
	}
	rec, err := NewRecord(s, png)
	if err != nil {
		obslog.L().Error("match_record_error", zap.String("match_id", s.ID), zap.Error(err))
		_ = spanErr(span, err)
		return
	}
	if m.results != nil {
		if err := m.results.SaveResult(ctx, rec); err != nil {
			obslog.L().Error("match_result_persist_error", zap.String("match_id", s.ID), zap.Error(err))
			_ = spanErr(span, err)
			return
		}
	}
	// 만료로 버려진 경기는 보상도 전적도 남기지 않는다
	if m.ledger != nil && s.EndReason != match.EndExpired {
		for _, p := range s.Participants {
			c := Credit{MatchID: s.ID, UserID: p.ID, Coins: p.CoinsEarned, Outcome: match.OutcomeFor(s, p.ID)}
			if err := m.ledger.Credit(ctx, c); err != nil {
				obslog.L().Error("match_reward_error",
					zap.String("match_id", s.ID),
					zap.String("user_id", p.ID),
					zap.Int("coins", p.CoinsEarned),
					zap.Error(err),
				)
				_ = spanErr(span, err)
				return
			}
		}
	}
	m.offerRematch(s)
	if err := m.store.Delete(ctx, s); err != nil {
		obslog.L().Warn("match_session_delete_error", zap.String("match_id", s.ID), zap.Error(err))
	}
	obslog.L().Info("match_finalize",
		zap.String("match_id", s.ID),
		zap.String("status", string(s.Status)),
		zap.String("end_reason", string(s.EndReason)),
		zap.String("winner", s.Winner),
		zap.Float64("home_score", rec.Home.Score),
		zap.Float64("away_score", rec.Away.Score),
		zap.Int64("duration_ms", rec.DurationMS),
	)
}

var (
	errAlreadyEnded = errors.New("already ended")
	errNotDue       = errors.New("not due")
)

// SweepExpired abandons matches idle past their deadline, notifies their participants,
// and finalizes them. Ended matches whose finalization failed earlier are retried.
// It returns how many matches were abandoned.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	ctx, span := m.tracer.Start(ctx, "pvpmatch.SweepExpired")
	defer span.End()

	m.rematches.prune(now)
	ids, err := m.store.Expired(ctx, now, m.sweepBatch)
	if err != nil {
		return 0, spanErr(span, err)
	}
	swept := 0
	for _, id := range ids {
		s, err := m.store.Update(ctx, id, func(s *match.Session) error {
			if s.Ended() {
				return errAlreadyEnded
			}
			if !s.ExpiredAt(now) {
				return errNotDue
			}
			m.engine.Expire(s)
			return nil
		})
		switch {
		case errors.Is(err, errNotDue):
			continue
		case errors.Is(err, errAlreadyEnded): // 이전 마무리 실패분 재시도
			if s, lerr := m.store.Load(ctx, id); lerr == nil {
				m.finalize(ctx, s)
			}
			continue
		case match.Unavailable(err):
			// blob already evicted; drop the dangling deadline
			_ = m.store.Delete(ctx, &match.Session{ID: id})
			continue
		case err != nil:
			obslog.L().Warn("sweep_expired_error", zap.String("match_id", id), zap.Error(err))
			continue
		}
		swept++
		obslog.L().Info("sweep_expired",
			zap.String("match_id", s.ID),
			zap.Duration("age", s.Duration(now)),
		)
		if m.notifier != nil {
			m.notifier.MatchExpired(ctx, s)
		}
		m.finalize(ctx, s)
	}
	span.SetAttributes(attribute.Int("sweep.candidates", len(ids)), attribute.Int("sweep.expired", swept))
	return swept, nil
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
