package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/park285/pawnline-match-server/internal/match"
	"github.com/park285/pawnline-match-server/internal/pvpmatch"
	"github.com/park285/pawnline-match-server/internal/tracing"
)

var errNotJoined = errors.New("realtime: not joined to a match")

const disconnectTimeout = 10 * time.Second

// dispatch handles one inbound event. Events from a single connection are processed in order.
func (h *Hub) dispatch(ctx context.Context, c *conn, env Envelope) {
	ctx, span := tracing.Tracer().Start(ctx, "ws."+env.Type)
	span.SetAttributes(
		attribute.String("user.id", c.user.UserID),
		attribute.String("match.id", h.currentMatch(c)),
	)
	defer span.End()

	var err error
	switch env.Type {
	case EventJoin:
		err = h.handleJoin(ctx, c, env.Payload)
	case EventRollDice:
		err = h.handleRoll(ctx, c)
	case EventPreviewPlacement:
		err = h.handlePreview(ctx, c, env.Payload)
	case EventPlayCard:
		err = h.handlePlayCard(ctx, c, env.Payload)
	case EventSkipTurn:
		err = h.handleSkipTurn(ctx, c)
	case EventVoteEnd:
		err = h.handleVoteEnd(ctx, c, env.Payload)
	case EventRematch:
		err = h.handleRematch(ctx, c, env.Payload)
	case EventLeave:
		err = h.handleLeave(ctx, c)
	default:
		err = &match.Error{Kind: match.KindInvalidRequest, Message: "unknown event " + env.Type}
	}
	if err != nil {
		span.RecordError(err)
		if kind, ok := match.KindOf(err); ok {
			span.SetAttributes(attribute.String("match.error_kind", string(kind)))
		} else {
			span.SetStatus(codes.Error, err.Error())
		}
		h.reportError(c, env.Type, err)
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &match.Error{Kind: match.KindInvalidRequest, Message: "malformed payload"}
	}
	return nil
}

func (h *Hub) requireMatch(c *conn) (string, error) {
	if id := h.currentMatch(c); id != "" {
		return id, nil
	}
	return "", errNotJoined
}

func (h *Hub) handleJoin(ctx context.Context, c *conn, raw json.RawMessage) error {
	var p JoinPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	uid := c.user.UserID
	matchID := p.MatchID
	if matchID == "" {
		active, err := h.mgr.ActiveMatchFor(ctx, uid)
		if err != nil {
			return err
		}
		matchID = active.ID
	}
	s, err := h.mgr.Authorize(ctx, matchID, uid)
	if err != nil {
		return err
	}
	v, err := match.Project(s, uid)
	if err != nil {
		return err
	}

	h.mu.Lock()
	// 다른 방에 있던 연결이면 먼저 빼냄
	if prev := c.matchID; prev != "" && prev != s.ID {
		h.removeLocked(c, prev)
	}
	r := h.rooms[s.ID]
	if r == nil {
		r = &room{conns: make(map[*conn]struct{})}
		h.rooms[s.ID] = r
	}
	r.conns[c] = struct{}{}
	c.matchID = s.ID
	if s.Version > r.version {
		r.version = s.Version
	}
	// queued under the lock so no broadcast can overtake the snapshot
	c.emit(EventStateLoaded, v)
	h.mu.Unlock()

	if s.Phase == match.PhaseDiceRoll {
		if me := s.Participant(uid); me.HasRolled && me.DiceRoll != nil {
			c.emit(EventDiceRollWaiting, DiceWaitingPayload{
				MyRoll:  *me.DiceRoll,
				Message: h.msgs.Text("dice.wait", map[string]any{"Roll": *me.DiceRoll}, "Waiting for opponent..."),
			})
		} else {
			c.emit(EventDiceRollStart, MessagePayload{Message: h.msgs.Text("dice.start", nil, "Roll for first turn!")})
		}
	}
	h.log.Info("ws_join",
		zap.String("conn_id", c.id),
		zap.String("user_id", uid),
		zap.String("match_id", s.ID),
		zap.String("phase", string(s.Phase)),
	)
	return nil
}

func (h *Hub) handleRoll(ctx context.Context, c *conn) error {
	matchID, err := h.requireMatch(c)
	if err != nil {
		return err
	}
	act, err := h.mgr.Roll(ctx, matchID, c.user.UserID)
	if err != nil {
		return err
	}
	res := act.Roll
	if res.Waiting {
		c.emit(EventDiceRollWaiting, DiceWaitingPayload{
			MyRoll:  res.Value,
			Message: h.msgs.Text("dice.wait", map[string]any{"Roll": res.Value}, "Waiting for opponent..."),
		})
		h.broadcastState(act.Session)
		return nil
	}

	h.each(matchID, func(m *conn) {
		viewer := m.user.UserID
		p := DiceResultPayload{Rolls: make(map[match.Label]int, len(res.Rolls)), Tie: res.Tie}
		for pid, v := range res.Rolls {
			p.Rolls[labelFor(pid, viewer)] = v
		}
		switch {
		case res.Tie:
			p.Message = h.msgs.Text("dice.tie", nil, "It's a tie!")
		case res.FirstTurn == viewer:
			p.FirstTurn = match.LabelSelf
			p.Message = h.msgs.Text("dice.first_self", nil, "You go first!")
		default:
			p.FirstTurn = match.LabelOpponent
			p.Message = h.msgs.Text("dice.first_opponent", nil, "Your opponent goes first.")
		}
		m.emit(EventDiceRollResult, p)
	})
	h.broadcastState(act.Session)

	if res.Tie {
		again := h.msgs.Text("dice.again", nil, "Roll again!")
		h.after(h.tieDelay, func() {
			h.each(matchID, func(m *conn) {
				m.emit(EventDiceRollStart, MessagePayload{Message: again})
			})
		})
	}
	return nil
}

func (h *Hub) handlePreview(ctx context.Context, c *conn, raw json.RawMessage) error {
	var p PreviewPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	matchID, err := h.requireMatch(c)
	if err != nil {
		return err
	}
	if p.X == nil || p.Y == nil {
		c.emit(EventPreviewResult, match.Preview{PawnCells: []match.Coord{}, AbilityCells: []match.EffectCell{}})
		return nil
	}
	idx := -1
	if p.HandIndex != nil {
		idx = *p.HandIndex
	}
	pv, err := h.mgr.Preview(ctx, pvpmatch.PlayRequest{
		MatchID:   matchID,
		UserID:    c.user.UserID,
		HandIndex: idx,
		CardID:    p.CardID,
		At:        match.Coord{X: *p.X, Y: *p.Y},
	})
	if err != nil {
		return err
	}
	if pv.PawnCells == nil {
		pv.PawnCells = []match.Coord{}
	}
	if pv.AbilityCells == nil {
		pv.AbilityCells = []match.EffectCell{}
	}
	c.emit(EventPreviewResult, pv)
	return nil
}

func (h *Hub) handlePlayCard(ctx context.Context, c *conn, raw json.RawMessage) error {
	var p PlayCardPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	matchID, err := h.requireMatch(c)
	if err != nil {
		return err
	}
	act, err := h.mgr.PlayCard(ctx, pvpmatch.PlayRequest{
		MatchID:   matchID,
		UserID:    c.user.UserID,
		HandIndex: p.HandIndex,
		CardID:    p.CardID,
		At:        match.Coord{X: p.X, Y: p.Y},
	})
	if err != nil {
		return err
	}
	h.afterTurn(act.Session)
	return nil
}

func (h *Hub) handleSkipTurn(ctx context.Context, c *conn) error {
	matchID, err := h.requireMatch(c)
	if err != nil {
		return err
	}
	act, err := h.mgr.SkipTurn(ctx, matchID, c.user.UserID)
	if err != nil {
		return err
	}
	h.afterTurn(act.Session)
	return nil
}

func (h *Hub) handleVoteEnd(ctx context.Context, c *conn, raw json.RawMessage) error {
	var p VotePayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	v, err := match.ParseVote(p.Response)
	if err != nil {
		return err
	}
	matchID, err := h.requireMatch(c)
	if err != nil {
		return err
	}
	act, err := h.mgr.VoteEnd(ctx, matchID, c.user.UserID, v)
	if err != nil {
		return err
	}
	switch res := act.Vote; {
	case res.Ended:
		h.afterTurn(act.Session)
		return nil
	case res.Declined:
		h.announceDecline(matchID, c, "vote_end", EventEndVoteDeclined)
	default:
		h.announceRequest(matchID, c, "vote_end", EventEndVoteRequested, EventEndVoteSent)
	}
	h.broadcastState(act.Session)
	return nil
}

// handleRematch works on a finished match, so the room is still keyed by its old id.
func (h *Hub) handleRematch(ctx context.Context, c *conn, raw json.RawMessage) error {
	var p VotePayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	v, err := match.ParseVote(p.Response)
	if err != nil {
		return err
	}
	matchID := p.MatchID
	if matchID == "" {
		if matchID, err = h.requireMatch(c); err != nil {
			return err
		}
	}
	res, err := h.mgr.Rematch(ctx, matchID, c.user.UserID, v)
	if err != nil {
		return err
	}
	switch {
	case res.Session != nil:
		h.moveToRematch(matchID, res.Session)
		h.log.Info("ws_rematch", zap.String("match_id", matchID), zap.String("rematch_id", res.Session.ID))
	case res.Declined:
		h.announceDecline(matchID, c, "rematch", EventRematchDeclined)
	default:
		h.announceRequest(matchID, c, "rematch", EventRematchRequested, EventRematchSent)
	}
	return nil
}

// afterTurn fans out the new state and, once the match is over, the final result. The room
// stays open so both players can ask for a rematch.
func (h *Hub) afterTurn(s *match.Session) {
	h.broadcastState(s)
	if !s.Ended() {
		return
	}
	h.broadcastEnded(s, func(viewer string) (string, bool) {
		switch match.OutcomeFor(s, viewer) {
		case match.OutcomeWin:
			coins := 0
			if p := s.Participant(viewer); p != nil {
				coins = p.CoinsEarned
			}
			return h.msgs.Text("end.win", map[string]any{"Coins": coins}, "You win!"), false
		case match.OutcomeDraw:
			return h.msgs.Text("end.draw", nil, "It's a draw."), false
		default:
			return h.msgs.Text("end.loss", nil, "You lose."), false
		}
	})
	h.log.Info("ws_match_ended", zap.String("match_id", s.ID), zap.String("winner", s.Winner))
}

func (h *Hub) handleLeave(ctx context.Context, c *conn) error {
	matchID, err := h.requireMatch(c)
	if err != nil {
		return err
	}
	return h.forfeit(ctx, c, matchID, "opponent_left")
}

// disconnect runs once the socket is gone. The match is forfeited unless the same user
// still has another connection in the room.
func (h *Hub) disconnect(ctx context.Context, c *conn) {
	matchID := h.currentMatch(c)
	h.leave(c)
	if matchID == "" || h.userPresent(matchID, c.user.UserID, c) {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
	defer cancel()
	if err := h.forfeit(ctx, c, matchID, "opponent_disconnected"); err != nil {
		h.log.Warn("ws_disconnect_forfeit_failed",
			zap.String("match_id", matchID),
			zap.String("user_id", c.user.UserID),
			zap.Error(err),
		)
	}
}

// forfeit ends matchID against c's user, tells the room, and schedules the return to the
// lobby. A match that already ended or went away only detaches the connection.
func (h *Hub) forfeit(ctx context.Context, c *conn, matchID, key string) error {
	uid := c.user.UserID
	act, err := h.mgr.Forfeit(ctx, matchID, uid)
	if err != nil {
		if match.Unavailable(err) || errors.Is(err, match.ErrWrongPhase) {
			h.leave(c)
			h.withdrawRematch(ctx, matchID, c)
			return nil
		}
		return err
	}
	s := act.Session
	h.leave(c)

	youLeft := h.msgs.Text("end.you_left", nil, "You left the match.")
	opponentText := h.msgs.Text("end."+key, nil, "Opponent left - You win!")
	h.broadcastEnded(s, func(viewer string) (string, bool) {
		if viewer == uid {
			return youLeft, true
		}
		return opponentText, true
	})
	if key == "opponent_left" {
		c.emit(EventMatchEnded, h.endedPayload(s, uid, youLeft, true))
	}
	h.scheduleForceLeave(matchID, key)
	h.log.Info("ws_forfeit",
		zap.String("match_id", matchID),
		zap.String("user_id", uid),
		zap.String("reason", key),
		zap.String("winner", s.Winner),
	)
	return nil
}

// withdrawRematch drops a pending rematch offer once one of its players walks away.
func (h *Hub) withdrawRematch(ctx context.Context, matchID string, c *conn) {
	if _, err := h.mgr.Rematch(ctx, matchID, c.user.UserID, match.VoteDecline); err != nil {
		return // 재대국 제안이 없으면 알릴 것도 없음
	}
	gone := MessagePayload{Message: h.msgs.Text("rematch.opponent_gone", nil, "Opponent left the room.")}
	h.each(matchID, func(m *conn) {
		if m.user.UserID != c.user.UserID {
			m.emit(EventRematchDeclined, gone)
		}
	})
}

func (h *Hub) reportError(c *conn, event string, err error) {
	var kind string
	switch k, ok := match.KindOf(err); {
	case errors.Is(err, errNotJoined):
		kind = "not_joined"
	case ok:
		kind = string(k)
	default:
		kind = "internal"
		h.log.Error("ws_handler_error",
			zap.String("conn_id", c.id),
			zap.String("user_id", c.user.UserID),
			zap.String("event", event),
			zap.Error(err),
		)
	}
	unavailable := match.Unavailable(err)
	if unavailable {
		h.leave(c)
	}
	c.emit(EventErrorOccurred, ErrorPayload{
		Kind:          kind,
		Message:       h.msgs.Text("error."+kind, nil, "Something went wrong."),
		ReturnToLobby: unavailable,
	})
}
