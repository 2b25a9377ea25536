// Package realtime is the websocket delivery layer: it binds authenticated connections to
// match rooms, turns inbound events into Manager calls, and fans out per-viewer projections.
package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/pawnline-match-server/internal/authn"
	"github.com/park285/pawnline-match-server/internal/match"
	"github.com/park285/pawnline-match-server/internal/msgcat"
	"github.com/park285/pawnline-match-server/internal/obslog"
	"github.com/park285/pawnline-match-server/internal/pvpmatch"
)

type room struct {
	conns map[*conn]struct{}
	// version of the last state fanned out; older states are dropped so both viewers
	// see updates in the order the store accepted them.
	version int64
}

type Hub struct {
	mgr      *pvpmatch.Manager
	verifier *authn.Verifier
	msgs     *msgcat.Catalog
	log      *zap.Logger

	forceLeaveGrace time.Duration
	tieDelay        time.Duration
	originPatterns  []string

	mu    sync.Mutex
	rooms map[string]*room

	// timerMu orders after against Close so no timer is added once Close waits.
	timerMu sync.Mutex
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

type Option func(*Hub)

func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

func WithMessages(c *msgcat.Catalog) Option {
	return func(h *Hub) {
		if c != nil {
			h.msgs = c
		}
	}
}

// WithForceLeaveGrace sets how long the remaining player sees the end screen before being
// sent back to the lobby.
func WithForceLeaveGrace(d time.Duration) Option {
	return func(h *Hub) {
		if d >= 0 {
			h.forceLeaveGrace = d
		}
	}
}

// WithTieDelay sets the pause between a tied dice result and the re-roll prompt.
func WithTieDelay(d time.Duration) Option {
	return func(h *Hub) {
		if d >= 0 {
			h.tieDelay = d
		}
	}
}

// WithOriginPatterns allows cross-origin browser clients, see websocket.AcceptOptions.
func WithOriginPatterns(p ...string) Option {
	return func(h *Hub) { h.originPatterns = append(h.originPatterns, p...) }
}

func NewHub(mgr *pvpmatch.Manager, verifier *authn.Verifier, opts ...Option) *Hub {
	h := &Hub{
		mgr:             mgr,
		verifier:        verifier,
		msgs:            msgcat.MustDefault(),
		log:             obslog.L(),
		forceLeaveGrace: 3 * time.Second,
		tieDelay:        2 * time.Second,
		rooms:           make(map[string]*room),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	mgr.AttachNotifier(h)
	return h
}

// Close stops pending timers. Connections end with their HTTP requests.
func (h *Hub) Close() {
	h.timerMu.Lock()
	if !h.closed {
		h.closed = true
		close(h.done)
	}
	h.timerMu.Unlock()
	h.wg.Wait()
}

// after runs fn once d has elapsed unless the hub closes first. It does nothing once the
// hub is closed; a late disconnect can still get here during shutdown.
func (h *Hub) after(d time.Duration, fn func()) {
	// Close와 같은 락 아래에서 확인해야 wg.Add가 Wait 이후로 새지 않음
	h.timerMu.Lock()
	defer h.timerMu.Unlock()
	if h.closed {
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-h.done:
		case <-t.C:
			fn()
		}
	}()
}

func (h *Hub) leave(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.matchID != "" {
		h.removeLocked(c, c.matchID)
	}
}

func (h *Hub) removeLocked(c *conn, matchID string) {
	if r := h.rooms[matchID]; r != nil {
		delete(r.conns, c)
		if len(r.conns) == 0 {
			delete(h.rooms, matchID)
		}
	}
	if c.matchID == matchID {
		c.matchID = ""
	}
}

// closeRoom detaches every connection from matchID.
func (h *Hub) closeRoom(matchID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[matchID]
	if r == nil {
		return
	}
	for c := range r.conns {
		if c.matchID == matchID {
			c.matchID = ""
		}
	}
	delete(h.rooms, matchID)
}

func (h *Hub) currentMatch(c *conn) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return c.matchID
}

// members snapshots the connections in matchID.
func (h *Hub) members(matchID string) []*conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[matchID]
	if r == nil {
		return nil
	}
	out := make([]*conn, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	return out
}

// userPresent reports whether userID has a connection other than except in matchID.
func (h *Hub) userPresent(matchID, userID string, except *conn) bool {
	for _, c := range h.members(matchID) {
		if c != except && c.user.UserID == userID {
			return true
		}
	}
	return false
}

// broadcastState sends each member its own projection of s. States older than the last
// one sent to the room are skipped.
func (h *Hub) broadcastState(s *match.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[s.ID]
	if r == nil {
		return
	}
	if s.Version < r.version {
		return
	}
	r.version = s.Version
	for c := range r.conns {
		v, err := match.Project(s, c.user.UserID)
		if err != nil {
			continue
		}
		c.emit(EventStateUpdated, v)
	}
}

// each calls fn for every member of matchID.
func (h *Hub) each(matchID string, fn func(c *conn)) {
	for _, c := range h.members(matchID) {
		fn(c)
	}
}

// broadcastEnded tells every member how the match ended for them.
func (h *Hub) broadcastEnded(s *match.Session, messageFor func(viewerID string) (string, bool)) {
	h.each(s.ID, func(c *conn) {
		msg, toLobby := messageFor(c.user.UserID)
		c.emit(EventMatchEnded, h.endedPayload(s, c.user.UserID, msg, toLobby))
	})
}

func (h *Hub) endedPayload(s *match.Session, viewerID, message string, toLobby bool) MatchEndedPayload {
	p := MatchEndedPayload{
		MatchID:       s.ID,
		Status:        s.Status,
		Reason:        s.EndReason,
		WinnerID:      s.Winner,
		Winner:        labelFor(s.Winner, viewerID),
		Outcome:       match.OutcomeFor(s, viewerID),
		FinalScore:    make(map[string]float64, len(s.Participants)),
		Message:       message,
		ReturnToLobby: toLobby,
	}
	for _, part := range s.Participants {
		p.FinalScore[part.ID] = part.TotalScore
		if part.ID == viewerID {
			p.CoinsEarned = part.CoinsEarned
		}
	}
	return p
}

func labelFor(id, viewerID string) match.Label {
	switch {
	case id == "":
		return match.LabelNone
	case id == viewerID:
		return match.LabelSelf
	default:
		return match.LabelOpponent
	}
}

// MatchExpired tells connected participants the sweeper abandoned their match.
func (h *Hub) MatchExpired(_ context.Context, s *match.Session) {
	text := h.msgs.Text("end.expired", nil, "The match expired due to inactivity.")
	h.broadcastEnded(s, func(string) (string, bool) { return text, true })
	h.closeRoom(s.ID)
	h.log.Info("ws_match_expired", zap.String("match_id", s.ID))
}

// scheduleForceLeave sends the remaining members back to the lobby after the grace delay.
func (h *Hub) scheduleForceLeave(matchID, key string) {
	text := h.msgs.Text("force_leave."+key, nil, "Returning to lobby list...")
	h.after(h.forceLeaveGrace, func() {
		for _, c := range h.members(matchID) {
			c.emit(EventForceLeave, MessagePayload{Message: text})
		}
		h.closeRoom(matchID)
	})
}

// announceRequest tells from it asked and every other member that it is waiting on them.
func (h *Hub) announceRequest(matchID string, from *conn, key, requested, sent string) {
	name := from.user.DisplayName
	if name == "" {
		name = from.user.UserID
	}
	from.emit(sent, MessagePayload{Message: h.msgs.Text(key+".sent", nil, "Request sent to opponent.")})
	ask := VoteRequestPayload{
		Requester:     match.LabelOpponent,
		RequesterName: name,
		Message:       h.msgs.Text(key+".requested", map[string]any{"Name": name}, name+" is waiting for your answer."),
	}
	h.each(matchID, func(m *conn) {
		if m.user.UserID != from.user.UserID {
			m.emit(requested, ask)
		}
	})
}

// announceDecline tells both sides that from turned a request down.
func (h *Hub) announceDecline(matchID string, from *conn, key, event string) {
	from.emit(event, MessagePayload{Message: h.msgs.Text(key+".declined_by_you", nil, "You declined.")})
	theirs := MessagePayload{Message: h.msgs.Text(key+".declined_by_opponent", nil, "Opponent declined.")}
	h.each(matchID, func(m *conn) {
		if m.user.UserID != from.user.UserID {
			m.emit(event, theirs)
		}
	})
}

// moveToRematch re-keys the finished match's room to the new match and sends every member
// its first view of it.
func (h *Hub) moveToRematch(oldID string, s *match.Session) {
	text := h.msgs.Text("rematch.start", nil, "Rematch started! Roll for first turn!")
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[oldID]
	if r == nil {
		return
	}
	// 방은 그대로 두고 키만 새 경기로 옮김
	delete(h.rooms, oldID)
	h.rooms[s.ID] = r
	r.version = s.Version
	for c := range r.conns {
		c.matchID = s.ID
		v, err := match.Project(s, c.user.UserID)
		if err != nil {
			continue
		}
		c.emit(EventStateLoaded, v)
		c.emit(EventDiceRollStart, MessagePayload{Message: text})
	}
}
