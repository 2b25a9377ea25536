package pvpmatch

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/park285/pawnline-match-server/internal/match"
	"github.com/park285/pawnline-match-server/internal/obslog"
)

// rematchOffer is what a completed match leaves behind so its players can go again.
type rematchOffer struct {
	req     StartRequest
	votes   map[string]bool
	expires time.Time
}

func (o *rematchOffer) opponent(userID string) string {
	switch userID {
	case o.req.Home.ID:
		return o.req.Away.ID
	case o.req.Away.ID:
		return o.req.Home.ID
	}
	return ""
}

// rematchBook holds offers in process memory, next to the rooms that use them.
type rematchBook struct {
	mu     sync.Mutex
	offers map[string]*rematchOffer
}

func (b *rematchBook) put(matchID string, o *rematchOffer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offers[matchID] = o
}

func (b *rematchBook) prune(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, o := range b.offers {
		if !now.Before(o.expires) {
			delete(b.offers, id)
		}
	}
}

// offerRematch opens a rematch for matches that were played out or ended by agreement.
// Forfeits and expiries leave nobody to play against.
func (m *Manager) offerRematch(s *match.Session) {
	if s.EndReason != match.EndCompleted && s.EndReason != match.EndAgreed {
		return
	}
	home, away := s.Home(), s.Away()
	if home == nil || away == nil {
		return
	}
	m.rematches.put(s.ID, &rematchOffer{
		req: StartRequest{
			LobbyID: s.LobbyID,
			MapID:   s.MapID,
			Home:    seatOf(home),
			Away:    seatOf(away),
		},
		votes:   make(map[string]bool, 2),
		expires: m.now().Add(m.rematchWindow),
	})
}

func seatOf(p *match.Participant) match.Seat {
	return match.Seat{
		ID:          p.ID,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		Avatar:      p.Avatar,
		Character:   p.Character,
		Deck:        append([]string(nil), p.Decklist...),
	}
}

// RematchResult reports a rematch vote. Session is the new match once both agreed.
type RematchResult struct {
	Vote      match.Vote
	Requester string
	Declined  bool
	Session   *match.Session
}

// Rematch records userID's answer to playing matchID again. Crossing requests count as
// agreement. On agreement a fresh match with the same seats, decks and map is created
// in dice_roll; a decline withdraws the offer for both players.
func (m *Manager) Rematch(ctx context.Context, matchID, userID string, v match.Vote) (*RematchResult, error) {
	ctx, span := m.tracer.Start(ctx, "pvpmatch.Rematch", trace.WithAttributes(
		attribute.String("match.id", matchID),
		attribute.String("user.id", userID),
		attribute.String("vote", string(v)),
	))
	defer span.End()

	now := m.now()
	b := &m.rematches
	b.mu.Lock()
	o := b.offers[matchID]
	if o != nil && !now.Before(o.expires) {
		delete(b.offers, matchID)
		o = nil
	}
	if o == nil {
		b.mu.Unlock()
		return nil, &match.Error{Kind: match.KindSessionNotFound, Message: "no rematch offered for " + matchID}
	}
	opp := o.opponent(userID)
	if opp == "" {
		b.mu.Unlock()
		return nil, match.ErrParticipantNotInMatch
	}

	res := &RematchResult{Vote: v}
	switch v {
	case match.VoteRequest:
		if !o.votes[opp] {
			o.votes[userID] = true
			b.mu.Unlock()
			res.Requester = userID
			obslog.L().Info("match_rematch_request", zap.String("match_id", matchID), zap.String("user_id", userID))
			return res, nil
		}
	case match.VoteAccept:
		if !o.votes[opp] {
			b.mu.Unlock()
			return nil, invalid("no rematch request from the opponent")
		}
	case match.VoteDecline:
		delete(b.offers, matchID)
		b.mu.Unlock()
		res.Declined = true
		for id, voted := range o.votes {
			if voted {
				res.Requester = id
			}
		}
		obslog.L().Info("match_rematch_decline", zap.String("match_id", matchID), zap.String("user_id", userID))
		return res, nil
	default:
		b.mu.Unlock()
		return nil, invalid("unknown vote %q", v)
	}

	// 먼저 꺼내 두어야 동시에 들어온 수락이 경기를 두 번 만들지 않음
	delete(b.offers, matchID)
	b.mu.Unlock()

	s, err := m.CreateMatch(ctx, o.req)
	if err != nil {
		if _, ok := match.KindOf(err); !ok {
			b.put(matchID, o)
		}
		return nil, spanErr(span, err)
	}
	res.Requester = opp
	res.Session = s
	span.SetAttributes(attribute.String("rematch.id", s.ID))
	obslog.L().Info("match_rematch_start",
		zap.String("match_id", matchID),
		zap.String("rematch_id", s.ID),
	)
	return res, nil
}
