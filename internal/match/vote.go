package match

import "strings"

// Vote is one participant's answer in a two-sided agreement such as an early end or a
// rematch.
type Vote string

const (
	VoteRequest Vote = "request"
	VoteAccept  Vote = "accept"
	VoteDecline Vote = "decline"
)

// ParseVote maps a client answer to a Vote. An empty answer is a request.
func ParseVote(s string) (Vote, error) {
	switch v := Vote(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return VoteRequest, nil
	case VoteRequest, VoteAccept, VoteDecline:
		return v, nil
	default:
		return "", errorf(KindInvalidRequest, "unknown vote %q", s)
	}
}

// VoteResult reports how an end vote changed the session.
type VoteResult struct {
	Vote      Vote   `json:"vote"`
	Requester string `json:"requester,omitempty"`
	Declined  bool   `json:"declined"`
	Ended     bool   `json:"ended"`
}

// VoteEnd records participantID's answer to an early end. A request is stored until the
// opponent accepts or either side declines. Two crossing requests count as agreement.
// Agreement ends the match with the scores as they stand; the leader earns AgreedWin.
func (e *Engine) VoteEnd(s *Session, participantID string, v Vote) (VoteResult, error) {
	if s.Participant(participantID) == nil {
		return VoteResult{}, ErrParticipantNotInMatch
	}
	if s.Phase != PhasePlaying {
		return VoteResult{}, errorf(KindWrongPhase, "cannot vote to end during %s", s.Phase)
	}
	opp := s.Opponent(participantID)
	res := VoteResult{Vote: v}

	switch v {
	case VoteRequest:
		if s.EndVote != opp.ID {
			s.EndVote = participantID
			res.Requester = participantID
			e.touch(s)
			return res, nil
		}
	case VoteAccept:
		if s.EndVote != opp.ID {
			return VoteResult{}, errorf(KindInvalidRequest, "no end request from the opponent")
		}
	case VoteDecline:
		if s.EndVote == "" {
			return VoteResult{}, errorf(KindInvalidRequest, "no end request pending")
		}
		res.Requester = s.EndVote
		res.Declined = true
		s.EndVote = ""
		e.touch(s)
		return res, nil
	default:
		return VoteResult{}, errorf(KindInvalidRequest, "unknown vote %q", v)
	}

	// 양쪽이 동의하면 현재 점수로 종료
	res.Requester = opp.ID
	s.EndVote = ""
	RecomputeScores(s)
	winner := ""
	if l := Leader(s); l != nil {
		winner = l.ID
		l.CoinsEarned = e.rewards.AgreedWin
	}
	e.finish(s, winner, StatusCompleted, EndAgreed)
	res.Ended = true
	return res, nil
}
