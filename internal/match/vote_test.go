package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVote(t *testing.T) {
	for in, want := range map[string]Vote{"": VoteRequest, "request": VoteRequest, " Accept ": VoteAccept, "decline": VoteDecline} {
		got, err := ParseVote(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseVote("maybe")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestVoteEndAgreedUsesCurrentScores(t *testing.T) {
	e, s := newTestSession(t, basicCards, deckOf("three", 6), deckOf("zero", 6))
	startPlaying(s, "home")
	_, err := e.PlayCard(s, "home", 0, "three", Coord{X: 1, Y: 0})
	require.NoError(t, err)

	res, err := e.VoteEnd(s, "home", VoteRequest)
	require.NoError(t, err)
	assert.Equal(t, "home", res.Requester)
	assert.False(t, res.Ended)
	assert.Equal(t, "home", s.EndVote)

	_, err = e.VoteEnd(s, "home", VoteAccept)
	assert.ErrorIs(t, err, ErrInvalidRequest, "requester cannot accept its own request")

	res, err = e.VoteEnd(s, "away", VoteAccept)
	require.NoError(t, err)
	assert.True(t, res.Ended)
	assert.Equal(t, PhaseEnded, s.Phase)
	assert.Equal(t, StatusCompleted, s.Status)
	assert.Equal(t, EndAgreed, s.EndReason)
	assert.Equal(t, "home", s.Winner)
	assert.Equal(t, DefaultRewards.AgreedWin, s.Home().CoinsEarned)
	assert.Zero(t, s.Away().CoinsEarned)
	assert.Equal(t, 3.0, s.Home().TotalScore)
	assert.Empty(t, s.EndVote)

	_, err = e.VoteEnd(s, "home", VoteRequest)
	assert.ErrorIs(t, err, ErrWrongPhase)
}

func TestVoteEndDeclineAndCrossingRequests(t *testing.T) {
	e, s := newTestSession(t, basicCards, deckOf("zero", 6), deckOf("zero", 6))

	_, err := e.VoteEnd(s, "home", VoteRequest)
	assert.ErrorIs(t, err, ErrWrongPhase, "no early end before play starts")

	startPlaying(s, "home")
	_, err = e.VoteEnd(s, "away", VoteDecline)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = e.VoteEnd(s, "home", VoteRequest)
	require.NoError(t, err)
	res, err := e.VoteEnd(s, "away", VoteDecline)
	require.NoError(t, err)
	assert.True(t, res.Declined)
	assert.Equal(t, "home", res.Requester)
	assert.Empty(t, s.EndVote)
	assert.Equal(t, PhasePlaying, s.Phase)

	_, err = e.VoteEnd(s, "away", VoteRequest)
	require.NoError(t, err)
	res, err = e.VoteEnd(s, "home", VoteRequest)
	require.NoError(t, err)
	assert.True(t, res.Ended)
	assert.Equal(t, "away", res.Requester)
	assert.Empty(t, s.Winner, "level scores end in a draw")
	assert.Equal(t, OutcomeDraw, OutcomeFor(s, "home"))
	assert.Zero(t, s.Home().CoinsEarned)

	_, err = e.VoteEnd(s, "stranger", VoteRequest)
	assert.ErrorIs(t, err, ErrParticipantNotInMatch)
}
