package realtime_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/pawnline-match-server/internal/authn"
	"github.com/park285/pawnline-match-server/internal/catalog"
	"github.com/park285/pawnline-match-server/internal/match"
	"github.com/park285/pawnline-match-server/internal/matchclient"
	"github.com/park285/pawnline-match-server/internal/matchstore"
	"github.com/park285/pawnline-match-server/internal/pvpmatch"
	"github.com/park285/pawnline-match-server/internal/realtime"
)

const lobbyAudience = "match-intake"

// dice returns the scripted faces in order and never shuffles.
type dice struct{ faces []int }

func (d *dice) IntN(int) int {
	if len(d.faces) == 0 {
		return 0
	}
	f := d.faces[0]
	d.faces = d.faces[1:]
	return f - 1
}

func (d *dice) Shuffle(int, func(i, j int)) {}

type env struct {
	srv      *httptest.Server
	verifier *authn.Verifier
	results  *pvpmatch.MemoryRepository
	hub      *realtime.Hub
}

func newEnv(t *testing.T, faces ...int) *env {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	verifier, err := authn.NewVerifier("test-secret", "", nil)
	require.NoError(t, err)

	store := matchstore.NewMemory()
	engine := match.NewEngine(&dice{faces: faces}, cat, match.DefaultRewards)
	results := pvpmatch.NewMemoryRepository()
	mgr := pvpmatch.NewManager(store, engine, cat, pvpmatch.WithResults(results))
	hub := realtime.NewHub(mgr, verifier,
		realtime.WithForceLeaveGrace(50*time.Millisecond),
		realtime.WithTieDelay(10*time.Millisecond),
	)
	srv := httptest.NewServer(realtime.NewRouter(hub, lobbyAudience, nil))
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
	})
	return &env{srv: srv, verifier: verifier, results: results, hub: hub}
}

func (e *env) token(t *testing.T, userID, audience string) string {
	t.Helper()
	tok, err := e.verifier.Issue(authn.Identity{UserID: userID, DisplayName: userID}, audience, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *env) startMatch(t *testing.T) string {
	t.Helper()
	deck := []string{"squire", "scout", "archer", "bard", "golem", "knight"}
	body, _ := json.Marshal(pvpmatch.StartRequest{
		LobbyID: "lobby-1",
		MapID:   "meadow",
		Home:    match.Seat{ID: "u1", DisplayName: "Ann", Character: match.Character{ID: "knight"}, Deck: deck},
		Away:    match.Seat{ID: "u2", DisplayName: "Bo", Character: match.Character{ID: "ranger"}, Deck: deck},
	})
	req, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/v1/matches", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+e.token(t, "lobby", lobbyAudience))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out struct {
		MatchID string `json:"matchId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.MatchID)
	return out.MatchID
}

type player struct {
	c     *matchclient.Client
	inbox <-chan matchclient.Message
}

func (e *env) connect(t *testing.T, userID string) *player {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	c := matchclient.New(url, matchclient.WithToken(e.token(t, userID, "")))
	inbox, _ := c.Subscribe(64)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return &player{c: c, inbox: inbox}
}

func (p *player) send(t *testing.T, typ string, payload any) {
	t.Helper()
	require.NoError(t, p.c.Send(context.Background(), typ, payload))
}

// expect skips messages until one of type typ arrives.
func (p *player) expect(t *testing.T, typ string, into any) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case m := <-p.inbox:
			if m.Type != typ {
				continue
			}
			if into != nil {
				require.NoError(t, m.Decode(into))
			}
			return
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func (e *env) joinBoth(t *testing.T, matchID string) (*player, *player) {
	t.Helper()
	home, away := e.connect(t, "u1"), e.connect(t, "u2")
	for _, p := range []*player{home, away} {
		p.send(t, realtime.EventJoin, realtime.JoinPayload{MatchID: matchID})
		var v match.View
		p.expect(t, realtime.EventStateLoaded, &v)
		require.Equal(t, match.PhaseDiceRoll, v.Phase)
		p.expect(t, realtime.EventDiceRollStart, nil)
	}
	return home, away
}

func TestDiceRollAndDisconnectForfeit(t *testing.T) {
	e := newEnv(t, 5, 2)
	matchID := e.startMatch(t)
	home, away := e.joinBoth(t, matchID)

	home.send(t, realtime.EventRollDice, nil)
	var wait realtime.DiceWaitingPayload
	home.expect(t, realtime.EventDiceRollWaiting, &wait)
	assert.Equal(t, 5, wait.MyRoll)

	away.send(t, realtime.EventRollDice, nil)
	var homeRes, awayRes realtime.DiceResultPayload
	home.expect(t, realtime.EventDiceRollResult, &homeRes)
	away.expect(t, realtime.EventDiceRollResult, &awayRes)
	assert.Equal(t, match.LabelSelf, homeRes.FirstTurn)
	assert.Equal(t, 5, homeRes.Rolls[match.LabelSelf])
	assert.Equal(t, 2, homeRes.Rolls[match.LabelOpponent])
	assert.Equal(t, match.LabelOpponent, awayRes.FirstTurn)
	assert.Equal(t, 2, awayRes.Rolls[match.LabelSelf])

	var v match.View
	away.expect(t, realtime.EventStateUpdated, &v)
	assert.Equal(t, match.PhasePlaying, v.Phase)
	assert.False(t, v.IsMyTurn)

	require.NoError(t, away.c.Close(context.Background()))

	var ended realtime.MatchEndedPayload
	home.expect(t, realtime.EventMatchEnded, &ended)
	assert.Equal(t, match.StatusAbandoned, ended.Status)
	assert.Equal(t, match.EndForfeit, ended.Reason)
	assert.Equal(t, "u1", ended.WinnerID)
	assert.Equal(t, match.LabelSelf, ended.Winner)
	assert.Equal(t, 1, ended.CoinsEarned)
	assert.True(t, ended.ReturnToLobby)
	assert.Equal(t, "Opponent disconnected - You win!", ended.Message)

	var leave realtime.MessagePayload
	home.expect(t, realtime.EventForceLeave, &leave)
	assert.Contains(t, leave.Message, "Returning to lobby")

	rec := e.results.Get(matchID)
	require.NotNil(t, rec)
	assert.Equal(t, "u1", rec.WinnerID)
}

func TestTieRerollAnnouncement(t *testing.T) {
	e := newEnv(t, 3, 3, 6, 1)
	matchID := e.startMatch(t)
	home, away := e.joinBoth(t, matchID)

	home.send(t, realtime.EventRollDice, nil)
	home.expect(t, realtime.EventDiceRollWaiting, nil)
	away.send(t, realtime.EventRollDice, nil)

	var res realtime.DiceResultPayload
	away.expect(t, realtime.EventDiceRollResult, &res)
	assert.True(t, res.Tie)
	assert.Empty(t, res.FirstTurn)

	var again realtime.MessagePayload
	home.expect(t, realtime.EventDiceRollStart, &again)
	assert.Equal(t, "Roll again!", again.Message)
	away.expect(t, realtime.EventDiceRollStart, nil)

	home.send(t, realtime.EventRollDice, nil)
	var wait realtime.DiceWaitingPayload
	home.expect(t, realtime.EventDiceRollWaiting, &wait)
	assert.Equal(t, 6, wait.MyRoll)
}

func TestLeaveSendsBothSidesToLobby(t *testing.T) {
	e := newEnv(t, 5, 2)
	matchID := e.startMatch(t)
	home, away := e.joinBoth(t, matchID)

	home.send(t, realtime.EventLeave, nil)

	var mine, theirs realtime.MatchEndedPayload
	home.expect(t, realtime.EventMatchEnded, &mine)
	assert.Equal(t, match.OutcomeLoss, mine.Outcome)
	assert.Equal(t, "You left the match.", mine.Message)

	away.expect(t, realtime.EventMatchEnded, &theirs)
	assert.Equal(t, match.OutcomeWin, theirs.Outcome)
	assert.Equal(t, "Opponent left the game - You win!", theirs.Message)
	assert.Contains(t, theirs.FinalScore, "u1")
	away.expect(t, realtime.EventForceLeave, nil)

	// the room is gone; further actions need a new join
	away.send(t, realtime.EventRollDice, nil)
	var errp realtime.ErrorPayload
	away.expect(t, realtime.EventErrorOccurred, &errp)
	assert.Equal(t, "not_joined", errp.Kind)
}

func TestErrorsAndPreview(t *testing.T) {
	e := newEnv(t, 5, 2)
	matchID := e.startMatch(t)

	stranger := e.connect(t, "u9")
	stranger.send(t, realtime.EventRollDice, nil)
	var errp realtime.ErrorPayload
	stranger.expect(t, realtime.EventErrorOccurred, &errp)
	assert.Equal(t, "not_joined", errp.Kind)
	assert.Equal(t, "Join a match first.", errp.Message)

	stranger.send(t, realtime.EventJoin, realtime.JoinPayload{MatchID: matchID})
	stranger.expect(t, realtime.EventErrorOccurred, &errp)
	assert.Equal(t, string(match.KindParticipantNotInMatch), errp.Kind)

	stranger.send(t, realtime.EventJoin, realtime.JoinPayload{MatchID: "missing"})
	stranger.expect(t, realtime.EventErrorOccurred, &errp)
	assert.Equal(t, string(match.KindSessionNotFound), errp.Kind)
	assert.True(t, errp.ReturnToLobby)

	stranger.send(t, "fly", nil)
	stranger.expect(t, realtime.EventErrorOccurred, &errp)
	assert.Equal(t, string(match.KindInvalidRequest), errp.Kind)

	// rejoin without an id resolves the active match
	home := e.connect(t, "u1")
	home.send(t, realtime.EventJoin, realtime.JoinPayload{})
	var v match.View
	home.expect(t, realtime.EventStateLoaded, &v)
	assert.Equal(t, matchID, v.MatchID)

	home.send(t, realtime.EventPreviewPlacement, realtime.PreviewPayload{CardID: "squire"})
	var pv match.Preview
	home.expect(t, realtime.EventPreviewResult, &pv)
	assert.False(t, pv.Valid)
	assert.NotNil(t, pv.PawnCells)
	assert.Empty(t, pv.PawnCells)

	home.send(t, realtime.EventPlayCard, realtime.PlayCardPayload{CardID: "squire", HandIndex: 0, X: 3, Y: 2})
	home.expect(t, realtime.EventErrorOccurred, &errp)
	assert.Equal(t, string(match.KindWrongPhase), errp.Kind)
}

func TestUnauthenticated(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Get(e.srv.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/v1/matches", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer "+e.token(t, "u1", ""))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodPost, e.srv.URL+"/v1/matches", strings.NewReader(`{"mapId":"nowhere"}`))
	req.Header.Set("Authorization", "Bearer "+e.token(t, "lobby", lobbyAudience))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(e.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestVoteEndThenRematch(t *testing.T) {
	e := newEnv(t, 5, 2)
	matchID := e.startMatch(t)
	home, away := e.joinBoth(t, matchID)

	home.send(t, realtime.EventRollDice, nil)
	home.expect(t, realtime.EventDiceRollWaiting, nil)
	away.send(t, realtime.EventRollDice, nil)
	away.expect(t, realtime.EventDiceRollResult, nil)

	home.send(t, realtime.EventVoteEnd, realtime.VotePayload{})
	var sent realtime.MessagePayload
	home.expect(t, realtime.EventEndVoteSent, &sent)
	assert.Equal(t, "End game request sent to opponent.", sent.Message)
	var ask realtime.VoteRequestPayload
	away.expect(t, realtime.EventEndVoteRequested, &ask)
	assert.Equal(t, match.LabelOpponent, ask.Requester)
	assert.Equal(t, "u1 wants to end the game. Do you agree?", ask.Message)

	away.send(t, realtime.EventVoteEnd, realtime.VotePayload{Response: "decline"})
	var declined realtime.MessagePayload
	away.expect(t, realtime.EventEndVoteDeclined, &declined)
	assert.Equal(t, "You declined the end game request.", declined.Message)
	home.expect(t, realtime.EventEndVoteDeclined, &declined)
	assert.Equal(t, "Opponent declined to end the game.", declined.Message)

	home.send(t, realtime.EventVoteEnd, realtime.VotePayload{Response: "request"})
	away.expect(t, realtime.EventEndVoteRequested, nil)
	away.send(t, realtime.EventVoteEnd, realtime.VotePayload{Response: "accept"})

	var ended realtime.MatchEndedPayload
	home.expect(t, realtime.EventMatchEnded, &ended)
	assert.Equal(t, matchID, ended.MatchID)
	assert.Equal(t, match.EndAgreed, ended.Reason)
	assert.Equal(t, match.OutcomeDraw, ended.Outcome)
	assert.Equal(t, "It's a draw.", ended.Message)
	assert.False(t, ended.ReturnToLobby)
	away.expect(t, realtime.EventMatchEnded, nil)

	rec := e.results.Get(matchID)
	require.NotNil(t, rec)
	assert.Equal(t, match.EndAgreed, rec.EndReason)

	away.send(t, realtime.EventRematch, realtime.VotePayload{MatchID: matchID})
	away.expect(t, realtime.EventRematchSent, nil)
	var again realtime.VoteRequestPayload
	home.expect(t, realtime.EventRematchRequested, &again)
	assert.Equal(t, "u2 wants to play again!", again.Message)

	home.send(t, realtime.EventRematch, realtime.VotePayload{Response: "accept"})
	for _, p := range []*player{home, away} {
		var v match.View
		p.expect(t, realtime.EventStateLoaded, &v)
		assert.NotEqual(t, matchID, v.MatchID)
		assert.Equal(t, match.PhaseDiceRoll, v.Phase)
		var start realtime.MessagePayload
		p.expect(t, realtime.EventDiceRollStart, &start)
		assert.Equal(t, "Rematch started! Roll for first turn!", start.Message)
	}

	// the room followed the players into the new match
	home.send(t, realtime.EventRollDice, nil)
	var wait realtime.DiceWaitingPayload
	home.expect(t, realtime.EventDiceRollWaiting, &wait)
	assert.Equal(t, 1, wait.MyRoll)
}

func TestRematchWithdrawnWhenOpponentLeaves(t *testing.T) {
	e := newEnv(t, 5, 2)
	matchID := e.startMatch(t)
	home, away := e.joinBoth(t, matchID)
	home.send(t, realtime.EventRollDice, nil)
	home.expect(t, realtime.EventDiceRollWaiting, nil)
	away.send(t, realtime.EventRollDice, nil)
	away.expect(t, realtime.EventDiceRollResult, nil)
	home.send(t, realtime.EventVoteEnd, nil)
	away.expect(t, realtime.EventEndVoteRequested, nil)
	away.send(t, realtime.EventVoteEnd, realtime.VotePayload{Response: "accept"})
	home.expect(t, realtime.EventMatchEnded, nil)

	require.NoError(t, away.c.Close(context.Background()))
	var gone realtime.MessagePayload
	home.expect(t, realtime.EventRematchDeclined, &gone)
	assert.Equal(t, "Opponent left - no rematch this time.", gone.Message)

	home.send(t, realtime.EventRematch, nil)
	var errp realtime.ErrorPayload
	home.expect(t, realtime.EventErrorOccurred, &errp)
	assert.Equal(t, string(match.KindSessionNotFound), errp.Kind)
}
