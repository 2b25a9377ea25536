package realtime

import (
	"encoding/json"

	"github.com/park285/pawnline-match-server/internal/match"
)

// Envelope is the frame sent in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound event types.
const (
	EventJoin             = "join"
	EventRollDice         = "rollDice"
	EventPreviewPlacement = "previewPlacement"
	EventPlayCard         = "playCard"
	EventSkipTurn         = "skipTurn"
	EventVoteEnd          = "voteEnd"
	EventRematch          = "rematch"
	EventLeave            = "leave"
)

// Outbound event types.
const (
	EventStateLoaded     = "stateLoaded"
	EventStateUpdated    = "stateUpdated"
	EventDiceRollStart   = "diceRollStart"
	EventDiceRollWaiting = "diceRollWaiting"
	EventDiceRollResult  = "diceRollResult"
	EventPreviewResult   = "previewResult"
	EventMatchEnded      = "matchEnded"
	EventForceLeave      = "forceLeave"
	EventErrorOccurred   = "errorOccurred"

	EventEndVoteRequested = "endVoteRequested"
	EventEndVoteSent      = "endVoteSent"
	EventEndVoteDeclined  = "endVoteDeclined"
	EventRematchRequested = "rematchRequested"
	EventRematchSent      = "rematchSent"
	EventRematchDeclined  = "rematchDeclined"
)

type JoinPayload struct {
	// MatchID may be empty to rejoin the caller's active match.
	MatchID string `json:"matchId,omitempty"`
}

// PreviewPayload coordinates are in the sender's frame. Missing coordinates clear the preview.
type PreviewPayload struct {
	CardID    string `json:"cardId"`
	HandIndex *int   `json:"handIndex,omitempty"`
	X         *int   `json:"x"`
	Y         *int   `json:"y"`
}

type PlayCardPayload struct {
	CardID    string `json:"cardId"`
	HandIndex int    `json:"handIndex"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
}

// VotePayload answers an early end or a rematch. Response is request, accept or decline;
// empty means request. MatchID names the finished match for a rematch and defaults to
// the joined one.
type VotePayload struct {
	Response string `json:"response,omitempty"`
	MatchID  string `json:"matchId,omitempty"`
}

type VoteRequestPayload struct {
	Requester     match.Label `json:"requester"`
	RequesterName string      `json:"requesterName"`
	Message       string      `json:"message"`
}

type MessagePayload struct {
	Message string `json:"message"`
}

type DiceWaitingPayload struct {
	MyRoll  int    `json:"myRoll"`
	Message string `json:"message"`
}

type DiceResultPayload struct {
	Rolls     map[match.Label]int `json:"rolls"`
	Tie       bool                `json:"tie"`
	FirstTurn match.Label         `json:"firstTurn,omitempty"`
	Message   string              `json:"message"`
}

type MatchEndedPayload struct {
	MatchID       string             `json:"matchId"`
	Status        match.Status       `json:"status"`
	Reason        match.EndReason    `json:"reason"`
	WinnerID      string             `json:"winnerId,omitempty"`
	Winner        match.Label        `json:"winner"`
	Outcome       match.Outcome      `json:"outcome"`
	FinalScore    map[string]float64 `json:"finalScore"`
	CoinsEarned   int                `json:"coinsEarned"`
	Message       string             `json:"message"`
	ReturnToLobby bool               `json:"returnToLobby"`
}

type ErrorPayload struct {
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	ReturnToLobby bool   `json:"returnToLobby,omitempty"`
}

func envelope(typ string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Payload: raw}, nil
}
