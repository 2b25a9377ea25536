package account

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/pawnline-match-server/internal/match"
	"github.com/park285/pawnline-match-server/internal/pvpmatch"
)

func TestCreditRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	var got CreditRequest
	var key, apiKey, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		key, apiKey, path = r.Header.Get("Idempotency-Key"), r.Header.Get("X-API-Key"), r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithAPIKey("k"), WithTimeout(2*time.Second))
	err := c.Credit(context.Background(), pvpmatch.Credit{MatchID: "m1", UserID: "u1", Coins: 2, Outcome: match.OutcomeWin})
	require.NoError(t, err)

	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, "/v1/users/u1/match-rewards", path)
	assert.Equal(t, "m1:u1", key)
	assert.Equal(t, "k", apiKey)
	assert.Equal(t, CreditRequest{MatchID: "m1", Coins: 2, Outcome: "win"}, got)
}

func TestCreditDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.Credit(context.Background(), pvpmatch.Credit{MatchID: "m1", UserID: "u1", Coins: 1})
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Status)
	assert.False(t, se.Temporary())
}

func TestCreditGivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithAttempts(2))
	err := c.Credit(context.Background(), pvpmatch.Credit{MatchID: "m1", UserID: "u1", Coins: 1})
	require.Error(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestCreditRequiresUser(t *testing.T) {
	assert.Error(t, NewClient("http://127.0.0.1:1").Credit(context.Background(), pvpmatch.Credit{MatchID: "m1"}))
	assert.NoError(t, Nop{}.Credit(context.Background(), pvpmatch.Credit{}))
}

func TestBackoffDuration(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, backoffDuration(1))
	assert.Equal(t, 200*time.Millisecond, backoffDuration(2))
	assert.Equal(t, backoffDuration(6), backoffDuration(9))
}
