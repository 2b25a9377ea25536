// Command matchwatch connects to a running match server as one player, joins its match
// and prints every event it receives. Useful for smoke-testing a deployment.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/park285/pawnline-match-server/internal/authn"
	"github.com/park285/pawnline-match-server/internal/matchclient"
	"github.com/park285/pawnline-match-server/internal/realtime"
)

type watchConfig struct {
	BaseURL   string        `env:"WATCH_BASE_URL" envDefault:"http://localhost:8080"`
	UserID    string        `env:"WATCH_USER_ID,required"`
	MatchID   string        `env:"WATCH_MATCH_ID"`
	Roll      bool          `env:"WATCH_ROLL" envDefault:"false"`
	Window    time.Duration `env:"WATCH_WINDOW" envDefault:"10s"`
	JWTSecret string        `env:"JWT_SECRET,required"`
	JWTIssuer string        `env:"JWT_ISSUER"`
}

func main() {
	var cfg watchConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("parse env: %v", err)
	}
	base := strings.TrimRight(cfg.BaseURL, "/")

	hctx, hcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer hcancel()
	req, _ := http.NewRequestWithContext(hctx, http.MethodGet, base+"/healthz", nil)
	if resp, err := http.DefaultClient.Do(req); err != nil {
		log.Printf("/healthz error: %v", err)
	} else {
		_ = resp.Body.Close()
		log.Printf("/healthz status=%d", resp.StatusCode)
	}

	verifier, err := authn.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer, nil)
	if err != nil {
		log.Fatalf("verifier: %v", err)
	}
	token, err := verifier.Issue(authn.Identity{UserID: cfg.UserID, DisplayName: cfg.UserID}, "", time.Hour)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/ws"
	client := matchclient.New(wsURL, matchclient.WithToken(token))
	client.OnStateChange(func(state matchclient.State) {
		log.Printf("WS state: %s", state)
	})
	client.OnMessage(func(msg *matchclient.Message) {
		fmt.Printf("%s %s\n", msg.Type, string(msg.Payload))
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := client.Connect(cctx); err != nil {
		log.Fatalf("WS connect error: %v", err)
	}
	defer func() { _ = client.Close(context.Background()) }()

	if err := client.Send(cctx, realtime.EventJoin, realtime.JoinPayload{MatchID: cfg.MatchID}); err != nil {
		log.Fatalf("join: %v", err)
	}
	if cfg.Roll {
		if err := client.Send(cctx, realtime.EventRollDice, nil); err != nil {
			log.Printf("rollDice: %v", err)
		}
	}

	t := time.NewTimer(cfg.Window)
	<-t.C
}
