package main

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quizduel/internal/config"
	"quizduel/internal/logging"
	"quizduel/internal/realtime"
	"quizduel/internal/store"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	logCfg, err := config.LoadLog()
	if err != nil {
		panic(err)
	}
	if err := logging.Init(logCfg); err != nil {
		panic(err)
	}
	cfg, err := config.LoadBot()
	if err != nil {
		log.Fatal().Err(err).Msg("load bot config failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := newClient(cfg.BaseURL, cfg.APIKey)
	if c.apiKey == "" {
		reg, err := c.register(ctx, cfg.DisplayName)
		if err != nil {
			log.Fatal().Err(err).Msg("register failed")
		}
		c.apiKey = reg.APIKey
		log.Info().Str("player_id", reg.PlayerID).Msg("registered")
	}

	matchID, err := findMatch(ctx, c, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("matchmaking failed")
	}
	log.Info().Str("match_id", matchID).Msg("match started")
	if err := play(ctx, c, matchID); err != nil {
		log.Fatal().Err(err).Msg("play failed")
	}
}

// findMatch queues (or starts a self-play offer), accepts the offer and
// waits on the lobby socket until the match exists.
func findMatch(ctx context.Context, c *client, cfg config.BotConfig) (string, error) {
	lobby, err := c.dial(ctx, "/ws/lobby")
	if err != nil {
		return "", err
	}
	defer lobby.Close()
	created := make(chan string, 1)
	go func() {
		for {
			_, data, err := lobby.ReadMessage()
			if err != nil {
				return
			}
			var ev realtime.MatchCreated
			if json.Unmarshal(data, &ev) == nil && ev.Type == realtime.EventMatchCreated {
				created <- ev.MatchID
				return
			}
		}
	}()

	var offerID string
	if cfg.SelfPlay {
		o, err := c.selfPlay(ctx, cfg.Subject, cfg.Level)
		if err != nil {
			return "", err
		}
		offerID = o.OfferID
	} else {
		q, err := c.joinQueue(ctx, cfg.Subject, cfg.Level)
		if err != nil {
			return "", err
		}
		if q.Offer != nil {
			offerID = q.Offer.OfferID
		}
	}

	ticker := time.NewTicker(cfg.PollEvery)
	defer ticker.Stop()
	accepted := ""
	for {
		if offerID != "" && offerID != accepted {
			res, err := c.accept(ctx, offerID)
			if err != nil {
				log.Warn().Err(err).Str("offer_id", offerID).Msg("accept failed")
				offerID = ""
			} else {
				accepted = offerID
				if res.MatchID != "" {
					return res.MatchID, nil
				}
				log.Info().Str("offer_id", offerID).Msg("waiting for opponent")
			}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case id := <-created:
			return id, nil
		case <-ticker.C:
			if accepted == "" && !cfg.SelfPlay {
				if err := c.heartbeat(ctx); err != nil {
					var ae *apiError
					if errors.As(err, &ae) && ae.Status == http.StatusNotFound {
						if _, err := c.joinQueue(ctx, cfg.Subject, cfg.Level); err != nil {
							return "", err
						}
					}
				}
			}
			if o, err := c.pendingOffer(ctx); err == nil && o.OfferID != accepted {
				offerID = o.OfferID
			}
		}
	}
}

// play answers every step at random until MATCH_END.
func play(ctx context.Context, c *client, matchID string) error {
	conn, err := c.dial(ctx, "/ws/matches/"+matchID)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var base struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &base); err != nil {
			continue
		}
		switch base.Type {
		case realtime.EventRoundStart:
			var ev realtime.RoundStart
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}
			log.Info().Int("round", ev.RoundIndex).Str("question_id", ev.Question.ID).Msg("round start")
			if err := send(conn, realtime.ReadyForOptions{Type: realtime.MsgReadyForOptions, MatchID: matchID}); err != nil {
				return err
			}
		case realtime.EventPhaseChange:
			var ev realtime.PhaseChange
			if err := json.Unmarshal(data, &ev); err != nil || ev.Phase != store.PhaseChoosing {
				continue
			}
			for _, step := range ev.Steps {
				if len(step.Options) == 0 {
					continue
				}
				msg := realtime.AnswerSubmit{
					Type:    realtime.MsgAnswerSubmit,
					MatchID: matchID,
					StepID:  step.ID,
					Answer:  rnd.Intn(len(step.Options)),
				}
				if err := send(conn, msg); err != nil {
					return err
				}
			}
		case realtime.EventRoundResult:
			var ev realtime.RoundResult
			if err := json.Unmarshal(data, &ev); err == nil {
				log.Info().Int("round", ev.RoundIndex).Int("p1_score", ev.P1Score).Int("p2_score", ev.P2Score).Msg("round result")
			}
		case realtime.EventMatchEnd:
			var ev realtime.MatchEnd
			if err := json.Unmarshal(data, &ev); err == nil {
				winner := ""
				if ev.WinnerPlayerID != nil {
					winner = *ev.WinnerPlayerID
				}
				log.Info().Str("winner", winner).Str("reason", ev.Summary.Reason).Msg("match end")
			}
			return nil
		case realtime.EventError:
			log.Warn().RawJSON("event", data).Msg("server error")
		}
	}
}

func send(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}
