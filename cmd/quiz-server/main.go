package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quizduel/internal/app/duel"
	"quizduel/internal/app/player"
	"quizduel/internal/archive"
	"quizduel/internal/config"
	"quizduel/internal/logging"
	"quizduel/internal/matchmaking"
	"quizduel/internal/matchround"
	"quizduel/internal/mcpserver"
	"quizduel/internal/notify"
	"quizduel/internal/presence"
	"quizduel/internal/questions"
	"quizduel/internal/realtime"
	"quizduel/internal/store"
	"quizduel/internal/sweeper"
	httptransport "quizduel/internal/transport/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const hubHistory = 64

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	cfg, err := config.LoadApp()
	if err != nil {
		panic(err)
	}
	if err := logging.Init(cfg.Log); err != nil {
		panic(err)
	}
	defer logging.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg config.AppConfig) error {
	repo, closeRepo, err := openRepository(ctx, cfg.Server)
	if err != nil {
		return err
	}
	defer closeRepo()

	bank, err := questions.LoadBank(cfg.Server.QuestionBankPath)
	if err != nil {
		return err
	}
	archiver, err := newArchiver(ctx, cfg.Server)
	if err != nil {
		return err
	}
	pushCfg, err := notify.ConfigFromPush(cfg.Push)
	if err != nil {
		return err
	}

	hub := realtime.NewHub(hubHistory)
	engine := matchround.NewEngine(repo, bank, matchround.RulesFromConfig(cfg.Match), hub, matchround.WithArchiver(archiver))
	grace := realtime.NewGrace(cfg.Match.ForfeitGrace, hub, engine)

	players := player.NewService(repo)
	gateway := realtime.NewGateway(hub, engine, httptransport.PlayerIDAuth(players), grace)
	negotiator := matchmaking.NewNegotiator(repo, engine, hub, matchmaking.NegotiatorConfigFrom(cfg.Match, cfg.Server.AllowSelfPlay))

	node, _ := os.Hostname()
	tracker := presence.NewTracker(node+"-"+store.NewID(), cfg.Match.PresenceAwayAfter, cfg.Match.PresenceDropAfter)
	var relay *presence.RedisRelay
	if cfg.Server.RedisAddr != "" {
		relay = presence.NewRedisRelay(&redis.Options{
			Addr:     cfg.Server.RedisAddr,
			Password: cfg.Server.RedisPassword,
			DB:       cfg.Server.RedisDB,
		}, presence.DefaultRelayChannel)
		defer relay.Close()
		if err := relay.Ping(ctx); err != nil {
			return err
		}
		tracker.SetRelay(relay)
	}

	sw := sweeper.New(repo, sweeper.ConfigFrom(cfg.Match),
		sweeper.WithRounds(engine),
		sweeper.WithGrace(grace),
		sweeper.WithPresence(tracker),
	)
	duelSvc := duel.NewService(repo, matchmaking.NewQueue(repo), negotiator, engine, sw)
	dispatcher := notify.NewDispatcher(repo, pushCfg)

	router := httptransport.NewRouter(httptransport.Deps{
		Config:   cfg.Server,
		Repo:     repo,
		Players:  players,
		Duel:     duelSvc,
		Gateway:  gateway,
		Presence: presence.NewHandler(tracker, httptransport.PresenceIdentity(players)),
		MCP:      mcpserver.New(players, duelSvc).Handler(),
	})
	httptransport.LogRoutes(router)

	server := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	engine.Start(ctx)
	defer engine.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return negotiator.Run(gctx) })
	g.Go(func() error { return sw.Run(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx, tracker) })
	}
	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.HTTPAddr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openRepository(ctx context.Context, cfg config.ServerConfig) (store.Repository, func(), error) {
	if cfg.StoreDriver == "memory" {
		log.Warn().Msg("using in-memory store; state is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}
	st, err := store.New(cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Ping(ctx); err != nil {
		st.Close()
		return nil, nil, err
	}
	return st, st.Close, nil
}

func newArchiver(ctx context.Context, cfg config.ServerConfig) (matchround.Archiver, error) {
	if !archive.Enabled(cfg) {
		return archive.Nop{}, nil
	}
	a, err := archive.NewS3Archiver(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info().Str("bucket", cfg.ArchiveBucket).Msg("match archive enabled")
	return a, nil
}
