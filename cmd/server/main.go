package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-openpims/credentials"
	staterepofake "github.com/jrsteele09/go-openpims/credentials/repofake"
	"github.com/jrsteele09/go-openpims/credentials/redisrepo"
	"github.com/jrsteele09/go-openpims/internal/config"
	apperrors "github.com/jrsteele09/go-openpims/internal/errors"
	"github.com/jrsteele09/go-openpims/login"
	"github.com/jrsteele09/go-openpims/reconciler"
	"github.com/jrsteele09/go-openpims/rules"
	rulesrepofake "github.com/jrsteele09/go-openpims/rules/repofake"
	"github.com/jrsteele09/go-openpims/server"
	"github.com/jrsteele09/go-openpims/sessions"
	"github.com/jrsteele09/go-openpims/tagger"
	"github.com/jrsteele09/go-openpims/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Error().Err(err).Msg("Error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	setupLogging(c)
	displayAppname(c.GetAppName())

	handler, cleanup, err := build(c)
	if err != nil {
		return err
	}
	defer cleanup()

	httpServer := &http.Server{Addr: c.GetPort(), Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- listenAndServe(httpServer)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(httpServer)
}

// build wires the tagging engine behind the bridge server.
func build(c config.Config) (http.Handler, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	repo, closeRepo, err := stateRepo(c)
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, closeRepo)

	channels, err := rules.ParseChannels(c.GetTagChannels())
	if err != nil {
		return nil, cleanup, fmt.Errorf("TAG_CHANNELS: %w", err)
	}
	builder := rules.NewBuilder(channels, c.GetRuleIDSpace(), c.GetBaseUserAgent())
	store := rulesrepofake.NewFakeRuleStore(c.GetRuleStoreCapacity())

	rc, err := reconciler.New(store,
		reconciler.WithBuilder(builder),
		reconciler.WithStateSource(repo),
		reconciler.WithLogger(log.Logger),
	)
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, rc.Close)

	manager, err := sessions.NewManager(login.NewClient(login.WithTimeout(c.GetLoginTimeout())), repo, rc,
		sessions.WithDefaultServerURL(c.GetLoginURL()),
	)
	if err != nil {
		return nil, cleanup, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.GetLoginTimeout())
	defer cancel()
	if session, err := manager.Restore(ctx); err == nil {
		log.Info().Str("session_id", session.ID).Str("mode", session.Shape.String()).Msg("Restored previous login")
	} else if !errors.Is(err, apperrors.ErrNotLoggedIn) {
		log.Warn().Err(err).Msg("Could not restore previous login")
	}

	bridge, err := bridgeTokens(c)
	if err != nil {
		return nil, cleanup, err
	}

	tg, err := tagger.New(tagger.Capabilities{Store: store, Source: repo}, tagger.WithBuilder(builder))
	if err != nil {
		return nil, cleanup, err
	}

	srv, err := server.New(c, server.Deps{Sessions: manager, Events: rc, Bridge: bridge, Tagger: tg})
	if err != nil {
		return nil, cleanup, err
	}
	return srv, cleanup, nil
}

// stateRepo persists the login state in Redis when REDIS_URL is set, in memory otherwise.
func stateRepo(c config.Config) (credentials.Repo, func(), error) {
	if c.GetRedisURL() == "" {
		log.Warn().Msg("REDIS_URL not set, login state is kept in memory")
		return staterepofake.NewFakeStateRepo(), func() {}, nil
	}

	key, err := redisrepo.ParseKey(c.GetStateKey())
	if err != nil {
		return nil, nil, fmt.Errorf("STATE_KEY: %w", err)
	}
	client, err := redisrepo.NewRedisClient(c.GetRedisURL())
	if err != nil {
		return nil, nil, err
	}
	repo, err := redisrepo.New(client, c.GetStateNamespace(), key)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return repo, func() { _ = client.Close() }, nil
}

func bridgeTokens(c config.Config) (*token.Bridge, error) {
	secret := c.GetBridgeSecret()
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate bridge secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
		log.Warn().Msg("BRIDGE_SECRET not set, bridge tokens will not survive a restart")
	}

	signer, err := token.NewHMACSigner(secret)
	if err != nil {
		return nil, err
	}
	return token.NewBridge(signer, c.GetBridgeTokenTTL())
}

func setupLogging(c config.Config) {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	log.Logger = log.With().Str("app", c.GetAppName()).Logger()
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
