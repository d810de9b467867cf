package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/jrsteele09/go-session-authn/credentials"
	"github.com/jrsteele09/go-session-authn/internal/config"
	apperrors "github.com/jrsteele09/go-session-authn/internal/errors"
	"github.com/jrsteele09/go-session-authn/realms"
	"github.com/jrsteele09/go-session-authn/server"
	"github.com/jrsteele09/go-session-authn/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

type flags struct {
	authConfig string
	port       string
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error loading .env: %s\n", err)
	}

	var f flags
	pflag.StringVarP(&f.authConfig, "config", "c", "", "authentication YAML file (overrides AUTH_CONFIG)")
	pflag.StringVarP(&f.port, "port", "p", "", "listen port (overrides PORT)")
	pflag.Parse()

	if err := run(f); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run(f flags) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	setupLogging(c)
	displayAppname(c.GetAppName())

	authConfig := f.authConfig
	if authConfig == "" {
		authConfig = c.GetAuthConfigFile()
	}
	setup, err := config.LoadAuthFile(authConfig)
	if err != nil {
		return err
	}

	realmRepo, err := realms.NewInMemoryRepo(setup.Realms...)
	if err != nil {
		return apperrors.Wrapf(err, "loading realms")
	}
	registry := credentials.NewRegistry()
	for _, entity := range setup.Credentials {
		for _, name := range entity.Names {
			registry.Set(entity.EntityID, name)
		}
		for _, name := range entity.Outdated {
			if err := registry.MarkOutdated(entity.EntityID, name); err != nil {
				return apperrors.Wrapf(err, "seeding credentials of entity %d", entity.EntityID)
			}
		}
	}

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 10*time.Second)
	repo, closeRepo, err := openSessionRepo(connectCtx, c)
	cancelConnect()
	if err != nil {
		return err
	}
	defer func() {
		if err := closeRepo(context.Background()); err != nil {
			log.Err(err).Msg("Failed to close session store")
		}
	}()

	manager, err := sessions.NewManager(repo, realmRepo,
		sessions.WithActivityWriteDelay(c.GetActivityWriteDelay()),
		sessions.WithAuthenticationObserver(func(entityID int64, at time.Time) {
			log.Trace().Int64("entity_id", entityID).Time("at", at).Msg("Entity authenticated")
		}),
		sessions.WithRememberMeInvalidator(func(_ context.Context, s *sessions.LoginSession) {
			log.Info().Object("login_session", s).Msg("Remember me state invalidated")
		}),
	)
	if err != nil {
		return err
	}

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	manager.StartReaper(reaperCtx, c.GetReaperInterval())

	handler, err := server.New(c, manager, registry, setup.Endpoint)
	if err != nil {
		return err
	}

	addr := c.GetPort()
	if f.port != "" {
		addr = ":" + f.port
	}
	httpServer := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go listenAndServe(httpServer)
	waitForStopSignal()
	return shutdown(httpServer)
}

func setupLogging(c config.EnvConfig) {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func listenAndServe(server *http.Server) {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Err(err).Msg("server.ListenAndServe")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
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
