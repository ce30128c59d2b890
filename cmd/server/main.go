package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/iliyamo/liveroom-admission/internal/clock"
	"github.com/iliyamo/liveroom-admission/internal/config"
	"github.com/iliyamo/liveroom-admission/internal/database"
	"github.com/iliyamo/liveroom-admission/internal/handler"
	"github.com/iliyamo/liveroom-admission/internal/logging"
	"github.com/iliyamo/liveroom-admission/internal/queue"
	"github.com/iliyamo/liveroom-admission/internal/repository"
	"github.com/iliyamo/liveroom-admission/internal/router"
	"github.com/iliyamo/liveroom-admission/internal/service"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		bootLog := logging.New(logging.Config{})
		bootLog.Fatal().Err(err).Msg("load .env")
	}
	cfg, err := config.Load()
	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, ServiceName: "liveroom-admission"})
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.BridgeStdlib(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb == nil {
		log.Warn().Msg("redis unreachable, caching and rate limiting disabled")
	} else {
		defer rdb.Close()
	}

	st, err := database.OpenStore(ctx, cfg, rdb, log)
	if err != nil {
		return err
	}
	defer st.Close()

	var pub queue.Publisher = queue.NopPublisher{}
	if cfg.EventsEnabled {
		pub = queue.NewAMQPPublisher(cfg.AMQPURL, log)
		consumer := queue.NewConsumer(cfg.AMQPURL, cfg.EventLogPath, log)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("event consumer stopped")
			}
		}()
	}

	clk := clock.Real()
	rooms := repository.NewRoomRepo(st)
	rsvps := repository.NewRsvpRepo(st)
	audience := repository.NewAudienceRepo(st)
	ledger := service.NewLedger(st, cfg.DefaultCapacity)
	admission := service.NewAdmission(rooms, rsvps, ledger, pub, clk, log)
	joiner := service.NewJoiner(rooms, audience, pub, clk, log)
	agg := service.NewAggregator(rooms, rsvps, audience, clk, cfg.CatalogTick, log)
	gate := service.GateConfig{
		Tick:           cfg.GateTick,
		RecheckTimeout: cfg.GateRecheckTimeout,
		RecheckBackoff: cfg.GateRecheckBackoff,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			log.Debug().Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Dur("latency", v.Latency).Msg("request")
			return nil
		},
	}))

	router.RegisterRoutes(e)
	router.RegisterPublic(e, handler.NewRoomHandler(rooms, ledger, clk, log), config.LoadCacheConfig(), rdb, log)
	router.RegisterViewer(e, handler.NewViewerHandler(rooms, admission, joiner, agg, gate, clk, log), cfg.JWTSecret, config.LoadRateLimitConfig(), rdb, log)
	router.RegisterOperator(e, handler.NewOperatorHandler(rooms, ledger, log), cfg.JWTSecret)

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("env", cfg.Env).Str("store", cfg.StoreDriver).Msg("listening")
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info().Msg("shutting down")
	return e.Shutdown(shutdownCtx)
}
