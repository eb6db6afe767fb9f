package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/citizenwallet/aa-gateway/internal/bundler"
	"github.com/citizenwallet/aa-gateway/internal/config"
	"github.com/citizenwallet/aa-gateway/internal/logger"
	"github.com/citizenwallet/aa-gateway/internal/metrics"
	"github.com/citizenwallet/aa-gateway/internal/paymaster"
	"github.com/citizenwallet/aa-gateway/internal/services/webhook"
	"github.com/citizenwallet/aa-gateway/internal/userop"
	"github.com/citizenwallet/aa-gateway/pkg/queue"
	"github.com/citizenwallet/aa-gateway/pkg/router"
	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap/zapcore"
)

func main() {
	log.Default().Println("launching aa gateway...")

	env := flag.String("env", ".env", "path to .env file")

	port := flag.Int("port", 0, "port to listen on (default: PORT from env)")

	notify := flag.Bool("notify", true, "enable notifications")

	debug := flag.Bool("debug", false, "enable debug logs")

	flag.Parse()

	ctx := context.Background()

	envpath := *env
	if _, err := os.Stat(envpath); errors.Is(err, os.ErrNotExist) {
		envpath = ""
	}

	conf, err := config.New(ctx, envpath)
	if err != nil {
		log.Fatal(err)
	}

	level := zapcore.InfoLevel
	if *debug {
		level = zapcore.DebugLevel
	}

	logs := logger.New("aa-gateway", level, conf.IsDevelopment())
	defer logs.Sync()

	if conf.SentryURL != "" {
		err = sentry.Init(sentry.ClientOptions{
			Dsn:              conf.SentryURL,
			Environment:      conf.Environment,
			TracesSampleRate: 1.0,
		})
		if err != nil {
			logs.Fatalw("sentry init failed", "error", err)
		}
		// Flush buffered events before the program terminates.
		defer sentry.Flush(2 * time.Second)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	b, err := bundler.New(ctx, bundler.Config{
		Endpoint:   conf.BundlerURL,
		APIKey:     conf.BundlerAPIKey,
		EntryPoint: conf.EntryPointAddress,
		ChainID:    conf.ChainID,
		Timeout:    conf.UpstreamTimeout,
	}, m, logs.Named("bundler"))
	if err != nil {
		logs.Fatalw("bundler client init failed", "error", err)
	}
	defer b.Close()

	pm, err := paymaster.New(ctx, paymaster.Config{
		Endpoint:    conf.PaymasterServiceURL,
		PaymasterID: conf.PaymasterID,
		EntryPoint:  conf.EntryPointAddress,
		Timeout:     conf.UpstreamTimeout,
	}, m, logs.Named("paymaster"))
	if err != nil {
		logs.Fatalw("paymaster client init failed", "error", err)
	}
	defer pm.Close()

	w := webhook.NewMessager(conf.DiscordURL, "aa-gateway", *notify)

	notifications := queue.NewService("notifications", 3, 100, logs.Named("queue"))
	defer notifications.Close()

	go notifications.Start(ctx, queue.ProcessorFunc(func(ctx context.Context, m queue.Message) error {
		return w.NotifyError(ctx, m.Err)
	}))

	uop := userop.NewService(pm, b, notifications, logs.Named("userop"))

	api := router.NewServer(conf.Origins(), b, pm, uop, m, logs.Named("http"))

	listen := conf.Port
	if *port != 0 {
		listen = *port
	}

	quitAck := make(chan error, 1)

	go func() {
		quitAck <- api.Start(listen)
	}()

	logs.Infow("listening", "port", listen, "environment", conf.Environment, "chain_id", conf.ChainID)

	for _, err := range announceStart(ctx, w, listen, b, pm) {
		logs.Warnw("failed to announce start", "error", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-quitAck:
		if err != nil {
			w.NotifyError(ctx, err)
			sentry.CaptureException(err)
			logs.Fatalw("server stopped", "error", err)
		}
	case s := <-sig:
		logs.Infow("shutting down", "signal", s.String())

		if err := w.Notify(ctx, fmt.Sprintf("shutting down (%s)", s)); err != nil {
			logs.Warnw("failed to announce shutdown", "error", err)
		}

		sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := api.Shutdown(sctx); err != nil {
			logs.Errorw("shutdown failed", "error", err)
		}
	}
}
