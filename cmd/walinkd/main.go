package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/talkincode/walinkd/config"
	"github.com/talkincode/walinkd/internal/app"
	"github.com/talkincode/walinkd/internal/sessionapi"
	"github.com/talkincode/walinkd/internal/webserver"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var cfile = flag.String("c", "walinkd.yml", "config file")

func main() {
	flag.Parse()
	cfg := config.LoadConfig(*cfile)

	application := app.NewApplication(cfg)
	if err := application.Init(cfg); err != nil {
		panic(err)
	}
	defer application.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application.RestoreSessions(ctx)

	server := webserver.New(cfg)
	sessionapi.Register(server, application.Registry(), cfg.System.Version, cfg.Session.QrMinBytes)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		zap.L().Info("walinkd: stopped", zap.Error(err))
	}
}
