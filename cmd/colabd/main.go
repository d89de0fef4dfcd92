package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/blockwise/colabd/colab"
	"github.com/blockwise/colabd/internal/colab/config"
	"github.com/blockwise/colabd/internal/logging"
)

var version = "dev"

func main() {
	logging.Setup()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("colabd", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	showVersion := fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(args)

	if *showVersion {
		fmt.Println(version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logging.SetLevel(cfg.SlogLevel())

	logging.PrintBanner(version, cfg.Addr(), cfg.Env)

	server, err := colab.NewServer(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return server.Serve(ctx)
}
