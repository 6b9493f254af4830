package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/nasdf/tessera"
	"github.com/nasdf/tessera/http"
)

func main() {
	configPath := flag.String("config", "", "path to a yaml configuration file")
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	if err := run(*configPath, *addr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, addr string) error {
	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg := tessera.DefaultConfig()
	if configPath != "" {
		cfg, err = tessera.LoadConfig(configPath)
		if err != nil {
			return err
		}
	}

	repo, err := tessera.Open(context.Background(), cfg, tessera.WithLogger(log))
	if err != nil {
		return err
	}
	defer repo.Close()

	log.Info("listening", zap.String("addr", addr))
	return http.ListenAndServe(repo, addr, log)
}
