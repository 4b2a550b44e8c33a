// Package main is the entrypoint for h1get, a minimal HTTP/1.x client
// built on the pooled transport.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/httpc-go/httpc/pkg/httpc"
	"github.com/httpc-go/httpc/pkg/httpc/config"
	"github.com/httpc-go/httpc/pkg/util/logutil"
)

func main() {
	cfg, err := config.NewConfig(os.Args[1:])
	if errors.Cause(err) == pflag.ErrHelp {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse config: %v\n", err)
		os.Exit(1)
	}

	if err = cfg.Adjust(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to adjust config: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Log.Logger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	syncLogger := func() { _ = logger.Sync() }
	defer logutil.LogPanic(logger)

	if err = cfg.Validate(); err != nil {
		logger.Error("failed to validate config", zap.Error(err))
		exit(1, syncLogger)
	}

	args := cfg.Args()
	if len(args) < 1 {
		logger.Error("usage: h1get [flags] URL")
		exit(1, syncLogger)
	}
	url := args[0]

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err = run(ctx, cfg, url, logger); err != nil {
		logger.Error("request failed", zap.String("url", url), zap.Error(err))
		exit(1, syncLogger)
	}
	exit(0, syncLogger)
}

func run(ctx context.Context, cfg *config.Config, url string, logger *zap.Logger) error {
	client, err := httpc.NewClient(cfg.ClientConfig(), logger)
	if err != nil {
		return errors.WithMessage(err, "create client")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	defer client.Shutdown(shutdownCtx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.WithMessage(err, "build request")
	}

	var info httpc.ConnInfo
	req = req.WithContext(httpc.WithConnInfo(req.Context(), &info))

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	logger.Info("response received",
		zap.String("status", resp.Status),
		zap.Any("local-addr", info.LocalAddr),
		zap.Any("remote-addr", info.RemoteAddr),
	)
	_, err = io.Copy(os.Stdout, resp.Body)
	if err != nil {
		return errors.WithMessage(err, "read response body")
	}
	return nil
}

func exit(code int, flush func()) {
	flush()
	os.Exit(code)
}
