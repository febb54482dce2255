// Package app provides the DocAsk server application.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kart-io/docask/cmd/docask/app/options"
	"github.com/kart-io/docask/internal/docask"
	"github.com/kart-io/docask/pkg/infra/app"
)

// commandDesc is the description of the command.
const commandDesc = `DocAsk document question answering service

DocAsk ingests PDF, text and spreadsheet documents, splits them into
overlapping chunks, embeds them into an in-memory vector index and answers
questions with an LLM grounded on the most similar chunks.

This server provides:
  - Synchronous and asynchronous document upload
  - Document listing, deletion, reingestion and index rebuild
  - Retrieval augmented question answering with cited sources
  - Index snapshots that survive restarts`

// NewApp creates and returns a new App object with default parameters.
func NewApp() *app.App {
	opts := options.NewServerOptions()
	return app.NewApp(
		app.WithName(docask.Name),
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithRunFunc(run(opts)),
	)
}

// run contains the main logic for initializing and running the server.
func run(opts *options.ServerOptions) app.RunFunc {
	return func() error {
		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		ctx := setupSignalContext()

		server, err := cfg.NewServer(ctx)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		// Run blocks until a signal cancels ctx and shutdown finishes.
		return server.Run(ctx)
	}
}

// setupSignalContext returns a context that is cancelled on SIGINT or SIGTERM.
// A second signal exits immediately.
func setupSignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
		<-c
		os.Exit(1)
	}()
	return ctx
}
