package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/giobyte8/thumbcache/internal/consumer"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume thumbnail requests from RabbitMQ",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	slog.Info("Starting thumbcache service...")
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	var amqpConsumer consumer.MessageConsumer
	amqpConsumer, err = consumer.NewAMQPConsumer(a.cfg.AMQP, a.thumbsSvc, a.telemetry)
	if err != nil {
		a.close(ctx)
		return fmt.Errorf("failed to create AMQP consumer: %w", err)
	}

	if err := amqpConsumer.Start(ctx); err != nil {
		a.close(ctx)
		return fmt.Errorf("failed to start AMQP consumer: %w", err)
	}
	slog.Info("thumbcache service is running. Press Ctrl+C to stop.")

	// Graceful shutdown (listen for OS signals)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case s := <-sigChan:
		slog.Info("Received OS signal, shutting down...", "signal", s.String())
	case <-ctx.Done():
		slog.Info(
			"Parent context cancelled, shutting down...",
			"reason",
			ctx.Err(),
		)
	}

	// --- --- --- --- --- --- --- --- --- --- --- ---
	// Perform graceful shutdown operations
	// before cancelling context

	amqpConsumer.Stop()
	a.close(context.WithoutCancel(ctx))

	cancel()
	slog.Info("thumbcache service exited gracefully.")
	return nil
}
