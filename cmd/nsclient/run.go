// SPDX-FileCopyrightText: Copyright (C) 2026  The nsclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/nsclient/client"
	"github.com/katzenpost/nsclient/config"
	"github.com/katzenpost/nsclient/core/log"
	"github.com/katzenpost/nsclient/history"
	"github.com/katzenpost/nsclient/internal/instrument"
	"github.com/katzenpost/nsclient/internal/profiling"
	"github.com/katzenpost/nsclient/transport"
)

const dialState = "dial"

func newLogBackend(cfg *config.Config) (*log.Backend, error) {
	b, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %v", err)
	}
	return b, nil
}

// runOnce performs one protocol run as configured and reports it to out.
func runOnce(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	backend, err := newLogBackend(cfg)
	if err != nil {
		return err
	}
	defer backend.Close()
	logger := backend.GetLogger("nsclient")

	stop, err := profiling.Start(logger)
	if err != nil {
		logger.Warningf("Profiling unavailable: %v", err)
	}
	defer stop()

	rec := &history.Record{
		Start:     time.Now(),
		Server:    cfg.Server.Address,
		Transport: cfg.Server.Scheme(),
	}
	defer finish(cfg, logger, rec)

	sess, err := client.New(&client.Config{
		Password:   []byte(cfg.Credentials.Password),
		Deriver:    cfg.Credentials.Deriver(),
		IOTimeout:  cfg.Debug.IODuration(),
		LogBackend: backend,
	})
	if err != nil {
		return fail(rec, "init", err)
	}

	logger.Noticef("Connecting to %v", cfg.Server.Address)
	conn, err := transport.Dial(ctx, cfg.TransportConfig())
	if err != nil {
		instrument.StepFailure(dialState, string(client.KindIO))
		instrument.Run(instrument.OutcomeFailure, time.Since(rec.Start).Seconds())
		return fail(rec, dialState, fmt.Errorf("failed to connect to %v: %w", cfg.Server.Address, err))
	}

	res, err := sess.Run(conn)
	rec.Duration = time.Since(rec.Start)
	if err != nil {
		if rerr, ok := client.GetRunError(err); ok {
			rec.BytesSent, rec.BytesReceived = rerr.BytesSent, rerr.BytesReceived
			return fail(rec, rerr.State.String(), err)
		}
		return fail(rec, sess.State().String(), err)
	}

	rec.Outcome = history.OutcomeSuccess
	rec.BytesSent, rec.BytesReceived = res.BytesSent, res.BytesReceived
	printResult(out, cfg, res)
	return nil
}

func fail(rec *history.Record, state string, err error) error {
	if rec.Duration == 0 {
		rec.Duration = time.Since(rec.Start)
	}
	rec.Outcome = history.OutcomeFailure
	rec.FailedState = state
	rec.Error = err.Error()
	return err
}

// finish journals the run and exports metrics.  Failures here are logged
// and never mask the run's own result.
func finish(cfg *config.Config, logger *logging.Logger, rec *history.Record) {
	if cfg.History.Path != "" {
		j, err := history.Open(cfg.History.Path)
		if err != nil {
			logger.Errorf("Failed to open history: %v", err)
		} else {
			if err := j.Append(rec); err != nil {
				logger.Errorf("Failed to record run: %v", err)
			}
			j.Close()
		}
	}
	if cfg.Metrics.TextFile != "" {
		if err := instrument.WriteTextFile(cfg.Metrics.TextFile); err != nil {
			logger.Errorf("Failed to write metrics: %v", err)
		}
	}
}

func printResult(out io.Writer, cfg *config.Config, res *client.Result) {
	fmt.Fprintf(out, "Run against %v complete in %v\n", cfg.Server.Address, res.Duration.Round(time.Microsecond))
	fmt.Fprintf(out, "  session key fingerprint: %x\n", res.SessionKeyFingerprint[:16])
	fmt.Fprintf(out, "  data request:  %d bytes\n", len(res.Request))
	fmt.Fprintf(out, "  data response: %d bytes\n", len(res.Response))
	fmt.Fprintf(out, "  wire: %d bytes sent, %d bytes received\n", res.BytesSent, res.BytesReceived)
}
