// SPDX-FileCopyrightText: Copyright (C) 2026  The nsclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/katzenpost/nsclient/config"
	"github.com/katzenpost/nsclient/responder"
	"github.com/katzenpost/nsclient/transport"
)

type serveFlags struct {
	Fault   string
	Payload string
}

func newServeCommand(root *rootFlags) *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local key distribution server and responder",
		Long: `serve listens on the configured address and plays the key distribution
server and the responder for every connecting initiator, using the same
credentials the initiator is configured with.

A protocol deviation can be scripted to exercise the initiator's error
handling.`,
		Example: `  # Serve on the default address
  nsclient serve

  # Answer every run with a wrong N2+1
  nsclient serve --fault wrong-n2-reply`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if flags.Fault != "" {
				cfg.Serve.Fault = flags.Fault
			}
			if flags.Payload != "" {
				cfg.Serve.Payload = flags.Payload
			}
			if err := cfg.FixupAndValidate(); err != nil {
				return fmt.Errorf("invalid argument: %v", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, func(srv *responder.Server) {
				fmt.Fprintf(cmd.OutOrStdout(), "Serving on %v://%v\n", srv.Addr().Network(), srv.Addr())
			})
		},
	}

	cmd.Flags().StringVar(&flags.Fault, "fault", "",
		"scripted deviation: wrong-n1, wrong-n2-reply, truncate, wrong-type, bad-ticket-length or stall")
	cmd.Flags().StringVar(&flags.Payload, "payload", "",
		"data request payload")
	return cmd
}

// serve runs a responder until ctx is done.
func serve(ctx context.Context, cfg *config.Config, ready func(*responder.Server)) error {
	backend, err := newLogBackend(cfg)
	if err != nil {
		return err
	}
	defer backend.Close()
	logger := backend.GetLogger("serve")

	listen, err := cfg.Serve.Listen()
	if err != nil {
		return err
	}
	rCfg := &responder.Config{
		Password:   []byte(cfg.Credentials.Password),
		Deriver:    cfg.Credentials.Deriver(),
		IOTimeout:  cfg.Debug.IODuration(),
		Fault:      cfg.Serve.ScriptedFault(),
		LogBackend: backend,
	}
	if cfg.Serve.Payload != "" {
		rCfg.Payload = []byte(cfg.Serve.Payload)
	}
	r, err := responder.New(rCfg)
	if err != nil {
		return err
	}

	l, err := transport.Listen(listen.Scheme(), listen.HostPort(), nil)
	if err != nil {
		return fmt.Errorf("failed to listen on %v: %v", listen.Address, err)
	}
	srv := responder.NewServer(r)
	srv.OnTranscript = func(t *responder.Transcript, err error) {
		if err != nil {
			logger.Warningf("Run failed: %v", err)
			return
		}
		logger.Noticef("Run complete: N1 %v N2 %v N3 %v", t.N1, t.N2, t.N3)
	}
	srv.Listen(l)
	defer srv.Halt()

	logger.Noticef("Listening on %v, fault %v", listen.Address, rCfg.Fault)
	if ready != nil {
		ready(srv)
	}
	<-ctx.Done()
	logger.Notice("Shutting down")
	return nil
}

