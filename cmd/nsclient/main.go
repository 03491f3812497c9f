// main.go - nsclient binary.
// Copyright (C) 2017  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/katzenpost/nsclient/common"
	"github.com/katzenpost/nsclient/config"
)

// rootFlags holds the command line configuration shared by every command.
type rootFlags struct {
	ConfigFile string
	LogLevel   string
	Server     string
}

func (f *rootFlags) load() (*config.Config, error) {
	opts := []config.Option{
		config.WithServerAddress(f.Server),
		config.WithLogLevel(f.LogLevel),
	}
	if f.ConfigFile == "" {
		cfg, err := config.Load(nil, opts...)
		if err != nil {
			return nil, fmt.Errorf("invalid command line configuration: %v", err)
		}
		return cfg, nil
	}
	cfg, err := config.LoadFile(f.ConfigFile, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file '%v': %v", f.ConfigFile, err)
	}
	return cfg, nil
}

// newRootCommand creates the root cobra command
func newRootCommand() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "nsclient",
		Short: "Needham-Schroeder symmetric key protocol initiator",
		Long: `nsclient runs one exchange of the Needham-Schroeder symmetric key protocol
as the initiator.

It asks the key distribution server for a ticket, forwards the ticket to the
responder, proves freshness of the established session key in both directions
and then answers a single data request under that key.

Every failure is terminal: the run stops at the failed step, the session key
is wiped and a diagnostic naming the step is printed.`,
		Example: `  # Run against the default server (tcp://127.0.0.1:5555)
  nsclient

  # Run with a configuration file
  nsclient -c /etc/nsclient/nsclient.toml

  # Run over QUIC with verbose logging
  nsclient --server quic://kds.example.net:4433 --log-level debug

  # Start a local responder, then list recorded runs
  nsclient serve
  nsclient history`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			return runOnce(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.ConfigFile, "config", "c", "",
		"path to the configuration file (TOML format)")
	cmd.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "",
		"log level: ERROR, WARNING, NOTICE, INFO or DEBUG")
	cmd.PersistentFlags().StringVar(&flags.Server, "server", "",
		"server URL, tcp://host:port or quic://host:port")

	cmd.AddCommand(newHistoryCommand(&flags))
	cmd.AddCommand(newServeCommand(&flags))
	return cmd
}

func main() {
	common.ExecuteWithFang(newRootCommand())
}
