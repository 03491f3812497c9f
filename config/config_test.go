// config_test.go - nsclient configuration tests.
// Copyright (C) 2017  Yawning Angel
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

package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/nsclient/kdf"
	"github.com/katzenpost/nsclient/responder"
)

func TestDefault(t *testing.T) {
	require := require.New(t)
	t.Setenv(PasswordEnvVar, "")

	cfg, err := Load(nil)
	require.NoError(err, "Load() with empty config")
	require.Equal(SchemeTCP, cfg.Server.Scheme())
	require.Equal("127.0.0.1:5555", cfg.Server.HostPort())
	require.Equal(DefaultPassword, cfg.Credentials.Password)
	require.Equal(kdf.HKDFSHA256, cfg.Credentials.Deriver().Name())
	require.Equal(defaultLogLevel, cfg.Logging.Level)
	require.False(cfg.UpstreamProxyConfig().Enabled())
	require.Equal(30*time.Second, cfg.Debug.DialDuration())
	require.Zero(cfg.Debug.IODuration())
	require.Equal(responder.FaultNone, cfg.Serve.ScriptedFault())
	require.Equal(cfg.Server.Address, cfg.Serve.Address)

	require.Equal(cfg.Server.Address, Default().Server.Address)

	tc := cfg.TransportConfig()
	require.Equal(SchemeTCP, tc.Scheme)
	require.Equal("127.0.0.1:5555", tc.Address)
	require.False(tc.Proxy.Enabled())
}

func TestPasswordFromEnvironment(t *testing.T) {
	t.Setenv(PasswordEnvVar, "from-env")
	cfg, err := Load([]byte("[Server]\nAddress = \"tcp://10.0.0.1:5555\"\n"))
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Credentials.Password)

	cfg, err = Load([]byte("[Credentials]\nPassword = \"explicit\"\n"))
	require.NoError(t, err)
	require.Equal(t, "explicit", cfg.Credentials.Password)
}

func TestLoadFile(t *testing.T) {
	require := require.New(t)

	cfg, err := LoadFile(filepath.Join("testdata", "nsclient.toml"))
	require.NoError(err)
	require.Equal(SchemeQUIC, cfg.Server.Scheme())
	require.Equal("kds.example.net:4433", cfg.Server.HostPort())
	require.Equal("swordfish", cfg.Credentials.Password)
	require.Equal(kdf.Argon2id, cfg.Credentials.KDF)
	require.Equal("DEBUG", cfg.Logging.Level)
	require.True(cfg.UpstreamProxyConfig().Enabled())
	require.Equal(5*time.Second, cfg.Debug.DialDuration())
	require.Equal(10*time.Second, cfg.Debug.IODuration())
	require.True(cfg.Debug.QUICInsecureSkipVerify)
	require.Equal(responder.FaultWrongN1, cfg.Serve.ScriptedFault())

	l, err := cfg.Serve.Listen()
	require.NoError(err)
	require.Equal("127.0.0.1:6666", l.HostPort())

	_, err = LoadFile(filepath.Join("testdata", "missing.toml"))
	require.Error(err)
}

func TestOptions(t *testing.T) {
	cfg, err := LoadFile(filepath.Join("testdata", "nsclient.toml"),
		WithServerAddress("tcp://192.0.2.1:7000"),
		WithLogLevel("warning"),
		WithLogLevel(""),
	)
	require.NoError(t, err)
	require.Equal(t, SchemeTCP, cfg.Server.Scheme())
	require.Equal(t, "192.0.2.1:7000", cfg.Server.HostPort())
	require.Equal(t, "WARNING", cfg.Logging.Level)

	cfg, err = Load(nil, WithServerAddress("tcp://192.0.2.1:7000"))
	require.NoError(t, err)
	require.Equal(t, cfg.Server.Address, cfg.Serve.Address)

	_, err = Load(nil, WithLogLevel("chatty"))
	require.Error(t, err)
}

func TestInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"syntax":        "[Server",
		"unknown key":   "[Server]\nAddres = \"tcp://127.0.0.1:1\"\n",
		"scheme":        "[Server]\nAddress = \"udp://127.0.0.1:1\"\n",
		"no port":       "[Server]\nAddress = \"tcp://127.0.0.1\"\n",
		"kdf":           "[Credentials]\nKDF = \"scrypt\"\n",
		"log level":     "[Logging]\nLevel = \"LOUD\"\n",
		"proxy":         "[UpstreamProxy]\nType = \"http\"\n",
		"fault":         "[Serve]\nFault = \"gremlins\"\n",
		"dial timeout":  "[Debug]\nDialTimeout = -1\n",
		"io timeout":    "[Debug]\nIOTimeout = -1\n",
		"history dir":   "[History]\nPath = \"/nonexistent/dir/history.db\"\n",
		"metrics dir":   "[Metrics]\nTextFile = \"/nonexistent/dir/nsclient.prom\"\n",
		"serve address": "[Serve]\nAddress = \"tcp://:1\"\n",
	} {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load([]byte(body))
			if name == "serve address" {
				// The listen address is only checked when serving.
				require.NoError(t, err)
				_, err = cfg.Serve.Listen()
			}
			require.Error(t, err)
		})
	}
}
