// proxy.go - Upstream proxy support for outgoing connections.
// Copyright (C) 2018  Yawning Angel.
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

// Package proxy implements the support for an upstream (outgoing) proxy.
package proxy

import (
	"context"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"github.com/katzenpost/nsclient/core/utils"
)

const (
	typeNone      = "none"
	typeTorSocks5 = "tor+socks5"
	typeSocks5    = "socks5"

	netUnix = "unix"
	netTCP  = "tcp"

	maxSocks5AuthLen = 255
)

var torSocks5ProcessIsolation string

// Config is the proxy configuration.
type Config struct {
	// Type is the proxy type (Eg: "none"," socks5", "tor+socks5").
	Type string

	// Network is the proxy address' network (`unix`, `tcp`).
	Network string

	// Address is the proxy's address.
	Address string

	// User is the optional proxy username.
	User string

	// Password is the optional proxy password.
	Password string

	auth *proxy.Auth
}

// DialContextFn is a function that matches the Dialer.DialContext prototype.
type DialContextFn func(context.Context, string, string) (net.Conn, error)

// FixupAndValidate applies defaults to config entires and validates the
// supplied configuration.
func (cfg *Config) FixupAndValidate() error {
	cfg.Type = strings.ToLower(cfg.Type)
	switch cfg.Type {
	case "":
		cfg.Type = typeNone
		return nil
	case typeNone:
		return nil
	case typeSocks5, typeTorSocks5:
	default:
		return fmt.Errorf("proxy/config: Type '%v' is invalid", cfg.Type)
	}

	uLen, pLen := len(cfg.User), len(cfg.Password)
	switch {
	case uLen > maxSocks5AuthLen:
		return errors.New("proxy/config: User too long")
	case pLen > maxSocks5AuthLen:
		return errors.New("proxy/config: Password too long")
	case (uLen == 0) != (pLen == 0):
		return errors.New("proxy/config: Both User and Password must be specified")
	case uLen != 0 && cfg.Type == typeTorSocks5:
		return errors.New("proxy/config: Tor SOCKS5 conflicts with setting User/Password")
	case uLen != 0:
		cfg.auth = &proxy.Auth{
			User:     cfg.User,
			Password: cfg.Password,
		}
	}

	cfg.Network = strings.ToLower(cfg.Network)
	switch cfg.Network {
	case netTCP:
		if err := utils.EnsureAddrIPPort(cfg.Address); err != nil {
			return fmt.Errorf("proxy/config: Address '%v' is invalid: %v", cfg.Address, err)
		}
	case netUnix:
		fi, err := os.Lstat(cfg.Address)
		if err != nil {
			return fmt.Errorf("proxy/config: Address '%v' failed to stat(): %v", cfg.Address, err)
		}
		if fi.Mode()&os.ModeSocket == 0 {
			return fmt.Errorf("proxy/config: Address '%v' does not appear to be a socket", cfg.Address)
		}
	default:
		return fmt.Errorf("proxy/config: Network '%v' is invalid", cfg.Network)
	}
	return nil
}

// Enabled returns true iff a proxy is configured.
func (cfg *Config) Enabled() bool {
	return cfg != nil && cfg.Type != "" && cfg.Type != typeNone
}

// ToDialContext returns a function matching Dialer.DialContext() that will
// utilize the configured proxy or nil iff no proxy is configured.  The tag
// selects the Tor circuit when the proxy is Tor's SOCKS port.
func (cfg *Config) ToDialContext(tag string) DialContextFn {
	switch cfg.Type {
	case "", typeNone:
		return nil
	case typeSocks5, typeTorSocks5:
		return cfg.newContextSOCKS5(tag)
	default:
		panic("proxy: ToDialContext(): invalid type: " + cfg.Type)
	}
}

func (cfg *Config) socksAuth(tag string) *proxy.Auth {
	if cfg.Type != typeTorSocks5 {
		return cfg.auth
	}

	// Craft an SOCKSPort isolation entry from `tag`, and jam it into
	// the User/Password.
	sum := sha512.Sum512_256([]byte(tag))
	return &proxy.Auth{
		User:     torSocks5ProcessIsolation + hex.EncodeToString(sum[:16]),
		Password: string([]byte{0x00}),
	}
}

func (cfg *Config) newContextSOCKS5(tag string) DialContextFn {
	auth := cfg.socksAuth(tag)
	network, address := cfg.Network, cfg.Address
	return func(ctx context.Context, n, a string) (net.Conn, error) {
		d, err := proxy.SOCKS5(network, address, auth, &net.Dialer{})
		if err != nil {
			return nil, err
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, errors.New("proxy: SOCKS5 dialer does not support contexts")
		}
		return cd.DialContext(ctx, n, a)
	}
}

func init() {
	// Initialize the per-process Tor SOCKS isolation tag.
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:], uint64(os.Getpid()))
	binary.BigEndian.PutUint64(buf[8:], uint64(time.Now().Unix()))
	sum := sha512.Sum512_256(buf[:])
	torSocks5ProcessIsolation = "nsclient:" + hex.EncodeToString(sum[:8]) + ":"
}
