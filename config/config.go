// config.go - nsclient configuration.
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

// Package config provides the nsclient configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/katzenpost/nsclient/core/log"
	"github.com/katzenpost/nsclient/core/utils"
	"github.com/katzenpost/nsclient/internal/proxy"
	"github.com/katzenpost/nsclient/kdf"
	"github.com/katzenpost/nsclient/responder"
	"github.com/katzenpost/nsclient/transport"
)

const (
	defaultAddress     = "tcp://127.0.0.1:5555"
	defaultLogLevel    = "NOTICE"
	defaultDialTimeout = 30

	// DefaultPassword is the shared secret used when neither the
	// configuration nor the environment supplies one.
	DefaultPassword = "ns-lab-password"

	// PasswordEnvVar overrides an empty Credentials.Password.
	PasswordEnvVar = "NSCLIENT_PASSWORD"

	// SchemeTCP and SchemeQUIC are the supported server URL schemes.
	SchemeTCP  = transport.SchemeTCP
	SchemeQUIC = transport.SchemeQUIC
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Server is the address of the key distribution server and service.
type Server struct {
	// Address is a URL of the form tcp://host:port or quic://host:port.
	Address string

	u *url.URL
}

func (sCfg *Server) validate() error {
	if sCfg.Address == "" {
		sCfg.Address = defaultAddress
	}
	u, err := url.Parse(sCfg.Address)
	if err != nil {
		return fmt.Errorf("config: Server: Address '%v' is invalid: %v", sCfg.Address, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	switch u.Scheme {
	case SchemeTCP, SchemeQUIC:
	default:
		return fmt.Errorf("config: Server: Address '%v' has unsupported scheme '%v'", sCfg.Address, u.Scheme)
	}
	if err := utils.EnsureAddrHostPort(u.Host); err != nil {
		return fmt.Errorf("config: Server: Address '%v' is invalid: %v", sCfg.Address, err)
	}
	sCfg.u = u
	return nil
}

// Scheme returns the transport scheme of the server address.
func (sCfg *Server) Scheme() string {
	return sCfg.u.Scheme
}

// HostPort returns the host:port of the server address.
func (sCfg *Server) HostPort() string {
	return sCfg.u.Host
}

// Credentials is the initiator's long term secret and how it is turned
// into the master key.
type Credentials struct {
	// Password is the shared secret.  If empty, the NSCLIENT_PASSWORD
	// environment variable is used, then DefaultPassword.
	Password string

	// KDF is the key derivation scheme: "HKDF-SHA256" or "Argon2id".
	KDF string

	// Salt overrides the default key derivation salt.
	Salt string

	deriver kdf.Deriver
}

func (cCfg *Credentials) validate() error {
	if cCfg.Password == "" {
		cCfg.Password = os.Getenv(PasswordEnvVar)
	}
	if cCfg.Password == "" {
		cCfg.Password = DefaultPassword
	}
	var salt []byte
	if cCfg.Salt != "" {
		salt = []byte(cCfg.Salt)
	}
	d, err := kdf.ByName(cCfg.KDF, salt)
	if err != nil {
		return fmt.Errorf("config: Credentials: %v", err)
	}
	cCfg.KDF = d.Name()
	cCfg.deriver = d
	return nil
}

// Deriver returns the configured key derivation function.
func (cCfg *Credentials) Deriver() kdf.Deriver {
	return cCfg.deriver
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	if lCfg.Level == "" {
		lCfg.Level = defaultLogLevel
	}
	lvl := strings.ToUpper(lCfg.Level)
	if err := log.ValidateLevel(lvl); err != nil {
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl
	return nil
}

// UpstreamProxy is the outgoing connection proxy configuration.
type UpstreamProxy struct {
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
}

func (uCfg *UpstreamProxy) toProxyConfig() (*proxy.Config, error) {
	cfg := &proxy.Config{}
	if uCfg != nil {
		cfg = &proxy.Config{
			Type:     uCfg.Type,
			Network:  uCfg.Network,
			Address:  uCfg.Address,
			User:     uCfg.User,
			Password: uCfg.Password,
		}
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Metrics is the metrics configuration.
type Metrics struct {
	// TextFile, if set, is where the Prometheus text exposition is written
	// after each run.
	TextFile string
}

func (mCfg *Metrics) validate() error {
	if mCfg.TextFile == "" {
		return nil
	}
	if err := utils.EnsureParentDir(mCfg.TextFile); err != nil {
		return fmt.Errorf("config: Metrics: TextFile '%v': %v", mCfg.TextFile, err)
	}
	return nil
}

// History is the run journal configuration.
type History struct {
	// Path, if set, is the bbolt database runs are recorded in.
	Path string
}

func (hCfg *History) validate() error {
	if hCfg.Path == "" {
		return nil
	}
	if err := utils.EnsureParentDir(hCfg.Path); err != nil {
		return fmt.Errorf("config: History: Path '%v': %v", hCfg.Path, err)
	}
	return nil
}

// Serve is the configuration of the local responder started by the serve
// command.
type Serve struct {
	// Address is the listen address, in the same form as Server.Address.
	// Defaults to Server.Address.
	Address string

	// Payload is the Data Request payload.
	Payload string

	// Fault scripts a protocol deviation, one of the responder fault
	// names.
	Fault string

	fault responder.Fault
}

func (sCfg *Serve) validate(server *Server) error {
	if sCfg.Address == "" {
		sCfg.Address = server.Address
	}
	if sCfg.Fault == "" {
		sCfg.Fault = responder.FaultNone.String()
	}
	f, err := responder.FaultFromString(strings.ToLower(sCfg.Fault))
	if err != nil {
		return fmt.Errorf("config: Serve: %v", err)
	}
	sCfg.fault = f
	return nil
}

// Listen returns the validated listen address.
func (sCfg *Serve) Listen() (*Server, error) {
	s := &Server{Address: sCfg.Address}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ScriptedFault returns the configured responder fault.
func (sCfg *Serve) ScriptedFault() responder.Fault {
	return sCfg.fault
}

// Debug is the debug configuration.
type Debug struct {
	// DialTimeout is the number of seconds a dial is allowed to take.
	DialTimeout int

	// IOTimeout, if non-zero, is the number of seconds any single read or
	// write may block.
	IOTimeout int

	// QUICInsecureSkipVerify disables certificate verification for quic://
	// servers.
	QUICInsecureSkipVerify bool
}

func (d *Debug) fixup() error {
	if d.DialTimeout == 0 {
		d.DialTimeout = defaultDialTimeout
	}
	if d.DialTimeout < 0 {
		return errors.New("config: Debug: DialTimeout is negative")
	}
	if d.IOTimeout < 0 {
		return errors.New("config: Debug: IOTimeout is negative")
	}
	return nil
}

// DialDuration returns DialTimeout as a time.Duration.
func (d *Debug) DialDuration() time.Duration {
	return time.Duration(d.DialTimeout) * time.Second
}

// IODuration returns IOTimeout as a time.Duration.
func (d *Debug) IODuration() time.Duration {
	return time.Duration(d.IOTimeout) * time.Second
}

// Config is the top level nsclient configuration.
type Config struct {
	Server        *Server
	Credentials   *Credentials
	Logging       *Logging
	UpstreamProxy *UpstreamProxy
	Metrics       *Metrics
	History       *History
	Serve         *Serve
	Debug         *Debug

	upstreamProxy *proxy.Config
}

// TransportConfig returns the configuration used to dial the server.
func (c *Config) TransportConfig() *transport.Config {
	return &transport.Config{
		Scheme:             c.Server.Scheme(),
		Address:            c.Server.HostPort(),
		DialTimeout:        c.Debug.DialDuration(),
		Proxy:              c.upstreamProxy,
		Tag:                c.Server.Address,
		InsecureSkipVerify: c.Debug.QUICInsecureSkipVerify,
	}
}

// UpstreamProxyConfig returns the configured upstream proxy, suitable for
// internal use.  Most people should not use this.
func (c *Config) UpstreamProxyConfig() *proxy.Config {
	return c.upstreamProxy
}

// FixupAndValidate applies defaults to config entries and validates the
// configuration sections.
func (c *Config) FixupAndValidate() error {
	// Handle missing sections if possible.
	if c.Server == nil {
		c.Server = &Server{}
	}
	if c.Credentials == nil {
		c.Credentials = &Credentials{}
	}
	if c.Logging == nil {
		logging := defaultLogging
		c.Logging = &logging
	}
	if c.Metrics == nil {
		c.Metrics = &Metrics{}
	}
	if c.History == nil {
		c.History = &History{}
	}
	if c.Serve == nil {
		c.Serve = &Serve{}
	}
	if c.Debug == nil {
		c.Debug = &Debug{}
	}

	// Validate/fixup the various sections.
	if err := c.Server.validate(); err != nil {
		return err
	}
	if err := c.Credentials.validate(); err != nil {
		return err
	}
	if err := c.Logging.validate(); err != nil {
		return err
	}
	if err := c.Metrics.validate(); err != nil {
		return err
	}
	if err := c.History.validate(); err != nil {
		return err
	}
	if err := c.Serve.validate(c.Server); err != nil {
		return err
	}
	if err := c.Debug.fixup(); err != nil {
		return err
	}
	uCfg, err := c.UpstreamProxy.toProxyConfig()
	if err != nil {
		return err
	}
	c.upstreamProxy = uCfg
	return nil
}

// Default returns the validated built in configuration.
func Default() *Config {
	cfg := new(Config)
	if err := cfg.FixupAndValidate(); err != nil {
		panic(err)
	}
	return cfg
}

// Option modifies a Config after it is parsed and before it is validated.
type Option func(*Config)

// WithServerAddress overrides Server.Address.
func WithServerAddress(addr string) Option {
	return func(c *Config) {
		if addr == "" {
			return
		}
		if c.Server == nil {
			c.Server = &Server{}
		}
		c.Server.Address = addr
	}
}

// WithLogLevel overrides Logging.Level.
func WithLogLevel(level string) Option {
	return func(c *Config) {
		if level == "" {
			return
		}
		if c.Logging == nil {
			logging := defaultLogging
			c.Logging = &logging
		}
		c.Logging.Level = level
	}
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte, opts ...Option) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses, and validates the provided file and returns the
// Config.
func LoadFile(f string, opts ...Option) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b, opts...)
}
