// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package config defines the settings of the ipkchat client.
//
// Settings come from three layers, each overriding the one before: the
// built-in defaults, an optional TOML file, and command-line flags. A file
// may set any subset of the keys:
//
//	transport = "udp"
//	server = "chat.example.com"
//	port = 4567
//	confirm_timeout_ms = 250
//	retries = 3
//	reply_timeout_ms = 5000
//	reply_timeout_policy = "revert"
//	log_file = "/tmp/ipkchat.log"
//	metrics_addr = "localhost:9090"
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creachadair/ipkchat"
	"github.com/creachadair/ipkchat/proto"
	"github.com/creachadair/ipkchat/reliable"
)

// Config holds the settings of a client.
type Config struct {
	Transport string `toml:"transport"` // "tcp" or "udp"; required
	Server    string `toml:"server"`    // host name or IP address; required
	Port      int    `toml:"port"`

	// Datagram reliability settings.
	ConfirmTimeoutMS int `toml:"confirm_timeout_ms"`
	Retries          int `toml:"retries"`

	// How long to wait for the reply to a request, and what to do when the
	// wait expires ("fatal" or "revert"). An empty policy selects the
	// default for the transport.
	ReplyTimeoutMS     int    `toml:"reply_timeout_ms"`
	ReplyTimeoutPolicy string `toml:"reply_timeout_policy"`

	Debug       bool   `toml:"debug"`        // write diagnostics to stderr
	LogFile     string `toml:"log_file"`     // write diagnostics to this file
	MetricsAddr string `toml:"metrics_addr"` // serve metrics at this address
}

// Default returns the default configuration. The transport and server have
// no defaults, so the result does not validate until they are set.
func Default() Config {
	return Config{
		Port:             4567,
		ConfirmTimeoutMS: int(reliable.DefaultConfirmTimeout / time.Millisecond),
		Retries:          reliable.DefaultMaxRetries,
		ReplyTimeoutMS:   int(ipkchat.DefaultReplyTimeout / time.Millisecond),
	}
}

// Error reports a problem with a configuration file.
type Error struct {
	Path    string
	Line    int // 0 if not a parse error
	Message string
}

func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Load reads the TOML file at path over the defaults. Unknown keys are
// reported as errors. Load does not validate the result, since flags may
// still be applied to it.
func Load(path string) (Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		var perr toml.ParseError
		if errors.As(err, &perr) {
			return Config{}, &Error{Path: path, Line: perr.Position.Line, Message: perr.Message}
		}
		return Config{}, &Error{Path: path, Message: strings.TrimPrefix(err.Error(), "toml: ")}
	}
	if keys := md.Undecoded(); len(keys) != 0 {
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = k.String()
		}
		return Config{}, &Error{Path: path, Message: "unknown keys: " + strings.Join(names, ", ")}
	}
	return cfg, nil
}

// Validate reports whether c is a complete and consistent configuration.
// All problems are reported together.
func (c Config) Validate() error {
	var errs []error
	if c.Transport == "" {
		errs = append(errs, errors.New("transport is required"))
	} else if _, err := proto.ParseTransport(c.Transport); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Server) == "" {
		errs = append(errs, errors.New("server is required"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d (must be 1-65535)", c.Port))
	}
	if c.ConfirmTimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("invalid confirm timeout %dms (must be positive)", c.ConfirmTimeoutMS))
	}
	if c.Retries < 0 || c.Retries > 255 {
		errs = append(errs, fmt.Errorf("invalid retry count %d (must be 0-255)", c.Retries))
	}
	if c.ReplyTimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("invalid reply timeout %dms (must be positive)", c.ReplyTimeoutMS))
	}
	if _, err := parsePolicy(c.ReplyTimeoutPolicy); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Address returns the host:port address of the server.
func (c Config) Address() string {
	return net.JoinHostPort(c.Server, strconv.Itoa(c.Port))
}

// SessionOptions returns session options for c, which must be valid. The
// console and logger are not set.
func (c Config) SessionOptions() *ipkchat.Options {
	t, _ := proto.ParseTransport(c.Transport)
	p, _ := parsePolicy(c.ReplyTimeoutPolicy)
	return &ipkchat.Options{
		Transport:          t,
		ReplyTimeout:       time.Duration(c.ReplyTimeoutMS) * time.Millisecond,
		ReplyTimeoutPolicy: p,
	}
}

// Reliability returns datagram reliability settings for c.
func (c Config) Reliability() reliable.Config {
	retries := c.Retries
	if retries == 0 {
		retries = -1 // no retransmissions; zero selects the default
	}
	return reliable.Config{
		ConfirmTimeout: time.Duration(c.ConfirmTimeoutMS) * time.Millisecond,
		ReplyTimeout:   time.Duration(c.ReplyTimeoutMS) * time.Millisecond,
		MaxRetries:     retries,
	}
}

func parsePolicy(s string) (ipkchat.ReplyTimeoutPolicy, error) {
	switch strings.ToLower(s) {
	case "":
		return 0, nil
	case "fatal":
		return ipkchat.FatalOnReplyTimeout, nil
	case "revert":
		return ipkchat.RevertOnReplyTimeout, nil
	}
	return 0, fmt.Errorf("unknown reply timeout policy %q", s)
}
