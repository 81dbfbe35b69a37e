// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Program ipkchat is a command-line client for IPK-CHAT servers.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/ipkchat"
	"github.com/creachadair/ipkchat/channel"
	"github.com/creachadair/ipkchat/config"
	"github.com/creachadair/ipkchat/input"
	"github.com/creachadair/ipkchat/proto"
	"github.com/creachadair/taskgroup"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var flags struct {
	Transport   string `flag:"t,Transport protocol (tcp or udp)"`
	Server      string `flag:"s,Server IP address or host name"`
	Port        int    `flag:"p,Server port (default 4567)"`
	Timeout     int    `flag:"d,UDP confirmation timeout in milliseconds (default 250)"`
	Retries     int    `flag:"r,Maximum number of UDP retransmissions (default 3)"`
	Policy      string `flag:"reply-policy,Action on reply timeout: fatal or revert (default by transport)"`
	Config      string `flag:"config,Read settings from this TOML file"`
	Debug       bool   `flag:"debug,Write diagnostic logs to stderr"`
	MetricsAddr string `flag:"metrics-addr,Serve Prometheus metrics at this address"`
}

var encodeFlags struct {
	ID     int  `flag:"id,Message ID for the datagram encoding"`
	Stream bool `flag:"stream,Print the stream encoding instead of datagram hex"`
}

// rootFlags is the flag set of the root command, used to find which flags
// were set explicitly.
var rootFlags *flag.FlagSet

func main() {
	root := &command.C{
		Name:  filepath.Base(os.Args[0]),
		Usage: "-t <tcp|udp> -s <server> [options]",
		Help: `Chat with an IPK-CHAT server.

Lines read from standard input are commands or chat messages:

` + ipkchat.HelpText + `

Settings may also be read from a TOML file with -config. Flags given on
the command line take precedence over the file.`,
		SetFlags: func(env *command.Env, fs *flag.FlagSet) {
			flax.MustBind(fs, &flags)
			rootFlags = fs
		},
		Run: runClient,
		Commands: []*command.C{
			{
				Name:  "encode",
				Usage: "<kind> <field>...",
				Help: `Encode a protocol message and print it.

The kind and fields are:

  auth    <username> <display-name> <secret>
  join    <channel-id> <display-name>
  msg     <display-name> <content>
  err     <display-name> <content>
  bye     <display-name>
  reply   <ok|nok> <ref-id> <content>
  confirm <ref-id>
  ping

By default the datagram encoding is printed in hexadecimal.`,
				SetFlags: func(env *command.Env, fs *flag.FlagSet) {
					flax.MustBind(fs, &encodeFlags)
				},
				Run: runEncode,
			},
			{
				Name:  "decode",
				Usage: "<hex>",
				Help:  "Decode a datagram given in hexadecimal and print it.",
				Run:   runDecode,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func runClient(env *command.Env) error {
	if len(env.Args) != 0 {
		return env.Usagef("extra arguments: %q", env.Args)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := openLog(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.MetricsAddr != "" {
		stop, err := serveMetrics(cfg.MetricsAddr, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	ch, err := dial(ctx, cfg, logger)
	if err != nil {
		return err
	}
	opts := cfg.SessionOptions()
	opts.Console = ipkchat.WriterConsole(os.Stdout)
	opts.Logger = logger
	s := ipkchat.NewSession(opts).Start(ch)
	if logger != nil {
		s.LogMessages(func(m ipkchat.MessageInfo) { logger.Print(m) })
	}

	in := input.NewReader(os.Stdin)
	defer in.Close()
	return s.Run(ctx, in)
}

// loadConfig combines the defaults, the config file, and the flags.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if flags.Config != "" {
		var err error
		cfg, err = config.Load(flags.Config)
		if err != nil {
			return cfg, err
		}
	}
	rootFlags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			cfg.Transport = flags.Transport
		case "s":
			cfg.Server = flags.Server
		case "p":
			cfg.Port = flags.Port
		case "d":
			cfg.ConfirmTimeoutMS = flags.Timeout
		case "r":
			cfg.Retries = flags.Retries
		case "reply-policy":
			cfg.ReplyTimeoutPolicy = flags.Policy
		case "debug":
			cfg.Debug = flags.Debug
		case "metrics-addr":
			cfg.MetricsAddr = flags.MetricsAddr
		}
	})
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openLog returns a logger for diagnostics, or nil if none are wanted.
func openLog(cfg config.Config) (*log.Logger, func(), error) {
	const logFlags = log.LstdFlags | log.Lmicroseconds
	switch {
	case cfg.LogFile != "":
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log: %w", err)
		}
		return log.New(f, "[ipkchat] ", logFlags), func() { f.Close() }, nil
	case cfg.Debug:
		return log.New(os.Stderr, "[ipkchat] ", logFlags), func() {}, nil
	}
	return nil, func() {}, nil
}

func serveMetrics(addr string, logger *log.Logger) (func(), error) {
	lst, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux}
	g := taskgroup.Go(func() error {
		if err := srv.Serve(lst); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return func() {
		srv.Close()
		if err := g.Wait(); err != nil && logger != nil {
			logger.Printf("metrics server: %v", err)
		}
	}, nil
}

func dial(ctx context.Context, cfg config.Config, logger *log.Logger) (ipkchat.Channel, error) {
	switch t, _ := proto.ParseTransport(cfg.Transport); t {
	case proto.Stream:
		return channel.DialStream(ctx, cfg.Address())
	case proto.Datagram:
		rc := cfg.Reliability()
		rc.Logger = logger
		return channel.ListenDatagram(ctx, cfg.Address(), &channel.DatagramOptions{
			Reliability: rc,
			Logger:      logger,
		})
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

func runEncode(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("missing message kind")
	}
	m, err := parseMessage(strings.ToLower(env.Args[0]), env.Args[1:])
	if err != nil {
		return env.Usagef("%v", err)
	}
	m.ID = uint16(encodeFlags.ID)
	for _, t := range m.Truncate() {
		fmt.Fprintf(os.Stderr, "warning: %v\n", t)
	}
	if encodeFlags.Stream {
		data, err := proto.EncodeStream(m)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}
	data, err := proto.EncodeDatagram(m)
	if err != nil {
		return err
	}
	fmt.Println(hex.EncodeToString(data))
	return nil
}

func parseMessage(kind string, args []string) (*proto.Message, error) {
	need := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s wants %d arguments, got %d", kind, n, len(args))
		}
		return nil
	}
	switch kind {
	case "auth":
		if err := need(3); err != nil {
			return nil, err
		}
		return proto.Auth(args[0], args[1], args[2]), nil
	case "join":
		if err := need(2); err != nil {
			return nil, err
		}
		return proto.Join(args[0], args[1]), nil
	case "msg", "err":
		if err := need(2); err != nil {
			return nil, err
		}
		if kind == "msg" {
			return proto.Chat(args[0], args[1]), nil
		}
		return proto.Error(args[0], args[1]), nil
	case "bye":
		if err := need(1); err != nil {
			return nil, err
		}
		return proto.Bye(args[0]), nil
	case "reply":
		if err := need(3); err != nil {
			return nil, err
		}
		ref, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid ref-id: %w", err)
		}
		return proto.Reply(strings.EqualFold(args[0], "ok"), args[2], uint16(ref)), nil
	case "confirm":
		if err := need(1); err != nil {
			return nil, err
		}
		ref, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid ref-id: %w", err)
		}
		return proto.Confirm(uint16(ref)), nil
	case "ping":
		if err := need(0); err != nil {
			return nil, err
		}
		return proto.Ping(0), nil
	}
	return nil, fmt.Errorf("unknown message kind %q", kind)
}

func runDecode(env *command.Env) error {
	if len(env.Args) != 1 {
		return env.Usagef("wrong number of arguments")
	}
	data, err := hex.DecodeString(strings.Join(strings.Fields(env.Args[0]), ""))
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	m, err := proto.DecodeDatagram(data)
	if err != nil {
		return err
	}
	fmt.Println(m)
	if m.Content != "" {
		fmt.Println(m.Content)
	}
	return nil
}
