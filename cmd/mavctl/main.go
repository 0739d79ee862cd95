package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/danmuck/mavbus/internal/bus"
	"github.com/danmuck/mavbus/internal/config"
	"github.com/danmuck/mavbus/internal/logging"
	"github.com/danmuck/mavbus/internal/protocol/message"
	"github.com/danmuck/mavbus/internal/ratecheck"
	"github.com/danmuck/mavbus/internal/ratecontrol"
	"github.com/danmuck/mavbus/internal/server"
	"github.com/danmuck/mavbus/internal/transport"
	"github.com/rs/zerolog/log"
)

const usage = `usage: mavctl [-config path] [-port dev] [-baud n] [-mode sync|async] <command> [flags]

commands:
  monitor    log decoded messages until interrupted (-msg 30,33 filters ids)
  stream     set one stream rate (-stream position -rate 4 [-stop])
  stop-all   stop every stream on the target system
  verify     run the rate verification scenario; exits 1 on violations
  serve      run the bus with the admin HTTP server
  config     print the effective profile
`

// errViolations makes verify exit non-zero without logging it as a failure.
var errViolations = errors.New("rate verification found violations")

type globalFlags struct {
	config string
	port   string
	baud   int
	mode   string
}

func main() {
	logging.ConfigureRuntime()
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errViolations) {
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "mavctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("mavctl", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() { fmt.Fprint(out, usage) }
	var g globalFlags
	fs.StringVar(&g.config, "config", "", "link profile (TOML); defaults apply when empty")
	fs.StringVar(&g.port, "port", "", "serial device override")
	fs.IntVar(&g.baud, "baud", 0, "baud rate override")
	fs.StringVar(&g.mode, "mode", "", "dispatch mode override: sync|async")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("missing command")
	}

	rc, err := g.runtime()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "config":
		return runConfig(rc, out)
	case "monitor":
		return runMonitor(ctx, rc, rest)
	case "stream":
		return runStream(ctx, rc, rest)
	case "stop-all":
		return withBus(rc, func(b *bus.Bus) error {
			return ratecontrol.NewController(b, rc.Rate).StopAll(ctx, rc.Target.System)
		})
	case "verify":
		return runVerify(ctx, rc, rest)
	case "serve":
		return runServe(ctx, rc)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (g globalFlags) runtime() (runtimeConfig, error) {
	file, err := loadProfile(g.config)
	if err != nil {
		return runtimeConfig{}, err
	}
	if g.port != "" {
		file.Serial.Port = g.port
	}
	if g.baud > 0 {
		file.Serial.Baud = g.baud
	}
	if g.mode != "" {
		file.Bus.Mode = g.mode
	}
	return resolve(file)
}

func openBus(rc runtimeConfig) (*bus.Bus, error) {
	return bus.Open(transport.SerialDialer{Config: rc.Serial}, rc.Bus)
}

func withBus(rc runtimeConfig, fn func(*bus.Bus) error) error {
	b, err := openBus(rc)
	if err != nil {
		return err
	}
	runErr := fn(b)
	if err := b.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func runConfig(rc runtimeConfig, out io.Writer) error {
	rendered, err := config.Render(rc.File)
	if err != nil {
		return err
	}
	_, err = out.Write(rendered)
	return err
}

func runMonitor(ctx context.Context, rc runtimeConfig, args []string) error {
	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	ids := fs.String("msg", "", "comma separated message ids to log (default all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	filter, err := parseIDs(*ids)
	if err != nil {
		return err
	}

	return withBus(rc, func(b *bus.Bus) error {
		dialect := b.Dialect()
		_, err := b.Register(bus.SubscriberFunc(func(msg message.Message) error {
			if len(filter) > 0 && !filter[msg.ID] {
				return nil
			}
			log.Info().
				Str("msg", dialect.Name(msg.ID)).
				Uint8("sysid", msg.SystemID).
				Uint8("compid", msg.ComponentID).
				Uint8("seq", msg.Sequence).
				Interface("payload", msg.Payload).
				Msg("mavctl.monitor")
			return nil
		}))
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-b.Done():
			return b.Err()
		}
	})
}

func runStream(ctx context.Context, rc runtimeConfig, args []string) error {
	fs := flag.NewFlagSet("stream", flag.ContinueOnError)
	name := fs.String("stream", "", "stream name or id")
	rate := fs.Int("rate", 0, "messages per second")
	stopStream := fs.Bool("stop", false, "stop the stream instead of starting it")
	if err := fs.Parse(args); err != nil {
		return err
	}
	stream, err := ratecontrol.ParseStreamType(*name)
	if err != nil {
		return err
	}
	req := ratecontrol.Request{
		TargetSystem:    rc.Target.System,
		TargetComponent: rc.Target.Component,
		Stream:          stream,
		Rate:            *rate,
		Start:           !*stopStream,
	}
	if err := req.Validate(); err != nil {
		return err
	}
	return withBus(rc, func(b *bus.Bus) error {
		return ratecontrol.NewController(b, rc.Rate).Set(ctx, req)
	})
}

func runVerify(ctx context.Context, rc runtimeConfig, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	streams := fs.String("streams", "", "comma separated streams to verify (default from profile)")
	noReset := fs.Bool("no-reset", false, "leave streams stopped after the run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	scenario := rc.Scenario
	if *streams != "" {
		scenario.Streams = nil
		for _, raw := range strings.Split(*streams, ",") {
			stream, err := ratecontrol.ParseStreamType(raw)
			if err != nil {
				return err
			}
			scenario.Streams = append(scenario.Streams, stream)
		}
	}
	if *noReset {
		scenario.Reset = nil
	}

	return withBus(rc, func(b *bus.Bus) error {
		runner, err := ratecheck.NewRunner(b, ratecontrol.NewController(b, rc.Rate), scenario)
		if err != nil {
			return err
		}
		report, err := runner.Run(ctx)
		if err != nil {
			return err
		}
		for _, v := range report.Violations() {
			log.Error().Str("violation", v.String()).Msg("mavctl.verify rate did not increase")
		}
		if !report.Passed() {
			return errViolations
		}
		log.Info().Int("streams", len(report.Streams)).Msg("mavctl.verify passed")
		return nil
	})
}

func runServe(ctx context.Context, rc runtimeConfig) error {
	return withBus(rc, func(b *bus.Bus) error {
		srv := server.New(b, ratecontrol.NewController(b, rc.Rate), server.Options{
			Name:            "mavctl",
			Addr:            rc.File.Admin.Addr,
			CorsOrigins:     rc.File.Admin.CorsOrigins,
			TargetSystem:    rc.Target.System,
			TargetComponent: rc.Target.Component,
		})
		return srv.Serve(ctx)
	})
}

func parseIDs(raw string) (map[uint8]bool, error) {
	out := make(map[uint8]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid message id %q", part)
		}
		out[uint8(id)] = true
	}
	return out, nil
}
