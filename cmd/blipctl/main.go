// Command blipctl controls a SOLEM BLIP irrigation controller over BLE.
//
// Usage:
//
//	blipctl [-config file] [-address addr] station <1-3> <minutes>
//	blipctl [-config file] [-address addr] all <minutes>
//	blipctl [-config file] [-address addr] stop
//	blipctl [-config file] [-address addr] status
//	blipctl [-config file] [-address addr] watch
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chaz8081/blipctl/internal/ble"
	"github.com/chaz8081/blipctl/internal/ble/protocol"
	"github.com/chaz8081/blipctl/internal/config"
	"github.com/chaz8081/blipctl/internal/logging"
	"github.com/chaz8081/blipctl/internal/metrics"
	"github.com/chaz8081/blipctl/internal/session"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/blipctl/config.yaml)")
	address := flag.String("address", "", "device address, overrides device.address")
	flag.Usage = usage
	flag.Parse()

	if err := run(*configPath, *address, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "blipctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: blipctl [flags] <command>

Commands:
  station <1-3> <minutes>   water one station
  all <minutes>             water all stations
  stop                      stop watering
  status                    print the current status
  watch                     poll status until interrupted

Flags:
`)
	flag.PrintDefaults()
}

func run(configPath, address string, args []string) error {
	if len(args) == 0 {
		usage()
		return errors.New("missing command")
	}

	// Parse before connecting so bad arguments never touch the device.
	op, err := parseCommand(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if address != "" {
		cfg.Device.Address = address
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if cfg.Device.Address == "" {
		return errors.New("no device address: set device.address or pass -address")
	}

	closer, err := logging.Setup(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	link, err := ble.Dial(ctx, ble.NewTinyGoAdapter(), cfg.Device.Address, ble.DialOptions{
		ConnectTimeout: cfg.Device.ConnectTimeout,
		Retries:        cfg.Device.ConnectRetries,
		MaxBackoff:     cfg.Device.MaxBackoff,
	})
	if err != nil {
		return err
	}
	defer link.Close()

	observer := session.NopObserver()
	if cfg.Metrics.Listen != "" {
		reg := metrics.NewRegistry()
		observer = metrics.NewSessionMetrics(reg)
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: metrics.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer srv.Close()
		log.Info().Str("listen", cfg.Metrics.Listen).Msg("metrics endpoint ready")
	}

	ctrl, err := session.New(link, session.Options{
		BurstTimeout:      cfg.Session.BurstTimeout,
		BurstSize:         cfg.Session.BurstSize,
		WriteInterval:     cfg.Session.WriteInterval,
		WriteWithResponse: cfg.Session.WriteWithResponse,
		Observer:          observer,
	})
	if err != nil {
		return err
	}

	if op.kind == "watch" {
		err := ctrl.Watch(ctx, cfg.Session.WatchInterval, func(status protocol.DeviceStatus, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("poll failed")
				return
			}
			printStatus(status)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	status, err := ctrl.Do(ctx, op.cmd)
	if err != nil {
		return err
	}
	printStatus(status)
	return nil
}

type operation struct {
	kind string
	cmd  protocol.Command
}

func parseCommand(args []string) (operation, error) {
	name, rest := args[0], args[1:]
	switch name {
	case "station":
		if len(rest) != 2 {
			return operation{}, errors.New("usage: station <1-3> <minutes>")
		}
		station, err := strconv.Atoi(rest[0])
		if err != nil {
			return operation{}, fmt.Errorf("station: %w", err)
		}
		d, err := parseMinutes(rest[1])
		if err != nil {
			return operation{}, err
		}
		cmd := protocol.StartStation(station, d)
		return operation{kind: name, cmd: cmd}, cmd.Validate()
	case "all":
		if len(rest) != 1 {
			return operation{}, errors.New("usage: all <minutes>")
		}
		d, err := parseMinutes(rest[0])
		if err != nil {
			return operation{}, err
		}
		cmd := protocol.StartAll(d)
		return operation{kind: name, cmd: cmd}, cmd.Validate()
	case "stop":
		return operation{kind: name, cmd: protocol.Stop()}, nil
	case "status":
		return operation{kind: name, cmd: protocol.PollStatus()}, nil
	case "watch":
		return operation{kind: name}, nil
	default:
		return operation{}, fmt.Errorf("unknown command %q", name)
	}
}

func parseMinutes(s string) (time.Duration, error) {
	minutes, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("minutes: %w", err)
	}
	// Bound before multiplying so huge values cannot wrap into range.
	if minutes < 0 || minutes > int(protocol.MaxDuration/time.Minute) {
		return 0, fmt.Errorf("%w: %d minutes (want %d-%d)", protocol.ErrInvalidDuration,
			minutes, int(protocol.MinDuration/time.Minute), int(protocol.MaxDuration/time.Minute))
	}
	return time.Duration(minutes) * time.Minute, nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	return config.Default(), nil
}

func printStatus(s protocol.DeviceStatus) {
	fmt.Printf("%s  %s\n", s.UpdatedAt.Format(time.TimeOnly), s)
}
