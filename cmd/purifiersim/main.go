// Purifiersim serves one simulated air purifier on a UDP port so the bridge
// can be exercised without hardware.
//
// Usage:
//
//	purifiersim [-addr 127.0.0.1:5683] [-generation legacy] [-secret hex]
//	            [-obfuscated] [-status status.yaml] [-log-level info]
//
// The status file is a flat YAML map of protocol keys to values. Without
// one, the device reports a typical idle state for its generation.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/purifier-bridge/internal/cipher"
	"github.com/nerrad567/purifier-bridge/internal/codec"
	"github.com/nerrad567/purifier-bridge/internal/infrastructure/config"
	"github.com/nerrad567/purifier-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/purifier-bridge/internal/profile"
	"github.com/nerrad567/purifier-bridge/internal/simulator"
)

var version = "dev"

// options holds the parsed command line.
type options struct {
	addr       string
	generation profile.Generation
	secret     string
	obfuscated bool
	statusPath string
	logLevel   string
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, errOut io.Writer) (options, error) {
	fs := flag.NewFlagSet("purifiersim", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var opts options
	var gen string
	fs.StringVar(&opts.addr, "addr", "127.0.0.1:5683", "UDP listen address")
	fs.StringVar(&gen, "generation", string(profile.GenerationLegacy), "protocol generation (legacy, encrypted, encrypted_v2)")
	fs.StringVar(&opts.secret, "secret", "", "device secret for encrypted generations")
	fs.BoolVar(&opts.obfuscated, "obfuscated", false, "obfuscate legacy payloads")
	fs.StringVar(&opts.statusPath, "status", "", "YAML file with the initial reported state")
	fs.StringVar(&opts.logLevel, "log-level", "info", "log level")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	g, err := profile.ParseGeneration(gen)
	if err != nil {
		fmt.Fprintf(errOut, "invalid -generation: %v\n", err)
		return options{}, err
	}
	opts.generation = g
	return opts, nil
}

// run serves the simulated device until ctx is cancelled. ready, when not
// nil, receives the device once it is listening.
func run(ctx context.Context, opts options, ready chan<- *simulator.Device) error {
	logger := logging.New(config.LoggingConfig{Level: opts.logLevel, Format: "text", Output: "stderr"}, version).
		Component("simulator")

	status := defaultStatus(opts.generation)
	if opts.statusPath != "" {
		var err error
		if status, err = loadStatus(opts.statusPath); err != nil {
			return err
		}
	}

	dev, err := simulator.Start(simulator.Config{
		Addr:       opts.addr,
		Generation: opts.generation,
		Credentials: cipher.Credentials{
			Secret:     opts.secret,
			Obfuscated: opts.obfuscated,
		},
		Status: status,
	})
	if err != nil {
		return err
	}
	defer dev.Close()
	dev.SetLogger(logger)

	logger.Info("simulated purifier listening",
		"addr", dev.Addr(),
		"generation", opts.generation,
		"fields", len(status),
	)
	if ready != nil {
		ready <- dev
	}

	<-ctx.Done()
	logger.Info("simulator stopped",
		"handshakes", dev.Handshakes(),
		"commands", len(dev.Commands()),
	)
	return nil
}

// loadStatus reads a flat YAML status map. Integers are widened to int64 to
// match what the codecs decode.
func loadStatus(path string) (codec.StatusMap, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("reading status file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing status file: %w", err)
	}
	status := make(codec.StatusMap, len(raw))
	for k, v := range raw {
		switch n := v.(type) {
		case int:
			status[k] = int64(n)
		case map[string]any, []any:
			return nil, fmt.Errorf("status field %q: nested values are not supported", k)
		default:
			status[k] = v
		}
	}
	return status, nil
}

// defaultStatus returns an idle, powered-on purifier for gen.
func defaultStatus(gen profile.Generation) codec.StatusMap {
	switch gen {
	case profile.GenerationEncrypted:
		return codec.StatusMap{
			"D01-05":  "AC3737/10",
			"D01-03":  "Bedroom",
			"D03-02":  "ON",
			"D03-12":  "Auto General",
			"D03-13":  int64(1),
			"D03-03":  false,
			"D03-33":  int64(7),
			"D03-32":  int64(2),
			"D03-125": int64(45),
			"D03-128": int64(50),
			"D03-224": int64(21),
			"D05-13":  int64(3600),
			"D05-14":  int64(4800),
		}
	case profile.GenerationEncryptedV2:
		return codec.StatusMap{
			"D01S05": "AC0850/11",
			"D01S03": "Bedroom",
			"D03102": int64(1),
			"D0310C": int64(0),
			"D03221": int64(7),
			"D03120": int64(2),
			"D05207": int64(3600),
			"D05408": int64(4800),
		}
	default:
		return codec.StatusMap{
			"modelid": "AC2729/10",
			"name":    "Bedroom",
			"pwr":     int64(1),
			"mode":    "P",
			"speed":   int64(1),
			"pm25":    int64(7),
			"iaql":    int64(1),
			"rh":      int64(45),
			"rhset":   int64(50),
			"temp":    int64(21),
			"cl":      int64(0),
			"uil":     int64(1),
			"fltsts0": int64(120),
			"fltsts1": int64(2400),
			"fltsts2": int64(2400),
			"wl":      int64(100),
			"err":     int64(0),
		}
	}
}
