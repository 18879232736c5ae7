// ABOUTME: Entry point for the moneypilot backend
// ABOUTME: Serves the storage backend over WebSocket and probes a running instance

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
	"golang.org/x/net/websocket"

	"github.com/haushaltbuch/moneypilot/internal/config"
	"github.com/haushaltbuch/moneypilot/internal/gateway"
	"github.com/haushaltbuch/moneypilot/internal/server"
)

// Version is set with -ldflags at build time.
var version = "dev"

const banner = `
                                        _ _       _
  _ __ ___   ___  _ __   ___ _   _ _ __ (_) | ___ | |_
 | '_ ' _ \ / _ \| '_ \ / _ \ | | | '_ \| | |/ _ \| __|
 | | | | | | (_) | | | |  __/ |_| | |_) | | | (_) | |_
 |_| |_| |_|\___/|_| |_|\___|\__, | .__/|_|_|\___/ \__|
                             |___/|_|
`

// defaultProbeTimeout matches the container health check budget.
const defaultProbeTimeout = 3 * time.Second

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: moneypilot <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve [--config PATH]   Start the WebSocket server")
		fmt.Println("  health [--port N]       Check that a server answers with Hello")
		fmt.Println("  ready [--port N]        Check that a server reaches its data store")
		fmt.Println("  version                 Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args, os.Stdout)
	case "health":
		err = runHealth(ctx, args, os.Stdout)
	case "ready":
		err = runReady(ctx, args, os.Stdout)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, args []string, out io.Writer) error {
	settings, err := config.LoadSettings()
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.SetOutput(out)
	flags.StringVar(&settings.ConfigPath, "config", settings.ConfigPath, "path to configuration.json")
	flags.IntVar(&settings.Server.Port, "port", settings.Server.Port, "WebSocket port")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Fprint(out, banner)

	gray := color.New(color.FgHiBlack)
	gray.Fprintf(out, "    version: %s\n\n", version)

	// Load configuration; a malformed db_cfg stops here, before any port is bound
	cfg, err := config.Load(settings)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Settings.Logging, out)

	green := color.New(color.FgGreen)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Config:    %s\n", cfg.Settings.ConfigPath)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Backend:   %s\n", describeBackend(cfg.DB))
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Listen:    %s\n", cfg.Settings.Server.Addr())
	if cfg.Settings.Metrics.Enabled {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "Metrics:   /metrics\n")
	}
	fmt.Fprintln(out)

	logger.Info("starting moneypilot",
		"config", cfg.Settings.ConfigPath,
		"backend", cfg.DB.Kind(),
		"addr", cfg.Settings.Server.Addr(),
		"version", version,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func describeBackend(db config.DBConfig) string {
	switch db.Kind() {
	case config.KindFile:
		return "file " + db.File.FilePath
	case config.KindNetwork:
		return "network " + db.Network.String()
	default:
		return "none"
	}
}

// probeFlags parses the flags shared by health and ready.
func probeFlags(name string, args []string, out io.Writer) (addr string, timeout time.Duration, err error) {
	port := config.DefaultPort
	if v := os.Getenv("WEBSOCKET_PORT"); v != "" {
		if p, convErr := strconv.Atoi(v); convErr == nil {
			port = p
		}
	}

	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.SetOutput(out)
	host := flags.String("host", "localhost", "server host")
	flags.IntVar(&port, "port", port, "WebSocket port")
	flags.DurationVar(&timeout, "timeout", defaultProbeTimeout, "give up after this long")
	if err := flags.Parse(args); err != nil {
		return "", 0, err
	}
	return net.JoinHostPort(*host, strconv.Itoa(port)), timeout, nil
}

// runHealth connects to the WebSocket endpoint and expects a Hello frame.
func runHealth(ctx context.Context, args []string, out io.Writer) error {
	addr, timeout, err := probeFlags("health", args, out)
	if err != nil {
		return err
	}

	if err := checkHello(ctx, addr, timeout); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	fmt.Fprintln(out, "healthy")
	return nil
}

func checkHello(ctx context.Context, addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wsCfg, err := websocket.NewConfig("ws://"+addr+"/", "http://"+addr+"/")
	if err != nil {
		return err
	}
	wsCfg.Dialer = &net.Dialer{Timeout: timeout}

	conn, err := wsCfg.DialContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)

	var data []byte
	if err := websocket.Message.Receive(conn, &data); err != nil {
		return fmt.Errorf("reading greeting: %w", err)
	}

	var frame server.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("decoding greeting: %w", err)
	}
	if frame.Type != server.TypeHello {
		return fmt.Errorf("unexpected greeting %q", frame.Type)
	}
	return nil
}

// runReady asks a running server whether its data store answers.
func runReady(ctx context.Context, args []string, out io.Writer) error {
	addr, timeout, err := probeFlags("ready", args, out)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("http://%s/health/ready", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("ready check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return errors.New("not ready: " + string(body))
	}

	fmt.Fprintln(out, string(body))
	return nil
}
