package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/axondata/go-svctl"
	"github.com/axondata/go-svctl/config"
	"github.com/axondata/go-svctl/history"
	"github.com/axondata/go-svctl/internal/logging"
	"github.com/axondata/go-svctl/internal/metrics"
)

// app holds what every command needs, built once flags are parsed
type app struct {
	cfg       *config.Config
	log       *logrus.Logger
	logCloser io.Closer
	ctl       *svctl.Controller

	registry *prometheus.Registry
	metrics  *metrics.Recorder
	history  *history.Sink

	jsonOut bool
}

var (
	configPath string
	state      = &app{}
)

var rootCmd = &cobra.Command{
	Use:           "svctl [command]",
	Short:         "svctl: lifecycle control for supervisord-managed services",
	Long:          `svctl stops, starts, restarts and signals processes across every supervisord instance that publishes a control socket, coordinating worker shutdown with the RQ job queue.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return state.setup(cmd)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (toml, json or yaml)")
	pf.String("socket-dir", svctl.DefaultSocketDir, "Directory of supervisord control sockets")
	pf.Int("concurrency", 0, "Services handled at once (0 = number of CPUs)")
	pf.Duration("timeout", 0, "Per-service operation timeout (0 = none)")
	pf.String("bench", "", "Bench directory holding sites/common_site_config.json")
	pf.String("redis-url", "", "Queue Redis URL (overrides the site config)")
	pf.String("report", "", "Write a JSON report of the run to this file")
	pf.String("history", "", "Record results in this SQLite file or Postgres DSN")
	pf.String("pushgateway", "", "Push run metrics to this Prometheus Pushgateway")
	pf.String("log-level", "info", "Log level")
	pf.String("log-format", "text", "Log format: text or json")
	pf.String("log-file", "", "Log to a rotated file instead of stderr")
	pf.BoolVar(&state.jsonOut, "json", false, "Print results as JSON")

	rootCmd.AddCommand(cmdVersion)
}

var cmdVersion = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(*cobra.Command, []string) error {
		v := svctl.GetVersion()
		if state.jsonOut {
			return printJSON(v)
		}
		fmt.Printf("svctl %s (%s, %s queue)\n", v.Version, v.Protocol, v.QueueLayout)
		return nil
	},
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.log, a.logCloser, err = logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		return err
	}

	a.ctl = svctl.New(
		svctl.WithSocketDir(cfg.SocketDir),
		svctl.WithLogger(a.log),
		svctl.WithDialTimeout(cfg.DialTimeout),
		svctl.WithCallTimeout(cfg.CallTimeout),
	)

	if cfg.Pushgateway != "" {
		a.registry = prometheus.NewRegistry()
		a.metrics = metrics.New()
		if err := a.metrics.Register(a.registry); err != nil {
			return err
		}
	}
	if cfg.History != "" {
		a.history, err = history.Open(cfg.History, history.WithLogger(a.log))
		if err != nil {
			return err
		}
	}
	return nil
}

// teardown flushes metrics and closes outputs. It runs whether or not the
// command succeeded.
func (a *app) teardown(ctx context.Context) {
	if a.cfg == nil {
		return
	}
	if a.metrics != nil {
		if err := metrics.Push(ctx, a.cfg.Pushgateway, "svctl", a.registry); err != nil {
			a.log.WithError(err).Warn("pushing metrics failed")
		}
	}
	if a.history != nil {
		_ = a.history.Close()
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

// manager builds a fan-out manager wired to the configured recorders
func (a *app) manager(opts ...svctl.ManagerOption) *svctl.Manager {
	base := []svctl.ManagerOption{
		svctl.WithConcurrency(a.cfg.Concurrency),
		svctl.WithTimeout(a.cfg.Timeout),
	}
	if a.metrics != nil {
		base = append(base, svctl.WithRecorder(a.metrics))
	}
	if a.history != nil {
		base = append(base, svctl.WithRecorder(a.history))
	}
	return svctl.NewManager(a.ctl, append(base, opts...)...)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	state.teardown(context.WithoutCancel(ctx))
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
