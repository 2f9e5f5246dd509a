package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/TheusHen/toxcore/internal/config"
	"github.com/TheusHen/toxcore/toxcore"
	"github.com/TheusHen/toxcore/toxcore/discovery/dns"
	"github.com/TheusHen/toxcore/toxcore/logging"
	"github.com/TheusHen/toxcore/toxcore/transport/quic"
)

func init() {
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve /status and /metrics on this address (overrides config)")
	runCmd.Flags().BoolVar(&runUntilConnected, "until-connected", false, "exit once the node is connected")
	runCmd.Flags().StringVar(&runLogLevel, "log-level", "", "minimum log level: trace, debug, info, warn, error (overrides config)")
	rootCmd.AddCommand(runCmd)
}

var (
	runMetricsAddr    string
	runUntilConnected bool
	runLogLevel       string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the node until interrupted",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if runMetricsAddr != "" {
		cfg.Metrics.Addr = runMetricsAddr
	}
	if runLogLevel != "" {
		cfg.Logging.Level = runLogLevel
		cfg.Logging.Trace = runLogLevel == "trace"
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runNode(ctx, cfg, runParams{
		clock:          clock.New(),
		out:            cmd.OutOrStdout(),
		errOut:         cmd.ErrOrStderr(),
		untilConnected: runUntilConnected,
	})
}

// runParams carries what runNode needs besides the configuration.
// opts, when set, adjusts the node options before New.
type runParams struct {
	clock          clock.Clock
	out            io.Writer
	errOut         io.Writer
	untilConnected bool
	opts           func(*toxcore.Options)
}

func runNode(ctx context.Context, cfg config.Config, p runParams) (err error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	log := logging.NewTextLogger(p.errOut, level)

	store, err := openStore(cfg.State)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, store.Close()) }()
	blob, err := store.Load()
	if err != nil {
		return err
	}

	opts := cfg.Options()
	opts.SaveState = blob
	opts.SavePassphrase = passphrase(cfg.State)
	opts.LogObserver = newPrinter(p.errOut, cfg.Logging.Trace)
	reg := prometheus.NewRegistry()
	opts.MetricsRegisterer = reg
	if cfg.Resolver.Server != "" {
		r, err := dns.New(dns.Config{
			Server: cfg.Resolver.Server,
			Net:    cfg.Resolver.Net,
			Logger: logging.Subsystem(log, "dns"),
		})
		if err != nil {
			return err
		}
		opts.Resolver = r
	}
	if cfg.Node.RelayListen != "" {
		l, err := quic.Listen(cfg.Node.RelayListen)
		if err != nil {
			return fmt.Errorf("relay listener: %w", err)
		}
		opts.RelayListener = l
	}
	if p.opts != nil {
		p.opts(&opts)
	}

	n, err := toxcore.New(opts)
	if err != nil {
		if opts.RelayListener != nil {
			opts.RelayListener.Close()
		}
		return err
	}
	defer func() {
		if blob, serr := n.SaveState(); serr != nil {
			err = multierr.Append(err, serr)
		} else {
			err = multierr.Append(err, store.Save(blob))
		}
		err = multierr.Append(err, n.Close())
	}()
	fmt.Fprintf(p.out, "address: %s\n", n.Address())

	if err := joinNetwork(ctx, n, cfg, log); err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: newRouter(n, reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", "err", err)
			}
		}()
		defer srv.Close()
		log.Info("serving status", "addr", cfg.Metrics.Addr)
	}

	return runLoop(ctx, n, p.clock, p.untilConnected, p.out)
}

// joinNetwork adds every configured bootstrap node and relay. It fails
// only when none of them could be added.
func joinNetwork(ctx context.Context, n *toxcore.Node, cfg config.Config, log *slog.Logger) error {
	var (
		added int
		errs  error
	)
	for _, b := range cfg.Bootstrap {
		pk, _ := b.Key()
		if err := n.Bootstrap(ctx, b.Host, uint16(b.Port), pk); err != nil {
			log.Warn("bootstrap node rejected", "host", b.Host, "err", err)
			errs = multierr.Append(errs, err)
			continue
		}
		added++
	}
	for _, r := range cfg.Relays {
		pk, _ := r.Key()
		if err := n.AddRelay(ctx, r.Host, uint16(r.Port), pk); err != nil {
			log.Warn("relay unavailable", "host", r.Host, "err", err)
			errs = multierr.Append(errs, err)
			continue
		}
		added++
	}
	if added == 0 && errs != nil {
		return fmt.Errorf("no bootstrap node or relay usable: %w", errs)
	}
	return nil
}

// runLoop iterates n, sleeping the interval it asks for, until ctx is
// done. With untilConnected it returns once the node is connected.
// Status transitions are printed to out.
func runLoop(ctx context.Context, n *toxcore.Node, clk clock.Clock, untilConnected bool, out io.Writer) error {
	last := n.ConnectionStatus()
	fmt.Fprintf(out, "status: %s\n", last)
	for {
		d := n.Iterate(clk.Now())
		if st := n.ConnectionStatus(); st != last {
			fmt.Fprintf(out, "status: %s\n", st)
			last = st
		}
		if untilConnected && last.Connected() {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-clk.After(d):
		}
	}
}
