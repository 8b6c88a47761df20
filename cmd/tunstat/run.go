package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mycoria/tunstat"
	"github.com/mycoria/tunstat/config"
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runOpts.tunName, "tun", "", "override tun interface name")
	runCmd.Flags().Uint64Var(&runOpts.endAfter, "end-after", 0, "override sequence index that ends the session")
	runCmd.Flags().StringVar(&runOpts.record, "record", "", "override record file")
	runCmd.Flags().StringVar(&runOpts.metrics, "metrics", "", "override metrics listen address")
}

var (
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Create the tun device and measure incoming test frames",
		Args:  cobra.NoArgs,
		RunE:  run,
	}

	runOpts struct {
		tunName  string
		endAfter uint64
		record   string
		metrics  string
	}

	sigUSR1 = syscall.Signal(0xa)

	errLossDetected = errors.New("frames were lost during the session")
)

func run(cmd *cobra.Command, args []string) error {
	return runSession(tunstat.Options{})
}

// loadConfig loads the config file and applies the command line overrides.
func loadConfig() (*config.Config, error) {
	s, err := config.LoadStore(*configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	s, err = s.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to copy config: %w", err)
	}

	if runOpts.tunName != "" {
		s.System.TunName = runOpts.tunName
	}
	if runOpts.endAfter != 0 {
		s.Session.EndAfter = runOpts.endAfter
		if uint64(s.Session.Capacity) < runOpts.endAfter {
			s.Session.Capacity = int(runOpts.endAfter) //nolint:gosec
		}
	}
	if runOpts.record != "" {
		s.Report.Record = runOpts.record
	}
	if runOpts.metrics != "" {
		s.Metrics.Listen = runOpts.metrics
	}

	c, err := s.Parse()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

func runSession(opts tunstat.Options) error {
	if err := setupLogging(); err != nil {
		return err
	}
	c, err := loadConfig()
	if err != nil {
		return err
	}

	// Setup up everything.
	ts, err := tunstat.New(Version, c, opts)
	if err != nil {
		return fmt.Errorf("failed to initialize tunstat: %w", err)
	}

	// Finalize and start all workers.
	err = ts.Start()
	if err != nil {
		return fmt.Errorf("failed to start tunstat: %w", err)
	}

	// Wait for signal.
	signalCh := make(chan os.Signal, 1)
	signal.Notify(
		signalCh,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
		sigUSR1,
	)

signalLoop:
	for {
		select {
		case sig := <-signalCh:
			// Only print and continue to wait if SIGUSR1
			if sig == sigUSR1 {
				printStackTo(os.Stderr, "PRINTING STACK ON REQUEST")
				continue signalLoop
			}

			fmt.Println(" <INTERRUPT>") // CLI output.
			slog.Warn("program was interrupted, stopping")

			// catch signals during shutdown
			go func() {
				forceCnt := 5
				for {
					<-signalCh
					forceCnt--
					if forceCnt > 0 {
						fmt.Printf(" <INTERRUPT> again, but already shutting down - %d more to force\n", forceCnt)
					} else {
						printStackTo(os.Stderr, "PRINTING STACK ON FORCED EXIT")
						os.Exit(1)
					}
				}
			}()

			go func() {
				time.Sleep(time.Minute)
				printStackTo(os.Stderr, "PRINTING STACK - TAKING TOO LONG FOR SHUTDOWN")
				os.Exit(1)
			}()

			if !ts.Stop() {
				slog.Error("failed to stop tunstat")
				os.Exit(1)
			}
			break signalLoop

		case <-ts.Done():
			if !ts.Stop() {
				slog.Error("failed to stop tunstat")
				os.Exit(1)
			}
			break signalLoop
		}
	}

	if ts.Monitor().Tracker().LossSuspected() {
		return errLossDetected
	}
	return nil
}

func printStackTo(writer io.Writer, msg string) {
	_, err := fmt.Fprintf(writer, "===== %s =====\n", msg)
	if err == nil {
		err = pprof.Lookup("goroutine").WriteTo(writer, 1)
	}
	if err != nil {
		slog.Error("failed to write stack trace", "err", err)
	}
}
