package main

import (
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mycoria/tunstat/config"
	"github.com/mycoria/tunstat/frame"
	"github.com/mycoria/tunstat/sender"
)

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendOpts.target, "target", config.DefaultSendTarget.String(), "destination address, must be routed into the tun device")
	sendCmd.Flags().Uint64Var(&sendOpts.count, "count", 0, "amount of frames to send (default: session.endAfter)")
	sendCmd.Flags().BoolVar(&sendOpts.noEnd, "no-end", false, "do not send the frame that ends the session")
	sendCmd.Flags().IntVar(&sendOpts.payloadSize, "size", sender.DefaultPayloadSize, "UDP payload size")
	sendCmd.Flags().IntVar(&sendOpts.rate, "rate", 0, "maximum frames per second (0: unlimited)")
	sendCmd.Flags().IntVar(&sendOpts.batch, "batch", sender.DefaultBatchSize, "frames per write call")
}

var (
	sendCmd = &cobra.Command{
		Use:   "send",
		Short: "Send test frames to a running tunstat",
		Args:  cobra.NoArgs,
		RunE:  send,
	}

	sendOpts struct {
		target      string
		count       uint64
		noEnd       bool
		payloadSize int
		rate        int
		batch       int
	}
)

func send(cmd *cobra.Command, args []string) error {
	if err := setupLogging(); err != nil {
		return err
	}
	c, err := loadConfig()
	if err != nil {
		return err
	}

	target, err := netip.ParseAddrPort(sendOpts.target)
	if err != nil {
		return fmt.Errorf("invalid target: %w", err)
	}
	if target.Addr().Is6() && !c.TunAddress.Contains(target.Addr()) {
		slog.Warn("target is not within the tun prefix", "target", target, "prefix", c.TunAddress.Masked())
	}
	if maxSize := c.MaxPayloadSize(); sendOpts.payloadSize > maxSize {
		slog.Warn("payload size exceeds tun MTU, frames will be fragmented", "size", sendOpts.payloadSize, "max", maxSize)
	}

	// Send full session by default.
	opts := sender.Options{
		Target:      target,
		Count:       sendOpts.count,
		EndMarker:   c.Session.EndAfter,
		PayloadSize: sendOpts.payloadSize,
		Rate:        sendOpts.rate,
		BatchSize:   sendOpts.batch,
	}
	if opts.Count == 0 {
		opts.Count = c.Session.EndAfter
	}
	if sendOpts.noEnd {
		opts.EndMarker = 0
	}

	s, err := sender.New(frame.NewBuilder(), opts)
	if err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return err
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-signalCh:
		fmt.Println(" <INTERRUPT>") // CLI output.
		slog.Warn("program was interrupted, stopping")
	case <-s.Done():
	}

	if err := s.Stop(); err != nil {
		slog.Warn("failed to close connection", "err", err)
	}
	return s.Err()
}
