package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/globalfifo/pkg/chardev"
	"github.com/haivivi/globalfifo/pkg/cli"
	"github.com/haivivi/globalfifo/pkg/fifo"
)

var (
	pollEvents  string
	pollTimeout time.Duration
	pollLoop    bool
	pollCount   int
)

// pollEntry is one ready device in structured output.
type pollEntry struct {
	Device string `json:"device" yaml:"device"`
	Events string `json:"events" yaml:"events"`
}

var pollCmd = &cobra.Command{
	Use:   "poll <dev>...",
	Short: "Wait for devices to become readable or writable",
	Long: `Wait until at least one device is ready for the requested events and print
which ones are.

--timeout 0 checks once without waiting; a negative timeout waits forever.
With --loop, readable devices are drained and polling continues until
interrupted or --count rounds have completed.

Examples:
  globalfifo poll 0 1 --timeout 0
  globalfifo poll 0 --events out
  globalfifo poll 0 1 2 --loop`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		devs, err := parseDevices(args)
		if err != nil {
			return err
		}
		mask, err := parseEvents(pollEvents)
		if err != nil {
			return err
		}
		if pollLoop && mask&fifo.EventIn == 0 {
			return fmt.Errorf("--loop drains readable devices and needs --events in")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		reqs := make([]chardev.PollRequest, 0, len(devs))
		for _, d := range devs {
			f, err := c.Open(ctx, d, chardev.FlagNonblock)
			if err != nil {
				return fmt.Errorf("open %s: %w", cli.DeviceName(d), err)
			}
			reqs = append(reqs, chardev.PollRequest{File: f, Events: mask})
		}

		timeout := pollTimeout
		if timeout < 0 {
			timeout = fifo.NoTimeout
		}
		for round := 1; ; round++ {
			start := time.Now()
			res, err := c.Poll(ctx, reqs, timeout)
			if err != nil {
				if pollLoop && errors.Is(err, fifo.ErrInterrupted) {
					return nil
				}
				return err
			}
			if err := reportPoll(res, time.Since(start)); err != nil {
				return err
			}
			if !pollLoop {
				return nil
			}
			for _, r := range res {
				if r.Events&fifo.EventIn != 0 {
					if err := drain(ctx, r.File); err != nil {
						return err
					}
				}
			}
			if pollCount > 0 && round >= pollCount {
				return nil
			}
		}
	},
}

func reportPoll(res []chardev.PollResult, elapsed time.Duration) error {
	if structured() {
		entries := make([]pollEntry, 0, len(res))
		for _, r := range res {
			entries = append(entries, pollEntry{Device: cli.DeviceName(r.File.Dev()), Events: r.Events.String()})
		}
		return output(entries)
	}
	if len(res) == 0 {
		fmt.Printf("timeout after %s\n", cli.FormatDuration(elapsed))
		return nil
	}
	for _, r := range res {
		fmt.Printf("%s %s\n", cli.DeviceName(r.File.Dev()), r.Events)
	}
	return nil
}

// drain reads f until it would block and prints what was read.
func drain(ctx context.Context, f *chardev.File) error {
	buf := make([]byte, max(f.Capacity(), 1))
	for {
		n, err := f.ReadContext(ctx, buf)
		if errors.Is(err, fifo.ErrWouldBlock) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", cli.DeviceName(f.Dev()), err)
		}
		fmt.Printf("%s: %s\n", cli.DeviceName(f.Dev()), cli.Quote(buf[:n]))
	}
}

func init() {
	pollCmd.Flags().StringVar(&pollEvents, "events", "in", "events to wait for: in, out, rw")
	pollCmd.Flags().DurationVar(&pollTimeout, "timeout", -1, "how long to wait (0 checks once, negative waits forever)")
	pollCmd.Flags().BoolVar(&pollLoop, "loop", false, "keep polling and drain readable devices")
	pollCmd.Flags().IntVar(&pollCount, "count", 0, "with --loop, stop after this many rounds (0 = unlimited)")

	rootCmd.AddCommand(pollCmd)
}
