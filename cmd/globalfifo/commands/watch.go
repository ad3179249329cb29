package commands

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/globalfifo/pkg/chardev"
	"github.com/haivivi/globalfifo/pkg/cli"
)

var (
	watchSignal bool
	watchCount  int
)

var watchCmd = &cobra.Command{
	Use:   "watch <dev>",
	Short: "Receive async notifications and drain the device",
	Long: `Enable async notification on a device and drain it every time data is
written, until interrupted or --count notifications have arrived.

By default notifications arrive as event frames on the connection. With
--signal the server raises SIGIO on this process instead. That needs a
unix socket connection (--socket) to a server started with --socket.

Examples:
  globalfifo watch 0
  globalfifo --socket /tmp/globalfifo.sock watch 0 --signal
  globalfifo watch 1 --count 3`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := parseDevice(args[0])
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		var sigio chan os.Signal
		pid := 0
		if watchSignal {
			cfg, err := clientConfig()
			if err != nil {
				return err
			}
			if cfg.Socket == "" {
				return fmt.Errorf("--signal needs a unix socket connection (--socket or client.yaml socket)")
			}
			sigio = make(chan os.Signal, 1)
			if err := notifySIGIO(sigio); err != nil {
				return err
			}
			defer signal.Stop(sigio)
			pid = os.Getpid()
		}

		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Close()
		f, err := c.Open(ctx, dev, chardev.FlagNonblock)
		if err != nil {
			return fmt.Errorf("open %s: %w", cli.DeviceName(dev), err)
		}
		if err := f.SetAsync(ctx, true, pid); err != nil {
			return fmt.Errorf("enable async on %s: %w", cli.DeviceName(dev), err)
		}
		cli.PrintInfo("watching %s", cli.DeviceName(dev))

		events := c.Events()
		for seen := 0; watchCount == 0 || seen < watchCount; {
			select {
			case <-ctx.Done():
				return nil
			case <-c.Done():
				return fmt.Errorf("connection lost")
			case ev, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				if ev.Handle != f.Handle() {
					continue
				}
				fmt.Printf("[%s] %s %s\n", ev.Time.Format(time.TimeOnly), ev.Kind, cli.DeviceName(ev.Device))
			case <-sigio:
				fmt.Printf("[%s] SIGIO %s\n", time.Now().Format(time.TimeOnly), cli.DeviceName(dev))
			}
			seen++
			if err := drain(ctx, f); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchSignal, "signal", false, "receive SIGIO instead of event frames (unix socket only)")
	watchCmd.Flags().IntVar(&watchCount, "count", 0, "exit after this many notifications (0 = unlimited)")

	rootCmd.AddCommand(watchCmd)
}
