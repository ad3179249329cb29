package commands

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/globalfifo/pkg/chardev"
	"github.com/haivivi/globalfifo/pkg/cli"
)

var (
	ioNonblock bool
	ioTimeout  time.Duration
	readSize   int
)

// transferResult is the structured form of a read or write.
type transferResult struct {
	Device  string `json:"device" yaml:"device"`
	N       int    `json:"n" yaml:"n"`
	Data    string `json:"data,omitempty" yaml:"data,omitempty"`
	Dropped int    `json:"dropped,omitempty" yaml:"dropped,omitempty"`
}

var readCmd = &cobra.Command{
	Use:   "read <dev>",
	Short: "Read from a device",
	Long: `Read up to --size bytes from a device and write them to stdout.

Blocks until data is available unless --nonblock is given, in which case an
empty device fails with EAGAIN. --timeout interrupts a blocked read.

Examples:
  globalfifo read 0
  globalfifo read globalfifo1 --size 16 --nonblock
  globalfifo read 0 --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := parseDevice(args[0])
		if err != nil {
			return err
		}
		if readSize <= 0 {
			return fmt.Errorf("--size must be positive")
		}
		c, f, err := openDevice(cmd.Context(), dev, flagsFor(ioNonblock))
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := withTimeout(cmd.Context(), ioTimeout)
		defer cancel()
		buf := make([]byte, readSize)
		n, err := f.ReadContext(ctx, buf)
		if err != nil {
			return fmt.Errorf("read %s: %w", cli.DeviceName(dev), err)
		}

		if structured() {
			return output(transferResult{Device: cli.DeviceName(dev), N: n, Data: string(buf[:n])})
		}
		return cli.Output(buf[:n], cli.OutputOptions{Format: cli.FormatRaw, File: outputFile})
	},
}

var writeCmd = &cobra.Command{
	Use:   "write <dev> [data]",
	Short: "Write to a device",
	Long: `Write data to a device. Without data, or with "-", stdin is written.

Only what fits is stored; the rest is dropped and reported. A full device
blocks the write unless --nonblock is given.

Examples:
  globalfifo write 0 hello
  echo hello | globalfifo write 0 -
  globalfifo write 1 payload --nonblock`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := parseDevice(args[0])
		if err != nil {
			return err
		}
		var data []byte
		if len(args) == 1 || args[1] == "-" {
			if data, err = io.ReadAll(os.Stdin); err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
		} else {
			data = []byte(args[1])
		}

		c, f, err := openDevice(cmd.Context(), dev, flagsFor(ioNonblock))
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := withTimeout(cmd.Context(), ioTimeout)
		defer cancel()
		n, err := f.WriteContext(ctx, data)
		if err != nil {
			return fmt.Errorf("write %s: %w", cli.DeviceName(dev), err)
		}

		res := transferResult{Device: cli.DeviceName(dev), N: n, Dropped: len(data) - n}
		if structured() {
			return output(res)
		}
		cli.PrintSuccess("wrote %d bytes to %s", n, res.Device)
		if res.Dropped > 0 {
			cli.PrintWarning("%d bytes dropped: device full", res.Dropped)
		}
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear <dev>",
	Short: "Discard a device's contents",
	Long: `Discard everything buffered on a device (the CLEAR control command) and
wake blocked writers.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := parseDevice(args[0])
		if err != nil {
			return err
		}
		c, f, err := openDevice(cmd.Context(), dev, 0)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := f.Clear(cmd.Context()); err != nil {
			return fmt.Errorf("clear %s: %w", cli.DeviceName(dev), err)
		}
		if structured() {
			return output(map[string]any{"device": cli.DeviceName(dev), "status": "cleared"})
		}
		cli.PrintSuccess("%s cleared", cli.DeviceName(dev))
		return nil
	},
}

var statCmd = &cobra.Command{
	Use:   "stat",
	Short: "Show device counters",
	Long: `Show fill level, subscribers, pollers and transfer counters for every
device.

Examples:
  globalfifo stat
  globalfifo stat --format yaml
  globalfifo stat --jq '.[] | select(.len > 0) | .index'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		stats, err := c.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return output(cli.StatTable(stats))
	},
}

func flagsFor(nonblock bool) chardev.Flags {
	if nonblock {
		return chardev.FlagNonblock
	}
	return 0
}

func init() {
	for _, cmd := range []*cobra.Command{readCmd, writeCmd} {
		cmd.Flags().BoolVar(&ioNonblock, "nonblock", false, "fail with EAGAIN instead of blocking")
		cmd.Flags().DurationVar(&ioTimeout, "timeout", 0, "interrupt a blocked call after this long (0 waits forever)")
	}
	readCmd.Flags().IntVarP(&readSize, "size", "n", 4096, "maximum bytes to read")

	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(statCmd)
}
