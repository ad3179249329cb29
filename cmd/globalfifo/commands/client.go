package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/haivivi/globalfifo/cmd/globalfifo/internal/config"
	"github.com/haivivi/globalfifo/pkg/chardev"
	"github.com/haivivi/globalfifo/pkg/fifo"
)

// clientConfig loads client.yaml from the selected context, with --url and
// --socket taking precedence.
func clientConfig() (*config.ClientConfig, error) {
	dir, err := contextDir()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadClient(dir)
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		cfg.URL = serverURL
	}
	if serverSocket != "" {
		cfg.Socket = serverSocket
	}
	return cfg, nil
}

// dial connects to the configured server.
func dial(ctx context.Context) (*chardev.Client, error) {
	cfg, err := clientConfig()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.DialTimeout()
	if err != nil {
		return nil, err
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return chardev.DialWithOptions(dctx, cfg.URL, chardev.DialOptions{
		HandshakeTimeout: timeout,
		Socket:           cfg.Socket,
	})
}

// openDevice dials and opens one device.
func openDevice(ctx context.Context, dev int, flags chardev.Flags) (*chardev.Client, *chardev.File, error) {
	c, err := dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	f, err := c.Open(ctx, dev, flags)
	if err != nil {
		c.Close()
		return nil, nil, fmt.Errorf("open globalfifo%d: %w", dev, err)
	}
	return c, f, nil
}

// parseDevice accepts "3", "globalfifo3" or "/dev/globalfifo3".
func parseDevice(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimPrefix(s, "/dev/"), "globalfifo"))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid device %q: want an index such as 0 or globalfifo0", s)
	}
	return n, nil
}

func parseDevices(args []string) ([]int, error) {
	devs := make([]int, 0, len(args))
	for _, a := range args {
		d, err := parseDevice(a)
		if err != nil {
			return nil, err
		}
		devs = append(devs, d)
	}
	return devs, nil
}

// parseEvents accepts "in", "out", "rw" or a comma/pipe separated list.
func parseEvents(s string) (fifo.EventMask, error) {
	var m fifo.EventMask
	for _, part := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == ',' || r == '|'
	}) {
		switch strings.TrimSpace(part) {
		case "in", "pollin", "read":
			m |= fifo.EventIn
		case "out", "pollout", "write":
			m |= fifo.EventOut
		case "rw", "inout":
			m |= fifo.EventRW
		default:
			return 0, fmt.Errorf("invalid event %q: want in, out or rw", part)
		}
	}
	if m == 0 {
		return 0, fmt.Errorf("no events given")
	}
	return m, nil
}

// withTimeout bounds ctx when d > 0.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}
