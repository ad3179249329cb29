package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/globalfifo/cmd/globalfifo/internal/config"
	"github.com/haivivi/globalfifo/pkg/chardev"
	"github.com/haivivi/globalfifo/pkg/fifo"
)

var (
	serveListen   string
	servePath     string
	serveDevices  int
	serveCapacity int
)

// serveReady, when set, is called with the bound address once the listener
// is up.
var serveReady func(addr string)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon",
	Long: `Create the devices and serve them over WebSocket until interrupted.

Settings come from server.yaml in the selected context; flags override it.

With the global --socket flag (or socket in server.yaml) the devices are
also served on that unix socket. Clients on the socket may have SIGIO raised
on their own process (watch --signal); TCP clients only get event frames.

Examples:
  globalfifo serve
  globalfifo serve --listen :7880 --devices 4 --capacity 1024
  globalfifo serve --socket /tmp/globalfifo.sock
  globalfifo -c lab serve`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := serverConfig(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func serverConfig(cmd *cobra.Command) (*config.ServerConfig, error) {
	dir, err := contextDir()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadServer(dir)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen = serveListen
	}
	if flags.Changed("path") {
		cfg.Path = servePath
	}
	if flags.Changed("devices") {
		cfg.Devices = serveDevices
	}
	if flags.Changed("capacity") {
		cfg.Capacity = serveCapacity
	}
	if serverSocket != "" {
		cfg.Socket = serverSocket
	}
	if cfg.Devices <= 0 || cfg.Capacity <= 0 {
		return nil, fmt.Errorf("devices and capacity must be positive (got %d, %d)", cfg.Devices, cfg.Capacity)
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.ServerConfig) error {
	logger := slog.Default()
	reg := fifo.New(fifo.Options{
		Devices:  cfg.Devices,
		Capacity: cfg.Capacity,
		Logger:   logger,
	})
	defer reg.Close()

	devSrv := &chardev.Server{
		Registry:    reg,
		Logger:      logger,
		AllowSignal: cfg.Socket != "",
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, devSrv)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}
	listeners := []net.Listener{ln}
	if cfg.Socket != "" {
		uln, err := listenUnix(cfg.Socket)
		if err != nil {
			ln.Close()
			return err
		}
		listeners = append(listeners, uln)
	}
	httpSrv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, len(listeners))
	for _, l := range listeners {
		go func() {
			errc <- httpSrv.Serve(l)
		}()
	}
	logger.Info("globalfifo: serving",
		"addr", ln.Addr().String(),
		"socket", cfg.Socket,
		"path", cfg.Path,
		"devices", cfg.Devices,
		"capacity", cfg.Capacity)
	if serveReady != nil {
		serveReady(ln.Addr().String())
	}

	select {
	case <-ctx.Done():
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}

	logger.Info("globalfifo: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	devSrv.Close()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// listenUnix listens on path, replacing a socket left by an earlier run.
func listenUnix(path string) (net.Listener, error) {
	if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	return ln, nil
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", config.DefaultListen, "listen address")
	serveCmd.Flags().StringVar(&servePath, "path", config.DefaultPath, "WebSocket endpoint path")
	serveCmd.Flags().IntVar(&serveDevices, "devices", config.DefaultDevices, "number of devices")
	serveCmd.Flags().IntVar(&serveCapacity, "capacity", config.DefaultCapacity, "buffer capacity per device in bytes")

	rootCmd.AddCommand(serveCmd)
}
