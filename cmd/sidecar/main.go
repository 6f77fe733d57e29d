package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/qemuweb/sidecar/pkg/server"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

const banner = `
  ╔═══════════════════════════════════════════╗
  ║  QemuWeb Sidecar                          ║
  ║  Frame relay for browser-hosted machines  ║
  ╚═══════════════════════════════════════════╝
`

func main() {
	var (
		maxClients int
		bufferSize int
		logLevel   string
	)

	rootCmd := &cobra.Command{
		Use:   "sidecar [address]",
		Short: "WebSocket frame-relay server for browser-hosted machines",
		Long: `The sidecar is a companion process for browser-hosted virtual machines.

It relays rendered video frames between browser clients and native/host
resources over a persistent WebSocket connection, converting between
uncompressed pixel formats as negotiated per client.

The optional address argument overrides the default bind address
(` + server.DefaultAddr + `); an unparsable address falls back to the default.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(logLevel)

			addr := server.DefaultAddr
			if len(args) > 0 {
				addr = parseAddr(args[0])
			}

			fmt.Print(banner)

			srv := server.New(&server.Config{
				Addr:            addr,
				MaxClients:      maxClients,
				FrameBufferSize: bufferSize,
			})
			if err := srv.Start(); err != nil {
				return err
			}
			slog.Info("server started", "url", "ws://"+srv.Addr()+"/ws")
			slog.Info("press Ctrl+C to stop")

			return srv.Wait()
		},
	}

	rootCmd.Flags().IntVar(&maxClients, "max-clients", 10, "maximum concurrent client connections")
	rootCmd.Flags().IntVar(&bufferSize, "buffer-size", 4, "per-session frame ring buffer capacity")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// parseAddr validates an address override, falling back to the default on
// parse failure.
func parseAddr(arg string) string {
	if _, _, err := net.SplitHostPort(arg); err != nil {
		slog.Warn("invalid address, using default", "address", arg, "default", server.DefaultAddr)
		return server.DefaultAddr
	}
	return arg
}

func setupLogging(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sidecar %s (%s)\n", version, commit)
		},
	}
}
