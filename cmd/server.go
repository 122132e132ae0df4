package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goosewin/glot/internal/config"
	"github.com/goosewin/glot/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	serverHost  string
	serverPort  int
	serverToken string
	serverOpen  bool
	serverFlags pipelineFlags
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the HTTP translation server",
	Args:  cobra.NoArgs,
	RunE:  runServer,
}

func init() {
	serverCmd.Flags().StringVarP(&serverHost, "host", "H", "", "Host/IP to bind to (default 127.0.0.1)")
	serverCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "Port number (default 8080)")
	serverCmd.Flags().StringVarP(&serverToken, "token", "t", "", "Authentication token")
	serverCmd.Flags().BoolVar(&serverOpen, "open", envBoolOrDefault("GLOT_SERVER_OPEN", false), "Disable token requirement (use with caution)")
	serverFlags.register(serverCmd)

	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	host := strings.TrimSpace(serverHost)
	if host == "" {
		host = config.GetString("server.host", "127.0.0.1")
	}
	port := serverPort
	if port == 0 {
		configured, err := config.GetInt("server.port", 8080)
		if err != nil {
			return err
		}
		port = configured
	}
	token := serverToken
	if token == "" {
		token = config.GetString("server.token", "")
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port number: %d", port)
	}
	if !isLocalhost(host) && token == "" && !serverOpen {
		return errors.New("token required when binding to non-localhost address (use --token or --open)")
	}
	if !isLocalhost(host) && serverOpen && token == "" {
		fmt.Fprintln(os.Stderr, "Warning: server exposed without authentication (--open flag used)")
		fmt.Fprintln(os.Stderr, "Anyone with network access can spend your backend quota!")
	}

	eng, err := newEngine(serverFlags)
	if err != nil {
		return err
	}
	defer eng.Close()

	printServerInfo(host, port, token)

	return server.StartServer(cmd.Context(), server.Options{
		Host:          host,
		Port:          port,
		Token:         token,
		Open:          serverOpen,
		Translator:    eng.pipeline,
		Gatherer:      prometheus.DefaultGatherer,
		HasCredential: hasCredential,
		Logger:        logger,
	})
}

func printServerInfo(host string, port int, token string) {
	fmt.Printf("Starting glot server on %s:%d...\n", host, port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /              - Service banner")
	fmt.Println("  GET  /healthz       - Health check")
	fmt.Println("  GET  /v1/backends   - List backends")
	fmt.Println("  POST /v1/translate  - Translate {\"language\", \"text\"}")
	fmt.Println("  GET  /metrics       - Prometheus metrics")
	if strings.TrimSpace(token) != "" {
		fmt.Println("Authentication: Bearer token required")
	} else {
		fmt.Println("Authentication: None (use --token to enable)")
	}
	fmt.Println("")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println("")
}

func isLocalhost(host string) bool {
	switch host {
	case "127.0.0.1", "localhost", "::1":
		return true
	default:
		return false
	}
}

func envBoolOrDefault(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if value == "" {
		return fallback
	}
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
