package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/funahara/lwm2mcore"
	"github.com/funahara/lwm2mcore/pkg/log"
	"github.com/funahara/lwm2mcore/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	metricsAddr string
	logLevel    string
	logJSON     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lwm2mclient",
	Short: "lwm2mclient is a standalone OMA LwM2M device client",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to client config JSON")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd, registerCmd, bootstrapCmd, initConfigCmd)
}

func initLogging() {
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config PATH",
	Short: "write a default client config to PATH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := lwm2m.DefaultConfig("./state")
		return lwm2m.SaveConfig(args[0], cfg)
	},
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "run the bootstrap sequence against the configured bootstrap server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := lwm2m.LoadConfig(configPath)
		if err != nil {
			return err
		}
		reg := defaultRegistry(cfg)
		client := lwm2m.NewClient(cfg, reg)
		return runBootstrap(client, cfg)
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "register once against the configured device management server and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := lwm2m.LoadConfig(configPath)
		if err != nil {
			return err
		}
		reg := defaultRegistry(cfg)
		client := lwm2m.NewClient(cfg, reg)
		conn, err := dialServer(cfg)
		if err != nil {
			return err
		}
		defer conn.Close()
		return pumpUntilRegistered(client, conn)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "register and run the client event loop until terminated",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := lwm2m.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if metricsAddr != "" {
			cfg.MetricsAddr = metricsAddr
		}
		return runServe(cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve /metrics on, e.g. :9100")
}

func defaultRegistry(cfg *lwm2m.ClientConfig) *lwm2m.Registry {
	reg := lwm2m.NewRegistry()
	reg.Register(lwm2m.NewSecurityObject(cfg.DMServerURI, false, cfg.ShortServerID, []byte(cfg.Identity), []byte(cfg.SecretKey)))
	reg.Register(lwm2m.NewServerObject(cfg.ShortServerID, cfg.Lifetime))
	reg.Register(lwm2m.NewDeviceObject("funahara", "lwm2mcore", cfg.EndpointClientName, "1.0", func() error {
		log.Logger.Warn().Msg("reboot requested; exiting process")
		go func() { time.Sleep(200 * time.Millisecond); os.Exit(0) }()
		return nil
	}))
	reg.Register(lwm2m.NewIPSOSensorObject(lwm2m.OIDIPSOTemperature, "Cel", 20.0))
	return reg
}

// dialServer opens the transport to the device management server. DTLS is
// out of scope for the core (it treats the secure channel as opaque, per
// the Security Object's credentials describing but not establishing it);
// a coaps:// URI here is the host's cue to substitute a net.Conn that
// wraps a DTLS library before handing it to Client.Step.
func dialServer(cfg *lwm2m.ClientConfig) (net.Conn, error) {
	target := cfg.DMServerURI
	if target == "" {
		target = cfg.BootstrapServer
	}
	return net.Dial("udp", stripScheme(target))
}

func stripScheme(uri string) string {
	for _, prefix := range []string{"coaps://", "coap://"} {
		if len(uri) > len(prefix) && uri[:len(prefix)] == prefix {
			return uri[len(prefix):]
		}
	}
	return uri
}

func pumpUntilRegistered(client *lwm2m.Client, conn net.Conn) error {
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	var inbound []byte
	for i := 0; i < 50; i++ {
		now := time.Now()
		outbound := client.Step(now, inbound)
		inbound = nil
		for _, frame := range outbound {
			if len(frame) == 0 {
				continue
			}
			if _, err := conn.Write(frame); err != nil {
				return err
			}
		}
		buf := make([]byte, 2048)
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, err := conn.Read(buf)
		if err == nil {
			inbound = buf[:n]
			return nil
		}
	}
	return fmt.Errorf("registration did not complete")
}

func runBootstrap(client *lwm2m.Client, cfg *lwm2m.ClientConfig) error {
	host := stripScheme(cfg.BootstrapServer)
	conn, err := net.Dial("udp", host)
	if err != nil {
		return err
	}
	defer conn.Close()
	req := lwm2m.BuildBootstrapRequest([]byte{1, 2, 3, 4}, 1, cfg.EndpointClientName)
	if _, err := conn.Write(req.Encode()); err != nil {
		return err
	}
	log.Logger.Info().Str("endpoint", cfg.EndpointClientName).Msg("bootstrap request sent")
	return nil
}

func runServe(cfg *lwm2m.ClientConfig) error {
	reg := defaultRegistry(cfg)
	client := lwm2m.NewClient(cfg, reg)

	if state, err := os.ReadFile(cfg.StatePath()); err == nil {
		if err := client.Restore(state); err != nil {
			log.Logger.Warn().Err(err).Msg("discarding unreadable persisted state")
		}
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, metricsMux()); err != nil {
				log.Logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	conn, err := dialServer(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	readCh := make(chan []byte, 8)
	go func() {
		for {
			buf := make([]byte, 2048)
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			readCh <- buf[:n]
		}
	}()

	ticker := time.NewTicker(time.Duration(cfg.ObserveIntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		var inbound []byte
		select {
		case <-sigCh:
			if frame := client.Deregister(); frame != nil {
				conn.Write(frame)
			}
			if data := client.Persist(); data != nil {
				os.WriteFile(cfg.StatePath(), data, 0o644)
			}
			return nil
		case inbound = <-readCh:
		case <-ticker.C:
		}
		for _, frame := range client.Step(time.Now(), inbound) {
			if len(frame) == 0 {
				continue
			}
			metrics.MessagesSent.WithLabelValues([]string{"con", "non", "ack", "rst"}[(frame[0]>>4)&0x03]).Inc()
			if _, err := conn.Write(frame); err != nil {
				log.Logger.Error().Err(err).Msg("write failed")
			}
		}
	}
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
