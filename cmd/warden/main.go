package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/warden/pkg/config"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/metrics"
	"github.com/cuemby/warden/pkg/security"
	"github.com/cuemby/warden/pkg/server"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden - Agent enrollment daemon",
	Long: `Warden is the enrollment daemon of the agent-management platform.
It accepts mutually-authenticated TLS connections from prospective agents,
validates enrollment requests, mints agent keys and keeps the on-disk
keystore and the agents database in sync.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Warden version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "Path to configuration file")
	serveCmd.Flags().IntP("port", "p", 0, "Enrollment port (overrides config)")
	serveCmd.Flags().String("cert", "", "Path to server certificate")
	serveCmd.Flags().String("key", "", "Path to server key")
	serveCmd.Flags().StringP("ca", "v", "", "Path to CA certificate used to verify clients")
	serveCmd.Flags().BoolP("verify-host", "s", false, "Enable source host verification (with --ca)")
	serveCmd.Flags().BoolP("use-password", "P", false, "Enable shared password authentication")
	serveCmd.Flags().Bool("worker", false, "Run as a cluster worker node")
	serveCmd.Flags().BoolP("test-config", "t", false, "Test configuration and exit")
	serveCmd.Flags().String("data-dir", "", "Data directory")
	serveCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	serveCmd.Flags().Bool("log-json", false, "Log in JSON format")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the enrollment daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		if testConfig, _ := cmd.Flags().GetBool("test-config"); testConfig {
			fmt.Println("Configuration OK")
			return nil
		}

		if err := cfg.Validate(); err != nil {
			// Self-sign on the fly when remote enrollment is wanted but
			// no certificate material was provisioned yet.
			if cfg.RemoteEnrollment && cfg.ServerCert == "" {
				if err := bootstrapCert(cfg); err != nil {
					return err
				}
				err = cfg.Validate()
			}
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})
		metrics.Register()

		svc, err := server.New(cfg)
		if err != nil {
			return err
		}

		log.Logger.Info().Int("pid", os.Getpid()).Msg("Started")

		if cfg.MetricsAddr != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
					log.Errorf("metrics listener failed", err)
				}
			}()
		}

		// Debug subscriber for enrollment lifecycle events
		sub := svc.Broker().Subscribe()
		go func() {
			for ev := range sub {
				log.Logger.Debug().
					Str("event", string(ev.Type)).
					Str("agent_id", ev.AgentID).
					Str("agent", ev.AgentName).
					Msg("event")
			}
		}()

		svc.Start()

		// Only the main goroutine observes termination signals
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Logger.Info().Str("signal", sig.String()).Msg("Signal received. Exiting")

		svc.Shutdown()
		return nil
	},
}

// loadConfig reads the config file (when given) and applies flag
// overrides the way the daemon's command line always has.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Port = port
	}
	if cert, _ := cmd.Flags().GetString("cert"); cert != "" {
		cfg.ServerCert = cert
	}
	if key, _ := cmd.Flags().GetString("key"); key != "" {
		cfg.ServerKey = key
	}
	if ca, _ := cmd.Flags().GetString("ca"); ca != "" {
		cfg.AgentCA = ca
	}
	if ok, _ := cmd.Flags().GetBool("verify-host"); ok {
		cfg.VerifyHost = true
	}
	if ok, _ := cmd.Flags().GetBool("use-password"); ok {
		cfg.UsePassword = true
	}
	if ok, _ := cmd.Flags().GetBool("worker"); ok {
		cfg.WorkerNode = true
		cfg.SingleNode = false
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if ok, _ := cmd.Flags().GetBool("log-json"); ok {
		cfg.LogJSON = true
	}

	return cfg, nil
}

// bootstrapCert generates and stores a self-signed server certificate
func bootstrapCert(cfg *config.Config) error {
	certPath := cfg.DataDir + "/server.crt"
	keyPath := cfg.DataDir + "/server.key"

	if !security.CertExists(certPath, keyPath) {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "localhost"
		}
		cert, err := security.GenerateSelfSigned(hostname, []string{hostname, "localhost", "127.0.0.1"})
		if err != nil {
			return err
		}
		if err := security.SaveCertToFile(cert, certPath, keyPath); err != nil {
			return err
		}
	}

	cfg.ServerCert = certPath
	cfg.ServerKey = keyPath
	return nil
}
