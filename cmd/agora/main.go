package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Tyrowin/agora/internal/auth"
	"github.com/Tyrowin/agora/internal/logger"
	"github.com/Tyrowin/agora/internal/server"
)

const (
	keyConfig             = "config"
	keyLogLevel           = "log-level"
	keyLogFormat          = "log-format"
	keyJWTSecret          = "jwt-secret"
	keyRequiredPermission = "required-permission"
)

func main() {
	if err := newCommand(viper.New()).Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "agora",
		Short:        "Topic-based publish/subscribe over WebSocket",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			if path := v.GetString(keyConfig); path != "" {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("reading config %q: %w", path, err)
				}
			}
			return run(v)
		},
	}

	v.SetEnvPrefix("AGORA")
	v.AutomaticEnv()
	// This normalizes "-" to an underscore in env names.
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	def := server.NewConfig()
	flags := cmd.Flags()
	flags.String(keyConfig, "", "path to a config file (yaml, toml or json)")
	flags.String(keyLogLevel, "info", "log level: debug, info, warn or error")
	flags.String(keyLogFormat, "console", "log format: console or json")
	flags.String(keyJWTSecret, "", "HMAC secret enabling bearer-token checks on new connections")
	flags.String(keyRequiredPermission, "", "permission a token's role must grant to connect")
	flags.String(server.KeyHost, def.Host, "address to bind")
	flags.Int(server.KeyPort, def.Port, "port to listen on")
	flags.String(server.KeyPath, def.Path, "WebSocket endpoint path")
	flags.Int(server.KeyTopicCapacity, def.TopicCapacity, "messages retained per topic for slow subscribers")
	flags.Int(server.KeyOutboundQueueSize, def.OutboundQueueSize, "per-connection outbound queue size")
	flags.Int64(server.KeyMaxMessageSize, def.MaxMessageSize, "maximum inbound frame size in bytes")
	flags.StringSlice(server.KeyAllowedOrigins, def.AllowedOrigins, "allowed browser origins, or * for any")
	flags.Int(server.KeyRateLimitBurst, def.RateLimit.Burst, "inbound frames allowed in a burst")
	flags.Duration(server.KeyRateLimitRefillInterval, def.RateLimit.RefillInterval, "time to refill a full burst of inbound tokens")
	flags.Duration(server.KeyShutdownTimeout, def.ShutdownTimeout, "grace period for open connections on shutdown")

	flags.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil {
			panic(err)
		}
	})

	return cmd
}

func run(v *viper.Viper) error {
	logCfg := logger.NewConfig()
	logCfg.Format = v.GetString(keyLogFormat)
	lvl, err := logger.ParseLevel(v.GetString(keyLogLevel))
	if err != nil {
		return err
	}
	logCfg.Level = lvl

	log, err := logger.New(os.Stdout, logCfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	cfg := server.NewConfigFromViper(v).Sanitize()

	opts := []server.Option{server.WithLogger(log)}
	if secret := v.GetString(keyJWTSecret); secret != "" {
		opts = append(opts, server.WithAuthenticator(
			auth.NewJWTAuthenticator(secret, auth.DefaultRoles(), v.GetString(keyRequiredPermission))))
		log.Info("Bearer-token identity check enabled",
			zap.String("required_permission", v.GetString(keyRequiredPermission)))
	}

	hub := server.NewHub(cfg, opts...)
	go hub.Run()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(hub.PrometheusCollectors()...)

	httpServer := server.CreateServer(cfg.Addr(), server.SetupRoutes(hub, reg))
	log.Info("Starting Agora server",
		zap.String("addr", cfg.Addr()),
		zap.String("path", cfg.Path),
		zap.Int("topic_capacity", cfg.TopicCapacity))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer, log)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	var serveErr error
	select {
	case s := <-sig:
		log.Info("Received signal", zap.Stringer("signal", s))
	case serveErr = <-errCh:
		if serveErr != nil {
			log.Error("Server stopped", zap.Error(serveErr))
		}
	}

	return multierr.Combine(
		serveErr,
		server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log),
		hub.Shutdown(cfg.ShutdownTimeout),
	)
}
