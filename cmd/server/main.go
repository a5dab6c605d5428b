package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/medovanx/chatter-wave/pkg/logging"
	"github.com/medovanx/chatter-wave/pkg/server"
)

func main() {
	cfg := server.DefaultConfig()

	flag.StringVar(&cfg.Host, "host", cfg.Host, "Bind address for both transports")
	flag.IntVar(&cfg.StreamPort, "tcp-port", cfg.StreamPort, "TCP stream chat port")
	flag.IntVar(&cfg.DatagramPort, "udp-port", cfg.DatagramPort, "UDP datagram chat port")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for /metrics and /status (empty to disable)")
	flag.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Evict datagram clients idle this long (0 = never)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")
	configPath := flag.String("config", "", "YAML config file; explicit flags take precedence")
	flag.Parse()

	if *configPath != "" {
		fileCfg, err := server.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid config file: %v\n", err)
			os.Exit(1)
		}
		// Flags set on the command line win over file values.
		flagCfg := cfg
		cfg = fileCfg
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "host":
				cfg.Host = flagCfg.Host
			case "tcp-port":
				cfg.StreamPort = flagCfg.StreamPort
			case "udp-port":
				cfg.DatagramPort = flagCfg.DatagramPort
			case "metrics":
				cfg.MetricsAddr = flagCfg.MetricsAddr
			case "idle-timeout":
				cfg.IdleTimeout = flagCfg.IdleTimeout
			case "log-level":
				cfg.LogLevel = flagCfg.LogLevel
			case "log-format":
				cfg.LogFormat = flagCfg.LogFormat
			}
		})
	}

	if err := logging.Setup(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	srv := server.New(cfg)
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
