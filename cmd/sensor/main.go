// Command sensor runs the squirrelops-home residential security sensor:
// device discovery and fingerprinting, decoy and mimic deception services,
// and incident aggregation, all behind one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rocketweb/squirrelops-sensor/internal/logging"
	"github.com/rocketweb/squirrelops-sensor/internal/privileged"
	"github.com/rocketweb/squirrelops-sensor/internal/sensor"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runFlags := flag.NewFlagSet("run", flag.ExitOnError)
		dbPath := runFlags.String("db", sensor.DefaultConfig().StoragePath, "Path to the sensor's SQLite database")
		iface := runFlags.String("interface", sensor.DefaultConfig().Interface, "LAN interface to watch")
		subnet := runFlags.String("subnet", "", "LAN subnet in CIDR form, e.g. 192.168.1.0/24")
		gateway := runFlags.String("gateway", "", "Gateway IP, excluded from mimic virtual IP allocation")
		sensorIP := runFlags.String("sensor-ip", "", "This host's own IP, excluded from mimic virtual IP allocation")
		socketPath := runFlags.String("privileged-socket", privileged.DefaultSocketPath, "Unix socket for the privileged operations collaborator")
		scanInterval := runFlags.Duration("scan-interval", sensor.DefaultConfig().ScanInterval, "Discovery cycle interval")
		registryURL := runFlags.String("registry-url", "", "Base URL of an external home-automation device/area registry (optional)")
		registryToken := runFlags.String("registry-token", "", "Long-lived access token for the registry")
		verbose := runFlags.Bool("verbose", false, "Enable debug logging")
		runFlags.Parse(os.Args[2:])

		level := logging.LevelInfo
		if *verbose {
			level = logging.LevelDebug
		}
		logCfg := logging.DefaultConfig()
		logCfg.Level = level
		logging.SetDefault(logging.New(logCfg))

		cfg := sensor.DefaultConfig()
		cfg.StoragePath = *dbPath
		cfg.Interface = *iface
		cfg.SubnetCIDR = *subnet
		cfg.GatewayIP = *gateway
		cfg.SensorIP = *sensorIP
		cfg.ScanInterval = *scanInterval
		cfg.Privileged.SocketPath = *socketPath
		cfg.RegistryURL = *registryURL
		cfg.RegistryToken = *registryToken

		if err := run(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "sensor: %v\n", err)
			os.Exit(1)
		}

	case "-h", "--help", "help":
		printUsage()

	default:
		printUsage()
		os.Exit(1)
	}
}

func run(cfg sensor.Config) error {
	s, err := sensor.New(cfg)
	if err != nil {
		return fmt.Errorf("build sensor: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("start sensor: %w", err)
	}

	<-ctx.Done()
	logging.Info("shutdown signal received, stopping sensor", "grace_period", cfg.ShutdownGrace.String())

	shutdownDeadline := time.AfterFunc(cfg.ShutdownGrace+time.Second, func() {
		logging.Warn("sensor did not stop within grace period, forcing exit")
		os.Exit(1)
	})
	defer shutdownDeadline.Stop()

	return s.Stop()
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: sensor <command> [flags]

commands:
  run      start the sensor daemon in the foreground
  help     show this message`)
}
