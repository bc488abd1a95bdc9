// Libellium Ingest Daemon
// Main entry point for the edge ingest service.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agsys-edge/libellium-ingest/internal/config"
	"github.com/agsys-edge/libellium-ingest/internal/dedupe"
	"github.com/agsys-edge/libellium-ingest/internal/envelope"
	"github.com/agsys-edge/libellium-ingest/internal/eventbus"
	"github.com/agsys-edge/libellium-ingest/internal/ingest"
	"github.com/agsys-edge/libellium-ingest/internal/publisher"
	"github.com/agsys-edge/libellium-ingest/internal/registry"
)

var (
	configFile string
	rootCmd    = &cobra.Command{
		Use:   "libellium-ingestd",
		Short: "Libellium edge ingest daemon",
		Long:  "Edge ingester for Waspmote/Libellium wireless sensor telemetry. Decodes binary frames over TCP and publishes them to an MQTT broker.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the ingest service",
		RunE:  runIngest,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("libellium-ingestd v0.1.0")
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/libellium-ingest/config.yaml", "Configuration file path")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	reg, err := registry.Load(cfg.DescriptorFile)
	if err != nil {
		return fmt.Errorf("failed to load sensor registry: %w", err)
	}
	log.Printf("loaded %d sensor descriptors from %s", reg.Len(), cfg.DescriptorFile)

	var dedup *dedupe.Cache
	if cfg.Dedupe.Enabled {
		dedup, err = dedupe.Open(cfg.DedupeTTLDuration())
		if err != nil {
			return fmt.Errorf("failed to open dedupe cache: %w", err)
		}
		defer dedup.Close()
	}

	var bus *eventbus.Bus
	if cfg.EventBus.Enabled {
		bus, err = eventbus.Open(cfg.EventBus.Address)
		if err != nil {
			return fmt.Errorf("failed to open event bus: %w", err)
		}
		defer bus.Close()
		log.Printf("diagnostic event bus listening on %s", cfg.EventBus.Address)
	}

	meta := envelope.Metadata{
		Descriptor:  "libellium",
		SensorName:  cfg.SensorName,
		SensorModel: cfg.SensorModel,
		Room:        cfg.Room,
		Protocol:    cfg.Protocol,
		Broker:      cfg.Broker,
		Topic:       cfg.TopicMeasurements,
	}

	newClient := func(connID string) (ingest.Publisher, error) {
		pcfg := publisher.DefaultConfig()
		pcfg.Broker = cfg.Broker
		pcfg.Port = cfg.BrokerPort
		pcfg.Topic = cfg.TopicMeasurements
		pcfg.CommandTopic = cfg.TopicCommands
		return publisher.New(pcfg, "libellium-ingest-"+connID)
	}

	srvCfg := ingest.DefaultConfig()
	srvCfg.Host = cfg.TCP.Host
	srvCfg.Port = cfg.TCP.Port
	srvCfg.BufferSize = cfg.TCP.BufferSize
	srvCfg.Backlog = cfg.TCP.Backlog
	srvCfg.ReadTimeout = cfg.ReadTimeoutDuration()

	srv := ingest.New(srvCfg, reg, meta, newClient, dedup, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Run(ctx) }()

	log.Printf("libellium-ingestd listening on %s:%d, publishing to %s:%d/%s",
		srvCfg.Host, srvCfg.Port, cfg.Broker, cfg.BrokerPort, cfg.TopicMeasurements)

	select {
	case sig := <-sigChan:
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
		srv.Shutdown()
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("ingest server stopped: %w", err)
		}
	}

	log.Println("shutdown complete")
	return nil
}
