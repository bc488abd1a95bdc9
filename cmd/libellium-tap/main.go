// Libellium Tap CLI Tool
// Diagnostic command-line access to the live decode event feed and the
// loaded sensor descriptor table.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agsys-edge/libellium-ingest/internal/eventbus"
	"github.com/agsys-edge/libellium-ingest/internal/registry"
)

var (
	eventBusAddr   string
	descriptorFile string

	rootCmd = &cobra.Command{
		Use:   "libellium-tap",
		Short: "Libellium ingest diagnostics",
		Long:  "Diagnostic tool for the Libellium edge ingest daemon: tails the live decode event feed and inspects the loaded sensor descriptor table.",
	}

	tapCmd = &cobra.Command{
		Use:   "tap",
		Short: "Tail the live decode event feed",
		RunE:  runTap,
	}

	sensorsCmd = &cobra.Command{
		Use:   "sensors",
		Short: "List the loaded sensor descriptor table",
		RunE:  runSensors,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&eventBusAddr, "address", "a", "tcp://127.0.0.1:5556", "Event bus address to dial")
	sensorsCmd.Flags().StringVarP(&descriptorFile, "descriptor-file", "f", "configs/sensors.yaml", "Sensor descriptor YAML file")

	rootCmd.AddCommand(tapCmd)
	rootCmd.AddCommand(sensorsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runTap(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	sub, err := eventbus.Dial(ctx, eventBusAddr)
	if err != nil {
		return fmt.Errorf("failed to dial event bus at %s: %w", eventBusAddr, err)
	}
	defer sub.Close()

	fmt.Printf("tapping %s (ctrl-c to stop)\n", eventBusAddr)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tCONN\tMOTE\tSEQ\tSENSORS\tSTATUS")

	for {
		ev, err := sub.Next()
		if err != nil {
			select {
			case <-ctx.Done():
				w.Flush()
				return nil
			default:
				return fmt.Errorf("tap: %w", err)
			}
		}

		status := "ok"
		if ev.FatalError != "" {
			status = "FATAL: " + ev.FatalError
		} else if ev.SoftError != "" {
			status = "soft: " + ev.SoftError
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			ev.At.Format("15:04:05.000"), shortConnID(ev.ConnectionID), ev.MoteID, ev.Sequence, ev.SensorCount, status)
		w.Flush()
	}
}

func runSensors(cmd *cobra.Command, args []string) error {
	reg, err := registry.Load(descriptorFile)
	if err != nil {
		return fmt.Errorf("failed to load descriptor file: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tASCII\tNAME\tTYPE\tCOUNT\tWIDTH\tUNIT")
	fmt.Fprintln(w, "--\t-----\t----\t----\t-----\t-----\t----")

	for _, d := range reg.All() {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%s\n",
			d.BinaryID, d.AsciiID, d.Name, d.FieldType, d.FieldCount, d.FieldWidth, d.Unit)
	}
	w.Flush()

	fmt.Printf("\n%d sensor descriptor(s) loaded from %s\n", reg.Len(), descriptorFile)
	return nil
}

func shortConnID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
