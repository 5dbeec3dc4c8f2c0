// Command benchmark drives a simulator against a capture node and
// reports the fraction of simulated messages actually captured, per
// spec.md §6/§7's benchmark harness CLI surface: rate, duration,
// output-dir, latency, verify, help, plus an optional -config for the
// simulator's symbol count, burst size, and price band.
//
// It exits 0 when the observed capture rate is at least 99%, and 1
// otherwise, so it can gate a CI job the way a load test would.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/codewanderer/tickcapture/internal/config"
	"github.com/codewanderer/tickcapture/internal/simulator"
	"github.com/codewanderer/tickcapture/internal/storage"
	"github.com/codewanderer/tickcapture/internal/supervisor"
)

const passThreshold = 0.99

func main() {
	rate := flag.Int("rate", 1000, "simulated messages per second")
	duration := flag.Duration("duration", 10*time.Second, "how long to run the benchmark")
	outputDir := flag.String("output-dir", "./bench-data", "directory the capture node writes tick files to")
	latency := flag.Bool("latency", false, "report end-to-end receive latency, measured from each record's send timestamp")
	verify := flag.Bool("verify", false, "verify every captured record's checksum before counting it")
	configPath := flag.String("config", "", "optional YAML file supplying the simulator's symbol count, burst size, and price band (see the simulator: section)")
	help := flag.Bool("help", false, "show usage")
	flag.Parse()

	if *help {
		flag.Usage()
		return
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	multicastAddr := "239.255.77.77"
	port := 34567

	nodeCfg := supervisor.DefaultConfig()
	nodeCfg.Network.MulticastAddr = multicastAddr
	nodeCfg.Network.Port = port
	nodeCfg.Network.EnableTimestamps = *latency
	nodeCfg.Storage = storage.Config{BaseDir: *outputDir, BatchSize: 32, VerifyChecksums: *verify}
	nodeCfg.ReportInterval = time.Second

	node, err := supervisor.New(nodeCfg, logger, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build capture node: %v\n", err)
		os.Exit(1)
	}
	if err := node.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start capture node: %v\n", err)
		os.Exit(1)
	}
	defer node.Stop()

	// Give the receiver's multicast join a moment to settle before the
	// simulator starts sending, or the first burst of datagrams can be
	// lost to an interface that hasn't finished joining the group yet.
	time.Sleep(100 * time.Millisecond)

	simCfg := simulator.DefaultConfig()
	simCfg.MulticastAddr = multicastAddr
	simCfg.Port = port
	simCfg.BaseMsgRate = *rate

	if *configPath != "" {
		applySimulatorConfig(&simCfg, *configPath, logger)
	}

	sim, err := simulator.New(simCfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build simulator: %v\n", err)
		os.Exit(1)
	}
	if err := sim.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start simulator: %v\n", err)
		os.Exit(1)
	}

	start := time.Now()
	time.Sleep(*duration)
	sim.Stop()
	elapsed := time.Since(start)

	// Let the writer finish draining what the simulator already sent.
	time.Sleep(250 * time.Millisecond)

	simStats := sim.Stats()
	nodeStats := node.Stats()

	var capturedRate float64
	if simStats.MessagesSent > 0 {
		capturedRate = float64(nodeStats.MessagesStored) / float64(simStats.MessagesSent)
	}

	fmt.Printf("=== Benchmark Report ===\n")
	fmt.Printf("Duration:          %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Requested rate:    %d msg/s\n", *rate)
	fmt.Printf("Messages sent:     %d\n", simStats.MessagesSent)
	fmt.Printf("Messages dropped (sim): %d\n", simStats.MessagesDropped)
	fmt.Printf("Messages received: %d\n", nodeStats.MessagesReceived)
	fmt.Printf("Messages stored:   %d\n", nodeStats.MessagesStored)
	fmt.Printf("Ring drops:        %d\n", nodeStats.MessagesDropped)
	fmt.Printf("Checksum errors:   %d\n", nodeStats.ChecksumErrors)
	fmt.Printf("Capture rate:      %.4f%%\n", capturedRate*100)

	if *latency {
		fmt.Printf("Avg receive latency: %.1f us\n", nodeStats.AvgLatencyNs/1000)
	}

	if capturedRate < passThreshold || math.IsNaN(capturedRate) {
		fmt.Printf("FAIL: capture rate below %.0f%% threshold\n", passThreshold*100)
		os.Exit(1)
	}
	fmt.Println("PASS")
}

// applySimulatorConfig reads the simulator: section of a YAML
// configuration file and overlays it onto simCfg's symbol count, burst
// size, and price band. It parses the file directly rather than going
// through config.Load, since that loader validates deployment fields
// (storage.output_dir, ring.size, ...) this benchmark harness has its
// own flags for and has no need of. The -rate flag still wins over a
// configured base_msg_rate, since an explicit flag should never be
// silently shadowed by a config file.
func applySimulatorConfig(simCfg *simulator.Config, path string, logger *logrus.Logger) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.WithError(err).Fatal("failed to read simulator configuration")
	}

	var cfg config.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		logger.WithError(err).Fatal("failed to parse simulator configuration")
	}

	sim := cfg.Simulator
	if sim.NumSymbols > 0 {
		simCfg.NumSymbols = sim.NumSymbols
	}
	if sim.BurstSize > 0 {
		simCfg.BurstSize = sim.BurstSize
	}
	if !sim.PriceVolatility.IsZero() {
		simCfg.PriceVolatility = sim.PriceVolatility.InexactFloat64()
	}
	if !sim.MinPrice.IsZero() {
		simCfg.MinPrice = sim.MinPrice.InexactFloat64()
	}
	if !sim.MaxPrice.IsZero() {
		simCfg.MaxPrice = sim.MaxPrice.InexactFloat64()
	}
}
