// Command vmkerneld boots the VM subsystem: parses flags, loads
// configuration, wires the swap device and frame pool, serves
// Prometheus metrics, and (with -demo) runs the end-to-end scenarios
// spec.md §8 describes against simulated files. Grounded on
// talyz-systemd_exporter's and
// other_examples/manifests/lesovsky-pgscv's main.go shape: parse flags,
// build the collector/registry, serve.
package main

import (
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"vmkern/internal/blockdev"
	"vmkern/internal/config"
	"vmkern/internal/metrics"
	"vmkern/internal/vmlog"
	"vmkern/internal/vmsystem"
)

var (
	configPath = kingpin.Flag("config", "Path to a YAML configuration file.").String()
	swapPath   = kingpin.Flag("swap.path", "Path to the file backing the swap device.").String()
	framePool  = kingpin.Flag("frames.capacity", "Number of frames in the user frame pool.").Int()
	listenAddr = kingpin.Flag("web.listen-address", "Address to serve /metrics on.").String()
	demo       = kingpin.Flag("demo", "Run the built-in end-to-end demo scenarios and exit.").Bool()
	logLevel   = kingpin.Flag("log.level", "Logging level: debug, info, warn, error.").Default("info").String()
)

func main() {
	kingpin.Version("vmkerneld (vmkern virtual memory subsystem)")
	kingpin.Parse()

	if lvl, err := zerolog.ParseLevel(*logLevel); err == nil {
		vmlog.SetLevel(lvl)
	}
	log := vmlog.For("main")

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Error().Err(err).Msg("failed to load config, using defaults")
		} else {
			cfg = loaded
		}
	}
	if *swapPath != "" {
		cfg.SwapDevicePath = *swapPath
	}
	if *framePool != 0 {
		cfg.FramePoolCapacity = *framePool
	}
	if *listenAddr != "" {
		cfg.MetricsListenAddr = *listenAddr
	}

	reg := prometheus.NewRegistry()
	metricsReg := metrics.NewRegistry(reg)

	dev, err := blockdev.OpenFileDevice(cfg.SwapDevicePath, cfg.SwapSectorSize, cfg.SwapSectorCount)
	if err != nil {
		log.Error().Err(err).Msg("failed to open swap device")
		os.Exit(1)
	}
	defer dev.Close()

	sys := vmsystem.New(cfg.FramePoolCapacity, dev, metricsReg)
	log.Info().Int("frame_pool_capacity", cfg.FramePoolCapacity).
		Int64("swap_slots", sys.Swap.SlotCount()).
		Msg("vm subsystem initialized")

	if *demo {
		runDemo(sys, log)
		return
	}

	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Info().Str("addr", cfg.MetricsListenAddr).Msg("serving metrics")
	if err := http.ListenAndServe(cfg.MetricsListenAddr, nil); err != nil {
		log.Error().Err(err).Msg("metrics server exited")
		os.Exit(1)
	}
}
