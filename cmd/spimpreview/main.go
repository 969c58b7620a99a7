package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"spimpreview/internal/logger"
	"spimpreview/pkg/config"
	"spimpreview/pkg/engine"
	"spimpreview/pkg/preview"
	"spimpreview/pkg/visualization"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "spimpreview.yaml", "Path to the YAML configuration file")
	writeConfig := flag.Bool("write-config", false, "Write a default configuration file to -config and exit")
	spimFolder := flag.String("spim", "", "SPIM folder containing output/ and output/masks/ (overrides config)")
	psfFolder := flag.String("psf", "", "Folder containing the per-view kernels (overrides config)")
	mode := flag.String("mode", "", "Iteration type: INDEPENDENT, EFFICIENT_BAYESIAN, OPTIMIZATION_1, OPTIMIZATION_2")
	snapshots := flag.String("snapshots", "", "Directory for PNG snapshots of the preview (overrides config)")
	saveViews := flag.Bool("save-views", false, "Also save the input views of the current plane")
	delay := flag.Duration("delay", 0, "Artificial delay per iteration of the software engine")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	jsonLogs := flag.Bool("json-logs", false, "Write logs as JSON lines")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	applyOverrides(cfg, *spimFolder, *psfFolder, *mode, *snapshots, *saveViews, *logLevel, *jsonLogs)

	if cfg.Input.SPIMFolder == "" || cfg.Input.PSFFolder == "" {
		flag.Usage()
		os.Exit(1)
	}

	base := logger.FromSettings(cfg.Logging.Level, cfg.Logging.JSON)
	log := logger.Component(base, "main")

	fmt.Println("================================")
	fmt.Println("INTERACTIVE MULTI-VIEW DECONVOLUTION PREVIEW")
	fmt.Println("================================")

	eng := engine.NewFusion(logger.Component(base, "engine"), engine.FusionOptions{IterationDelay: *delay})

	layout, err := config.Discover(cfg.Input.SPIMFolder, cfg.Input.PSFFolder)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to discover dataset")
	}
	viewer, err := visualization.NewViewer(cfg.Output.SnapshotDir, layout.Volume, cfg.Output.SaveViews,
		logger.Component(base, "viewer"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create viewer")
	}

	session, err := preview.Open(cfg, eng, base, viewer)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open preview session")
	}

	fmt.Printf("Views: %d, volume %s, kernel %dx%d, mode %s\n",
		layout.Views(), layout.Volume, layout.Kernel.Width, layout.Kernel.Height, cfg.KernelMode())
	if cfg.Output.SnapshotDir != "" {
		fmt.Printf("Snapshots are written to: %s\n", cfg.Output.SnapshotDir)
	}
	fmt.Println("\nCommands: plane <n>, iter <n>, status, quit")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	commands := make(chan string)
	go readCommands(commands)

	running := true
	for running {
		select {
		case sig := <-signals:
			log.Info().Str("signal", sig.String()).Msg("stopping")
			running = false
		case line, ok := <-commands:
			running = ok && handleCommand(session, log, viewer, line)
		}
	}

	startTime := time.Now()
	session.Close()
	fmt.Printf("\nPreview closed in %.2f seconds\n", time.Since(startTime).Seconds())
	fmt.Println(session.State())
}

func applyOverrides(cfg *config.Config, spim, psf, mode, snapshots string, saveViews bool, level string, jsonLogs bool) {
	if spim != "" {
		cfg.Input.SPIMFolder = spim
	}
	if psf != "" {
		cfg.Input.PSFFolder = psf
	}
	if mode != "" {
		cfg.Preview.IterationType = mode
	}
	if snapshots != "" {
		cfg.Output.SnapshotDir = snapshots
	}
	if saveViews {
		cfg.Output.SaveViews = true
	}
	if level != "" {
		cfg.Logging.Level = level
	}
	if jsonLogs {
		cfg.Logging.JSON = true
	}
}

func readCommands(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- strings.TrimSpace(scanner.Text())
	}
}

// handleCommand runs one console command and reports whether to keep going
func handleCommand(session *preview.Session, log zerolog.Logger, viewer *visualization.Viewer, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}

	switch fields[0] {
	case "quit", "exit", "q":
		return false

	case "status", "s":
		fmt.Println(session.State())
		if viewer.Shown() > 0 {
			summary := viewer.LastSummary()
			fmt.Printf("Result: min %.0f, max %.0f, mean %.1f, std dev %.1f\n",
				summary.Min, summary.Max, summary.Mean, summary.StdDev)
		}

	case "plane", "p", "iter", "i":
		if len(fields) != 2 {
			fmt.Printf("Usage: %s <n>\n", fields[0])
			return true
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			fmt.Printf("Not a number: %s\n", fields[1])
			return true
		}
		if fields[0] == "plane" || fields[0] == "p" {
			_, err = session.SetPlane(n)
		} else {
			_, err = session.SetIterations(n)
		}
		if err != nil {
			log.Error().Err(err).Msg("request rejected")
		}

	default:
		fmt.Printf("Unknown command: %s\n", fields[0])
	}
	return true
}
