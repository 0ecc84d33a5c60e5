package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"go.uber.org/zap"

	"github.com/duckgate/duckgate/internal/config"
	"github.com/duckgate/duckgate/internal/corpus"
	"github.com/duckgate/duckgate/internal/logger"
	"github.com/duckgate/duckgate/internal/privacy"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		inputFile  = flag.String("input", "", "Corpus file to scan (CSV, JSON, or Parquet)")
		batchSize  = flag.Int("batch-size", 1000, "Batch size for scanning")
		workers    = flag.Int("workers", 4, "Number of worker goroutines")
	)
	flag.Parse()

	if *inputFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s --input <file> [options]\n\nOptions:\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input prompts.csv --batch-size 500\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input prompts.parquet --workers 8\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting duckscan",
		zap.String("input", *inputFile),
		zap.Int("batch_size", *batchSize),
		zap.Int("workers", *workers),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling scan")
		cancel()
	}()

	patterns := make([]privacy.CustomPattern, 0, len(cfg.Privacy.CustomPatterns))
	for _, cp := range cfg.Privacy.CustomPatterns {
		patterns = append(patterns, privacy.CustomPattern{
			Name:        cp.Name,
			Pattern:     cp.Pattern,
			Placeholder: cp.Placeholder,
		})
	}

	detector := privacy.New(privacy.Config{
		DetectEmails:       cfg.Privacy.DetectEmails,
		DetectPhones:       cfg.Privacy.DetectPhones,
		DetectNationalIDs:  cfg.Privacy.DetectNationalIDs,
		DetectCredentials:  cfg.Privacy.DetectCredentials,
		DetectPaymentCards: cfg.Privacy.DetectPaymentCards,
		DetectIPAddresses:  cfg.Privacy.DetectIPAddresses,
		CustomPatterns:     patterns,
		Allowlist:          cfg.Privacy.Allowlist,
		AllowlistDomains:   cfg.Privacy.AllowlistDomains,
	}, log.WithComponent("privacy").Logger)

	scanner := corpus.NewScanner(detector, corpus.Config{
		BatchSize: *batchSize,
		Workers:   *workers,
	}, log.WithComponent("corpus").Logger)

	result, err := scanner.ScanFile(ctx, *inputFile)
	if err != nil {
		log.Error("Scan failed", zap.Error(err))
		os.Exit(1)
	}

	printReport(result)
}

func printReport(result *corpus.Result) {
	fmt.Printf("\nScan report\n")
	fmt.Printf("  records scanned:    %d\n", result.TotalRecords)
	fmt.Printf("  records with hits:  %d\n", result.RecordsWithHits)
	fmt.Printf("  total findings:     %d\n", result.TotalFindings)
	fmt.Printf("  duration:           %s\n", result.Duration)

	if len(result.ByCategory) == 0 {
		return
	}

	categories := make([]string, 0, len(result.ByCategory))
	for c := range result.ByCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	fmt.Printf("\n  findings by category:\n")
	for _, c := range categories {
		fmt.Printf("    %-16s %d\n", c, result.ByCategory[c])
	}
}
