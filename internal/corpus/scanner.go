package corpus

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/duckgate/duckgate/internal/privacy"
)

// Scanner evaluates the detection rule set against prompt corpora so rule
// and allowlist changes can be checked offline before they reach the
// gateway.
type Scanner struct {
	detector *privacy.Detector
	cfg      Config
	logger   *zap.Logger
}

// NewScanner creates a scanner around an existing detector.
func NewScanner(detector *privacy.Detector, cfg Config, logger *zap.Logger) *Scanner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = 10000
	}
	return &Scanner{detector: detector, cfg: cfg, logger: logger}
}

// DetectFileFormat guesses the corpus format from the file extension.
func DetectFileFormat(path string) FileFormat {
	switch {
	case strings.HasSuffix(path, ".csv"):
		return FormatCSV
	case strings.HasSuffix(path, ".json"), strings.HasSuffix(path, ".jsonl"):
		return FormatJSON
	case strings.HasSuffix(path, ".parquet"):
		return FormatParquet
	default:
		return FormatUnknown
	}
}

// ScanFile streams a corpus file through the detector with a batched worker
// pool and returns aggregate statistics. No record text appears in the
// result or the logs.
func (s *Scanner) ScanFile(ctx context.Context, path string) (*Result, error) {
	format := DetectFileFormat(path)
	s.logger.Info("Starting corpus scan",
		zap.String("file", path),
		zap.String("format", string(format)),
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.Int("workers", s.cfg.Workers),
	)

	start := time.Now()
	result := &Result{ByCategory: make(map[string]int64)}

	var err error
	switch format {
	case FormatCSV:
		err = s.scanCSV(ctx, path, result)
	case FormatJSON:
		err = s.scanJSON(ctx, path, result)
	case FormatParquet:
		err = s.scanParquet(ctx, path, result)
	default:
		return result, fmt.Errorf("unsupported corpus format: %s", path)
	}
	if err != nil {
		return result, err
	}

	result.Duration = time.Since(start)
	s.logger.Info("Corpus scan completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("records_with_hits", result.RecordsWithHits),
		zap.Int64("total_findings", result.TotalFindings),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (s *Scanner) scanCSV(ctx context.Context, path string, result *Result) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open CSV corpus: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}
	textCol := 0
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "text") {
			textCol = i
			break
		}
	}

	return s.scanBatches(ctx, result, func() ([]string, error) {
		batch := make([]string, 0, s.cfg.BatchSize)
		for len(batch) < s.cfg.BatchSize {
			row, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				s.logger.Warn("Skipping malformed CSV row", zap.Error(err))
				continue
			}
			if textCol >= len(row) {
				continue
			}
			if text := strings.TrimSpace(row[textCol]); text != "" {
				batch = append(batch, text)
			}
		}
		return batch, nil
	})
}

func (s *Scanner) scanJSON(ctx context.Context, path string, result *Result) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open JSON corpus: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)

	return s.scanBatches(ctx, result, func() ([]string, error) {
		batch := make([]string, 0, s.cfg.BatchSize)
		for len(batch) < s.cfg.BatchSize {
			var record Record
			err := decoder.Decode(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				s.logger.Warn("Skipping malformed JSON record", zap.Error(err))
				continue
			}
			if record.Text != "" {
				batch = append(batch, record.Text)
			}
		}
		return batch, nil
	})
}

func (s *Scanner) scanParquet(ctx context.Context, path string, result *Result) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open Parquet corpus: %w", err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	return s.scanBatches(ctx, result, func() ([]string, error) {
		batch := make([]string, 0, s.cfg.BatchSize)
		for len(batch) < s.cfg.BatchSize {
			var record Record
			err := reader.Read(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				s.logger.Warn("Skipping malformed Parquet record", zap.Error(err))
				continue
			}
			if record.Text != "" {
				batch = append(batch, record.Text)
			}
		}
		return batch, nil
	})
}

// scanBatches reads batches from readBatch and fans them out to workers.
func (s *Scanner) scanBatches(ctx context.Context, result *Result, readBatch func() ([]string, error)) error {
	batches := make(chan []string, s.cfg.Workers)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batches {
				local := s.scanBatch(batch)
				mu.Lock()
				mergeResults(result, local)
				mu.Unlock()
			}
		}()
	}

	var readErr error
	var queued, reported int64
	for {
		select {
		case <-ctx.Done():
			readErr = ctx.Err()
		default:
		}
		if readErr != nil {
			break
		}

		batch, err := readBatch()
		if err != nil {
			readErr = fmt.Errorf("failed to read batch: %w", err)
			break
		}
		if len(batch) == 0 {
			break
		}
		batches <- batch

		queued += int64(len(batch))
		if queued-reported >= s.cfg.ProgressEvery {
			s.logger.Info("Scan progress", zap.Int64("records_queued", queued))
			reported = queued
		}
	}

	close(batches)
	wg.Wait()
	return readErr
}

func (s *Scanner) scanBatch(batch []string) *Result {
	local := &Result{ByCategory: make(map[string]int64)}
	for _, text := range batch {
		local.TotalRecords++
		findings := s.detector.Detect(text)
		if len(findings) == 0 {
			continue
		}
		local.RecordsWithHits++
		local.TotalFindings += int64(len(findings))
		for _, f := range findings {
			local.ByCategory[string(f.Category)]++
		}
	}
	return local
}

func mergeResults(dst, src *Result) {
	dst.TotalRecords += src.TotalRecords
	dst.RecordsWithHits += src.RecordsWithHits
	dst.TotalFindings += src.TotalFindings
	for category, n := range src.ByCategory {
		dst.ByCategory[category] += n
	}
}
