package corpus

import "time"

// FileFormat identifies a supported corpus file format.
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatJSON    FileFormat = "json"
	FormatParquet FileFormat = "parquet"
	FormatUnknown FileFormat = "unknown"
)

// Record is one corpus entry. Parquet and JSON corpora carry a "text"
// column; CSV corpora name the column in their header.
type Record struct {
	Text   string `parquet:"text" json:"text"`
	Source string `parquet:"source,optional" json:"source,omitempty"`
}

// Config controls scan batching and concurrency.
type Config struct {
	BatchSize     int
	Workers       int
	ProgressEvery int64
}

// Result aggregates detection statistics over a corpus.
type Result struct {
	TotalRecords    int64
	RecordsWithHits int64
	TotalFindings   int64
	ByCategory      map[string]int64
	Duration        time.Duration
	Errors          []string
}
