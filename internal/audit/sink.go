package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/duckgate/duckgate/internal/config"
	"github.com/duckgate/duckgate/internal/guardrail"
)

// Entry is one persisted audit record. Descriptions come straight from the
// request's modification log, which by contract never contains detected
// values or substitution tables.
type Entry struct {
	ID          int64     `db:"id" json:"id"`
	RequestID   string    `db:"request_id" json:"request_id"`
	Module      string    `db:"module" json:"module"`
	Phase       string    `db:"phase" json:"phase"`
	Field       string    `db:"field" json:"field"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS guardrail_audit (
	id BIGSERIAL PRIMARY KEY,
	request_id TEXT NOT NULL,
	module TEXT NOT NULL DEFAULT '',
	phase TEXT NOT NULL,
	field TEXT NOT NULL,
	description TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_guardrail_audit_request ON guardrail_audit (request_id);
CREATE INDEX IF NOT EXISTS idx_guardrail_audit_created ON guardrail_audit (created_at);`

// Sink persists audit entries to Postgres asynchronously. Writes are
// buffered and flushed in batches so the request path never waits on the
// database; a full buffer drops entries with a warning rather than blocking.
type Sink struct {
	db     *sqlx.DB
	logger *zap.Logger

	batchSize     int
	flushInterval time.Duration

	entries chan Entry
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewSink connects to the database, bootstraps the schema, and starts the
// background writer.
func NewSink(cfg config.AuditConfig, logger *zap.Logger) (*Sink, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to audit database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}

	s := &Sink{
		db:            db,
		logger:        logger,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		entries:       make(chan Entry, batchSize*4),
		done:          make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to bootstrap audit schema: %w", err)
	}

	s.wg.Add(1)
	go s.writer()

	logger.Info("Audit sink initialized",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("batch_size", batchSize),
		zap.Duration("flush_interval", flushInterval),
	)

	return s, nil
}

// RecordRequest queues every modification of a finished request.
func (s *Sink) RecordRequest(req *guardrail.Context, module string) {
	now := time.Now()
	for _, m := range req.Modifications {
		s.record(Entry{
			RequestID:   req.RequestID,
			Module:      module,
			Phase:       string(m.Phase),
			Field:       m.Field,
			Description: m.Description,
			CreatedAt:   now,
		})
	}
}

// Record queues a single entry.
func (s *Sink) Record(e Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.record(e)
}

func (s *Sink) record(e Entry) {
	select {
	case s.entries <- e:
	default:
		s.logger.Warn("Audit buffer full, dropping entry",
			zap.String("request_id", e.RequestID),
			zap.String("phase", e.Phase),
		)
	}
}

// Close flushes pending entries and closes the database.
func (s *Sink) Close() error {
	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}

// writer drains the entry channel into batched inserts.
func (s *Sink) writer() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, s.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.insertBatch(batch); err != nil {
			s.logger.Error("Failed to flush audit batch",
				zap.Int("entries", len(batch)),
				zap.Error(err),
			)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-s.entries:
			batch = append(batch, e)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.done:
			for {
				select {
				case e := <-s.entries:
					batch = append(batch, e)
					if len(batch) >= s.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// insertBatch writes one multi-row INSERT with numbered arguments.
func (s *Sink) insertBatch(batch []Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	query, args := buildBatchInsert(batch)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert audit batch: %w", err)
	}
	return nil
}

func buildBatchInsert(batch []Entry) (string, []interface{}) {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*6)
	for i, e := range batch {
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)",
			i*6+1, i*6+2, i*6+3, i*6+4, i*6+5, i*6+6))
		valueArgs = append(valueArgs, e.RequestID, e.Module, e.Phase, e.Field, e.Description, e.CreatedAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO guardrail_audit (request_id, module, phase, field, description, created_at)
		VALUES %s`, strings.Join(valueStrings, ", "))
	return query, valueArgs
}

// Recent returns the newest entries for a request, for the info surface.
func (s *Sink) Recent(ctx context.Context, requestID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Entry
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, request_id, module, phase, field, description, created_at
		FROM guardrail_audit
		WHERE request_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, requestID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	return out, nil
}

// maskDatabaseURL masks credentials in a database URL for logging.
func maskDatabaseURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
