package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseSink batches metric records into a ClickHouse table.
//
// Records are buffered and flushed either when the buffer fills or on the
// flush interval, whichever comes first. Flush failures drop the batch;
// analytics is best-effort and must never back-pressure the request path.
type ClickHouseSink struct {
	conn     driver.Conn
	table    string
	mu       sync.Mutex
	buf      []Metric
	maxBatch int
	done     chan struct{}
	closed   bool
}

// ClickHouseConfig configures the analytics sink.
type ClickHouseConfig struct {
	Addrs    []string
	Database string
	Username string
	Password string

	// Table is the destination table. Default "chat_metrics".
	Table string

	// MaxBatch is the buffered record count that forces a flush.
	// Default 512.
	MaxBatch int

	// FlushInterval is the periodic flush cadence. Default 5s.
	FlushInterval time.Duration
}

// NewClickHouseSink opens the connection and starts the flush loop.
func NewClickHouseSink(cfg ClickHouseConfig) (*ClickHouseSink, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("clickhouse: at least one address is required")
	}
	if cfg.Table == "" {
		cfg.Table = "chat_metrics"
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 512
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addrs,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}

	s := &ClickHouseSink{
		conn:     conn,
		table:    cfg.Table,
		maxBatch: cfg.MaxBatch,
		done:     make(chan struct{}),
	}

	go s.flushLoop(cfg.FlushInterval)
	return s, nil
}

// Write implements Sink. It buffers the record and triggers a flush when
// the batch is full.
func (s *ClickHouseSink) Write(_ context.Context, m Metric) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("clickhouse: sink closed")
	}
	s.buf = append(s.buf, m)
	full := len(s.buf) >= s.maxBatch
	s.mu.Unlock()

	if full {
		s.flush()
	}
	return nil
}

// Close flushes outstanding records and closes the connection.
func (s *ClickHouseSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.flush()
	return s.conn.Close()
}

func (s *ClickHouseSink) flushLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-s.done:
			return
		}
	}
}

func (s *ClickHouseSink) flush() {
	s.mu.Lock()
	batch := s.buf
	s.buf = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	insert, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+s.table)
	if err != nil {
		return
	}
	for _, m := range batch {
		meta, _ := json.Marshal(m.Metadata)
		if err := insert.Append(
			m.TraceID,
			m.Timestamp,
			string(m.Type),
			m.Name,
			m.Value,
			string(meta),
			string(m.Status),
			m.Error,
		); err != nil {
			return
		}
	}
	_ = insert.Send()
}
