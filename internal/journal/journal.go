package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/speak4all/coursefeed/internal/connection"
	"github.com/speak4all/coursefeed/internal/dedup"
	"github.com/speak4all/coursefeed/internal/router"
)

// Config holds journal writer configuration.
type Config struct {
	BatchSize     int           // Default: 64
	FlushInterval time.Duration // Default: 2s
	QueueSize     int           // Default: 256
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     64,
		FlushInterval: 2 * time.Second,
		QueueSize:     256,
	}
}

// Metrics counts journal writer activity.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
}

// row is one journalled delivery.
type row struct {
	ID          uuid.UUID
	EventType   string
	ChannelID   int64
	EntityID    int64
	AddresseeID *int64
	Fingerprint string
	ReceivedAt  time.Time
	Payload     []byte
}

// Writer batches delivered envelopes into the delivered_events table.
type Writer struct {
	cfg    Config
	logger *slog.Logger

	input *Queue[row]
	db    *pgxpool.Pool

	batch       []row
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// NewWriter creates a journal writer backed by db.
func NewWriter(cfg Config, db *pgxpool.Pool, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}

	return &Writer{
		cfg:    cfg,
		logger: logger,
		input:  NewQueue[row](cfg.QueueSize),
		db:     db,
		batch:  make([]row, 0, cfg.BatchSize),
	}
}

// Sink adapts the writer for router registration. The sink only enqueues;
// database latency never reaches the routing goroutine.
func (w *Writer) Sink() router.Sink {
	return func(in connection.Inbound) {
		w.input.Push(transform(in))
	}
}

// Start begins consuming deliveries and writing batches.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains and flushes what it can, then shuts down.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	w.input.Close()
	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("journal writer stopped")
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
	}

	// Drain whatever the consumer did not get to, then flush.
	for _, r := range w.input.DrainUpTo(0) {
		w.batchMu.Lock()
		w.batch = append(w.batch, r)
		w.batchMu.Unlock()
	}
	w.flush()
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop moves rows from the queue into the batch.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			r, ok := w.input.TryPop()
			if !ok {
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}
			w.enqueue(r)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush()
		}
	}
}

// enqueue adds a row to the batch, flushing at the batch size.
func (w *Writer) enqueue(r row) {
	w.batchMu.Lock()
	w.batch = append(w.batch, r)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

// flush writes the current batch to the database.
func (w *Writer) flush() {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]row, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(batch)
	if err != nil {
		w.logger.Error("journal insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed journal",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(rows []row) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO delivered_events (id, event_type, channel_id, entity_id, addressee_id, fingerprint, received_at, payload)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (fingerprint) DO NOTHING
		`, r.ID, r.EventType, r.ChannelID, r.EntityID, r.AddresseeID, r.Fingerprint, r.ReceivedAt, r.Payload)
	}

	// The final flush runs after cancel; give it its own deadline.
	ctx := w.ctx
	if ctx == nil || ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}

// transform converts a delivered envelope to a journal row.
func transform(in connection.Inbound) row {
	env := in.Envelope

	var addressee *int64
	if id, ok := env.Addressee(); ok {
		addressee = &id
	}

	var window int64
	if ts, ok := env.ServerTimestamp(); ok {
		window = ts.Unix()
	}
	fp := dedup.Key{
		Type:    string(env.Type),
		Entity:  env.EntityID(),
		Channel: in.ChannelID,
		Window:  window,
	}

	return row{
		ID:          uuid.New(),
		EventType:   string(env.Type),
		ChannelID:   in.ChannelID,
		EntityID:    env.EntityID(),
		AddresseeID: addressee,
		Fingerprint: fp.String(),
		ReceivedAt:  in.ReceivedAt,
		Payload:     append([]byte(nil), env.Data...),
	}
}
