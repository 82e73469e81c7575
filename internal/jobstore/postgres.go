package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/jobwatch/internal/events"
	"github.com/stacklok/jobwatch/internal/job"
	"github.com/stacklok/jobwatch/internal/reducer"
)

const (
	// notifyChannel carries "<job id> <frame>" payloads between relay instances
	notifyChannel = "job_events"

	// maxNotifyPayload stays below the 8000 byte NOTIFY payload limit
	maxNotifyPayload = 7999

	uniqueViolation = "23505"
)

// PostgresStore is a Store backed by PostgreSQL. Published frames are sent
// with pg_notify in the publishing transaction, so every relay instance
// sharing the database forwards them to its own subscribers.
//
// When the listener connection is lost, every subscriber channel is closed.
// Stream clients then fall back to polling snapshots instead of silently
// missing events.
type PostgresStore struct {
	storeConfig

	pool *pgxpool.Pool
	hub  *hub

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPostgresStore creates a store on an already migrated database and starts
// its event listener. It holds one pool connection until Close is called.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, opts ...Option) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool is required")
	}

	cfg := newStoreConfig(opts)
	s := &PostgresStore{
		storeConfig: cfg,
		pool:        pool,
		hub:         newHub(cfg.metrics),
		done:        make(chan struct{}),
	}

	conn, err := s.acquireListener(ctx)
	if err != nil {
		return nil, err
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.listen(listenCtx, conn)

	return s, nil
}

// Close stops the listener and closes every subscriber channel.
// The pool is left open.
func (s *PostgresStore) Close() {
	s.cancel()
	<-s.done
	s.hub.closeAll()
}

// Create inserts a new QUEUED job
func (s *PostgresStore) Create(ctx context.Context, req job.CreateRequest) (string, error) {
	if err := job.ValidateCreateRequest(&req); err != nil {
		return "", err
	}

	var options []byte
	if len(req.Options) > 0 {
		var err error
		if options, err = json.Marshal(req.Options); err != nil {
			return "", fmt.Errorf("failed to encode job options: %w", err)
		}
	}

	id := s.newID()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, youtube_url, options) VALUES ($1, $2, $3)`,
		id, req.YoutubeURL, options)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", fmt.Errorf("job id collision: %s", id)
		}
		return "", fmt.Errorf("failed to insert job: %w", err)
	}
	s.metrics.RecordJobCreated(ctx)

	slog.Info("Job created", "job_id", id, "youtube_url", req.YoutubeURL)
	return id, nil
}

// Get returns the current snapshot of a job with its trailing log lines
func (s *PostgresStore) Get(ctx context.Context, jobID string) (*job.Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	view, err := loadView(ctx, tx, jobID, false)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx,
		`SELECT message FROM (
			SELECT seq, message FROM job_logs WHERE job_id = $1 ORDER BY seq DESC LIMIT $2
		) AS tail ORDER BY seq`,
		jobID, s.snapshotLogLines)
	if err != nil {
		return nil, fmt.Errorf("failed to query job logs: %w", err)
	}
	view.LogLines, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to read job logs: %w", err)
	}

	snap := job.SnapshotOf(view, s.snapshotLogLines)
	return &snap, nil
}

// Request returns the creation request of a job
func (s *PostgresStore) Request(ctx context.Context, jobID string) (*job.CreateRequest, error) {
	var (
		req     job.CreateRequest
		options []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT youtube_url, options FROM jobs WHERE id = $1`, jobID,
	).Scan(&req.YoutubeURL, &options)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}

	if len(options) > 0 {
		if err := json.Unmarshal(options, &req.Options); err != nil {
			return nil, fmt.Errorf("failed to decode job options: %w", err)
		}
	}
	return &req, nil
}

// Publish applies an event frame to a job and notifies every relay instance.
// Log lines beyond the retention limit are deleted in the same transaction.
func (s *PostgresStore) Publish(ctx context.Context, jobID string, frame []byte) (events.Event, error) {
	ev, encoded, err := parseFrame(frame)
	if err != nil {
		return nil, err
	}

	payload := jobID + " " + string(encoded)
	if len(payload) > maxNotifyPayload {
		return nil, fmt.Errorf("%w: encoded event exceeds %d bytes", ErrInvalidEvent, maxNotifyPayload)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	view, err := loadView(ctx, tx, jobID, true)
	if err != nil {
		return nil, err
	}

	// The view carries no log lines, so Merge leaves only the new one
	view = reducer.Merge(view, ev)

	if _, err := tx.Exec(ctx,
		`UPDATE jobs SET status = $2, progress = $3, result_url = $4, last_error = $5, updated_at = now()
		WHERE id = $1`,
		jobID, string(view.Status), view.Progress, view.ResultRef, view.LastError,
	); err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}

	if len(view.LogLines) > 0 {
		if err := s.appendLogs(ctx, tx, jobID, view.LogLines); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, payload); err != nil {
		return nil, fmt.Errorf("failed to notify event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit event: %w", err)
	}
	s.metrics.RecordEvent(ctx, string(ev.Kind()))

	return ev, nil
}

func (s *PostgresStore) appendLogs(ctx context.Context, tx pgx.Tx, jobID string, lines []string) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO job_logs (job_id, message) SELECT $1, unnest($2::text[])`,
		jobID, lines,
	); err != nil {
		return fmt.Errorf("failed to insert job logs: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM job_logs WHERE job_id = $1 AND seq <= (
			SELECT seq FROM job_logs WHERE job_id = $1 ORDER BY seq DESC OFFSET $2 LIMIT 1
		)`,
		jobID, s.maxLogLines,
	); err != nil {
		return fmt.Errorf("failed to trim job logs: %w", err)
	}
	return nil
}

// Subscribe registers a push channel subscriber on this relay instance
func (s *PostgresStore) Subscribe(ctx context.Context, jobID string) (<-chan []byte, func(), error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, jobID).Scan(&exists)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query job: %w", err)
	}
	if !exists {
		return nil, nil, notFound(jobID)
	}

	ch, cancel := s.hub.subscribe(ctx, jobID)
	return ch, cancel, nil
}

// SubscriberCount returns the number of push subscribers of a job on this instance
func (s *PostgresStore) SubscriberCount(jobID string) int {
	return s.hub.count(jobID)
}

// loadView reads the scalar fields of a job, optionally locking its row
func loadView(ctx context.Context, q pgx.Tx, jobID string, forUpdate bool) (job.View, error) {
	query := `SELECT status, progress, result_url, last_error FROM jobs WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	view := job.NewView()
	var status string
	err := q.QueryRow(ctx, query, jobID).Scan(&status, &view.Progress, &view.ResultRef, &view.LastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return view, notFound(jobID)
	}
	if err != nil {
		return view, fmt.Errorf("failed to query job: %w", err)
	}

	view.Status = job.Status(status)
	return view, nil
}

func (s *PostgresStore) acquireListener(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listener connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen for job events: %w", err)
	}
	return conn, nil
}

// listen dispatches notifications until ctx is cancelled, reconnecting with
// exponential backoff when the listener connection fails
func (s *PostgresStore) listen(ctx context.Context, conn *pgxpool.Conn) {
	defer close(s.done)

	retry := backoff.NewExponentialBackOff()
	retry.MaxInterval = 30 * time.Second

	for {
		err := s.receive(ctx, conn)
		// A connection in an unknown state must not return to the pool
		_ = conn.Hijack().Close(context.Background())
		if ctx.Err() != nil {
			return
		}

		slog.Error("Job event listener disconnected, closing subscribers", "error", err)
		s.hub.closeAll()

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(retry.NextBackOff()):
			}

			conn, err = s.acquireListener(ctx)
			if err == nil {
				break
			}
			slog.Warn("Failed to restart job event listener", "error", err)
		}
		retry.Reset()
		slog.Info("Job event listener reconnected")
	}
}

func (s *PostgresStore) receive(ctx context.Context, conn *pgxpool.Conn) error {
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}

		jobID, frame, ok := cutPayload(n.Payload)
		if !ok {
			slog.Warn("Ignoring malformed job event notification", "size", len(n.Payload))
			continue
		}
		s.hub.broadcast(jobID, frame)
	}
}

// cutPayload splits a "<job id> <frame>" notification payload
func cutPayload(payload string) (string, []byte, bool) {
	jobID, frame, ok := strings.Cut(payload, " ")
	if !ok || jobID == "" || frame == "" {
		return "", nil, false
	}
	return jobID, []byte(frame), true
}
