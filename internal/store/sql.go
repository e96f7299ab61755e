package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"

	"github.com/ABeGood/reservation-pl/internal/domain"
)

const (
	DefaultBusyTimeout = 3 * time.Second

	maxRetries = 3
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

var schemas = map[dialect][]string{
	dialectSQLite: {
		`CREATE TABLE IF NOT EXISTS participants (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			surname TEXT NOT NULL,
			citizenship TEXT NOT NULL,
			email TEXT NOT NULL,
			phone TEXT NOT NULL,
			application_type TEXT NOT NULL,
			desired_month INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reservations (
			id TEXT PRIMARY KEY,
			participant_id INTEGER NOT NULL REFERENCES participants(id),
			slot_date TEXT NOT NULL,
			slot_time TEXT NOT NULL,
			room TEXT NOT NULL,
			raw_value TEXT NOT NULL,
			code TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_participants_status ON participants(status)`,
	},
	dialectPostgres: {
		`CREATE TABLE IF NOT EXISTS participants (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			surname TEXT NOT NULL,
			citizenship TEXT NOT NULL,
			email TEXT NOT NULL,
			phone TEXT NOT NULL,
			application_type TEXT NOT NULL,
			desired_month INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reservations (
			id TEXT PRIMARY KEY,
			participant_id BIGINT NOT NULL REFERENCES participants(id),
			slot_date TEXT NOT NULL,
			slot_time TEXT NOT NULL,
			room TEXT NOT NULL,
			raw_value TEXT NOT NULL,
			code TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_participants_status ON participants(status)`,
	},
}

const participantColumns = `id, name, surname, citizenship, email, phone, application_type, desired_month, status, created_at`

// SQLStore is a [Repository] backed by database/sql. It speaks SQLite through
// mattn/go-sqlite3 and Postgres through pgx.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// OpenSQLite opens (creating if needed) the SQLite database at path in WAL
// mode and applies the schema.
func OpenSQLite(ctx context.Context, path string, busyTimeout time.Duration) (*SQLStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if busyTimeout <= 0 {
		busyTimeout = DefaultBusyTimeout
	}
	dsn := fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on", path, busyTimeout.Milliseconds())
	return open(ctx, dialectSQLite, "sqlite3", dsn)
}

// OpenPostgres connects to the Postgres database at dsn and applies the
// schema.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	return open(ctx, dialectPostgres, "pgx", dsn)
}

func open(ctx context.Context, d dialect, driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := &SQLStore{db: db, dialect: d, now: time.Now, sleep: sleepContext}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range schemas[s.dialect] {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Add implements [Repository].
func (s *SQLStore) Add(ctx context.Context, p domain.Participant) (domain.Participant, error) {
	p, err := prepare(p, s.now())
	if err != nil {
		return domain.Participant{}, err
	}

	query := s.rebind(`INSERT INTO participants
		(name, surname, citizenship, email, phone, application_type, desired_month, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	err = s.retry(ctx, func() error {
		return s.db.QueryRowContext(ctx, query,
			p.Name, p.Surname, string(p.Citizenship), p.Email, p.Phone,
			string(p.ApplicationType), p.DesiredMonth, string(p.Status),
			p.CreatedAt.Format(time.RFC3339Nano),
		).Scan(&p.ID)
	})
	if err != nil {
		return domain.Participant{}, fmt.Errorf("insert participant: %w", err)
	}
	return p, nil
}

// Get implements [Repository].
func (s *SQLStore) Get(ctx context.Context, id int64) (domain.Participant, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+participantColumns+` FROM participants WHERE id = ?`), id)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Participant{}, fmt.Errorf("%w: id %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

// GetByEmail implements [Repository].
func (s *SQLStore) GetByEmail(ctx context.Context, email string) (domain.Participant, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+participantColumns+` FROM participants WHERE LOWER(email) = LOWER(?) ORDER BY id LIMIT 1`),
		strings.TrimSpace(email))
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Participant{}, fmt.Errorf("%w: email %q", domain.ErrNotFound, email)
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("get participant by email: %w", err)
	}
	return p, nil
}

// Delete implements [Repository]. Reservations of the participant are
// removed in the same transaction.
func (s *SQLStore) Delete(ctx context.Context, id int64) error {
	return s.retry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			s.rebind(`DELETE FROM reservations WHERE participant_id = ?`), id); err != nil {
			return fmt.Errorf("delete reservations: %w", err)
		}
		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM participants WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("delete participant: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete participant: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: id %d", domain.ErrNotFound, id)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
}

// Stats implements [Repository].
func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, citizenship, desired_month, COUNT(*)
		FROM participants GROUP BY status, citizenship, desired_month`)
	if err != nil {
		return Stats{}, fmt.Errorf("participant stats: %w", err)
	}
	defer rows.Close()

	st := newStats()
	for rows.Next() {
		var (
			status, citizenship string
			month, n            int
		)
		if err := rows.Scan(&status, &citizenship, &month, &n); err != nil {
			return Stats{}, fmt.Errorf("scan participant stats: %w", err)
		}
		st.add(domain.ParticipantStatus(status), domain.Citizenship(citizenship), month, n)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("participant stats: %w", err)
	}
	return st, nil
}

// List implements [Repository].
func (s *SQLStore) List(ctx context.Context) ([]domain.Participant, error) {
	return s.query(ctx, `SELECT `+participantColumns+` FROM participants ORDER BY id`)
}

// ListPending implements [domain.ParticipantRepository].
func (s *SQLStore) ListPending(ctx context.Context) ([]domain.Participant, error) {
	return s.query(ctx, `SELECT `+participantColumns+` FROM participants WHERE status = ? ORDER BY id`,
		string(domain.StatusPending))
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) ([]domain.Participant, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	out := []domain.Participant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return out, nil
}

// MarkClaimed implements [domain.ParticipantRepository]. The status change
// is conditional on the participant still being pending and shares a
// transaction with the reservation insert.
func (s *SQLStore) MarkClaimed(ctx context.Context, id int64, r domain.Reservation) error {
	r.ParticipantID = id
	return s.retry(ctx, func() error {
		return s.tryMarkClaimed(ctx, id, r)
	})
}

func (s *SQLStore) tryMarkClaimed(ctx context.Context, id int64, r domain.Reservation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		s.rebind(`UPDATE participants SET status = ? WHERE id = ? AND status = ?`),
		string(domain.StatusClaimed), id, string(domain.StatusPending))
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	if n == 0 {
		var status string
		err := tx.QueryRowContext(ctx,
			s.rebind(`SELECT status FROM participants WHERE id = ?`), id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: id %d", domain.ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("read participant status: %w", err)
		}
		return fmt.Errorf("%w: id %d is %s", domain.ErrNotPending, id, status)
	}

	_, err = tx.ExecContext(ctx,
		s.rebind(`INSERT INTO reservations
			(id, participant_id, slot_date, slot_time, room, raw_value, code, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, id, r.Slot.DateString(), r.Slot.Time, string(r.Slot.Room), r.Slot.RawValue,
		r.Code, r.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Reservations implements [Repository].
func (s *SQLStore) Reservations(ctx context.Context) ([]domain.Reservation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, participant_id, slot_date, slot_time, room, raw_value, code, created_at
		FROM reservations ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	out := []domain.Reservation{}
	for rows.Next() {
		var (
			r                 domain.Reservation
			date, room, stamp string
		)
		if err := rows.Scan(&r.ID, &r.ParticipantID, &date, &r.Slot.Time, &room, &r.Slot.RawValue, &r.Code, &stamp); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		if r.Slot.Date, err = domain.ParseDate(date); err != nil {
			return nil, err
		}
		r.Slot.Room = domain.Room(room)
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, stamp); err != nil {
			return nil, fmt.Errorf("parse reservation time: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row scanner) (domain.Participant, error) {
	var (
		p                                       domain.Participant
		citizenship, application, status, stamp string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Surname, &citizenship, &p.Email, &p.Phone,
		&application, &p.DesiredMonth, &status, &stamp)
	if err != nil {
		return domain.Participant{}, err
	}
	p.Citizenship = domain.Citizenship(citizenship)
	p.ApplicationType = domain.ApplicationType(application)
	p.Status = domain.ParticipantStatus(status)
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, stamp); err != nil {
		return domain.Participant{}, fmt.Errorf("parse created_at: %w", err)
	}
	return p, nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// retry runs fn up to maxRetries times while it fails with a lock or
// serialization error, backing off 20ms, 40ms, ...
func (s *SQLStore) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = fn()
		if err == nil || !isRetryable(err) || attempt == maxRetries-1 {
			return err
		}
		backoff := time.Duration(20*(1<<attempt)) * time.Millisecond
		if serr := s.sleep(ctx, backoff); serr != nil {
			return err
		}
	}
	return err
}

func isRetryable(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
