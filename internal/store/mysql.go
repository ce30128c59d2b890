package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
)

// documentsDDL creates the single table the MySQL store needs.  version
// is bumped on every write and is what TransactionalUpdate compares and
// swaps on.
const documentsDDL = `CREATE TABLE IF NOT EXISTS documents (
    path       VARCHAR(512)    NOT NULL PRIMARY KEY,
    body       MEDIUMBLOB      NOT NULL,
    version    BIGINT UNSIGNED NOT NULL DEFAULT 1,
    updated_at TIMESTAMP(3)    NOT NULL DEFAULT CURRENT_TIMESTAMP(3) ON UPDATE CURRENT_TIMESTAMP(3)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// MySQL error numbers the store classifies.
const (
	mysqlErrDBAccessDenied    = 1044
	mysqlErrAccessDenied      = 1045
	mysqlErrTableAccessDenied = 1142
	mysqlErrColAccessDenied   = 1143
	mysqlErrDuplicateEntry    = 1062
)

// MySQLStore keeps documents in a MySQL table.  MySQL has no native
// change feed, so Subscribe polls version numbers.
type MySQLStore struct {
	db           *sql.DB
	log          zerolog.Logger
	pollInterval time.Duration
}

// NewMySQLStore wraps db.  pollInterval controls how often subscriptions
// look for new versions; it defaults to one second.
func NewMySQLStore(db *sql.DB, pollInterval time.Duration, log zerolog.Logger) *MySQLStore {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &MySQLStore{db: db, log: log, pollInterval: pollInterval}
}

// EnsureSchema creates the documents table when it is missing.
func (s *MySQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, documentsDDL); err != nil {
		return classifyMySQL(err)
	}
	return nil
}

func (s *MySQLStore) Read(ctx context.Context, path string) ([]byte, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE path = ?`, path).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyMySQL(err)
	}
	return body, nil
}

func (s *MySQLStore) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, body FROM documents WHERE path LIKE ? ESCAPE '!'`, likePrefix(prefix))
	if err != nil {
		return nil, classifyMySQL(err)
	}
	defer rows.Close()
	docs := make(map[string][]byte)
	for rows.Next() {
		var path string
		var body []byte
		if err := rows.Scan(&path, &body); err != nil {
			return nil, classifyMySQL(err)
		}
		docs[path] = body
	}
	if err := rows.Err(); err != nil {
		return nil, classifyMySQL(err)
	}
	return docs, nil
}

// TransactionalUpdate is a compare-and-swap loop on the version column.
// A lost race shows up as zero affected rows (update) or a duplicate key
// (first insert) and simply re-runs fn against the fresh value.
func (s *MySQLStore) TransactionalUpdate(ctx context.Context, path string, fn UpdateFunc) (TxResult, error) {
	for {
		if err := ctx.Err(); err != nil {
			return TxResult{}, unavailable(err)
		}
		var (
			current []byte
			version uint64
		)
		err := s.db.QueryRowContext(ctx,
			`SELECT body, version FROM documents WHERE path = ?`, path).Scan(&current, &version)
		absent := errors.Is(err, sql.ErrNoRows)
		if err != nil && !absent {
			return TxResult{}, classifyMySQL(err)
		}
		if absent {
			current = nil
		}
		next, err := fn(current)
		if errors.Is(err, ErrAborted) {
			return TxResult{Value: current}, nil
		}
		if err != nil {
			return TxResult{}, err
		}

		if absent {
			_, err = s.db.ExecContext(ctx,
				`INSERT INTO documents (path, body, version) VALUES (?, ?, 1)`, path, next)
			if isMySQLErr(err, mysqlErrDuplicateEntry) {
				continue
			}
			if err != nil {
				return TxResult{}, classifyMySQL(err)
			}
			return TxResult{Committed: true, Value: next}, nil
		}

		res, err := s.db.ExecContext(ctx,
			`UPDATE documents SET body = ?, version = version + 1 WHERE path = ? AND version = ?`,
			next, path, version)
		if err != nil {
			return TxResult{}, classifyMySQL(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return TxResult{}, classifyMySQL(err)
		}
		if n == 0 {
			continue
		}
		return TxResult{Committed: true, Value: next}, nil
	}
}

func (s *MySQLStore) AtomicMultiWrite(ctx context.Context, writes map[string][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyMySQL(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	const q = `INSERT INTO documents (path, body, version) VALUES (?, ?, 1)
               ON DUPLICATE KEY UPDATE body = VALUES(body), version = version + 1`
	for path, v := range writes {
		if _, err := tx.ExecContext(ctx, q, path, v); err != nil {
			return classifyMySQL(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return classifyMySQL(err)
	}
	committed = true
	return nil
}

// Subscribe snapshots the current versions under prefix, then polls and
// reports every document whose version moved.
func (s *MySQLStore) Subscribe(ctx context.Context, prefix string, onChange func(Change)) (Unsubscribe, error) {
	seen, err := s.versions(ctx, prefix)
	if err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-subCtx.Done():
				return
			case <-ticker.C:
				if err := s.poll(subCtx, prefix, seen, onChange); err != nil && subCtx.Err() == nil {
					s.log.Warn().Err(err).Str("prefix", prefix).Msg("document poll failed")
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (s *MySQLStore) versions(ctx context.Context, prefix string) (map[string]uint64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, version FROM documents WHERE path LIKE ? ESCAPE '!'`, likePrefix(prefix))
	if err != nil {
		return nil, classifyMySQL(err)
	}
	defer rows.Close()
	out := make(map[string]uint64)
	for rows.Next() {
		var path string
		var v uint64
		if err := rows.Scan(&path, &v); err != nil {
			return nil, classifyMySQL(err)
		}
		out[path] = v
	}
	return out, classifyMySQL(rows.Err())
}

func (s *MySQLStore) poll(ctx context.Context, prefix string, seen map[string]uint64, onChange func(Change)) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, body, version FROM documents WHERE path LIKE ? ESCAPE '!'`, likePrefix(prefix))
	if err != nil {
		return classifyMySQL(err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			path string
			body []byte
			v    uint64
		)
		if err := rows.Scan(&path, &body, &v); err != nil {
			return classifyMySQL(err)
		}
		if seen[path] == v {
			continue
		}
		seen[path] = v
		onChange(Change{Path: path, Value: body})
	}
	return classifyMySQL(rows.Err())
}

// Close is a no-op; the *sql.DB belongs to the caller.
func (s *MySQLStore) Close() error { return nil }

func likePrefix(prefix string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(prefix) + "%"
}

func isMySQLErr(err error, number uint16) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == number
}

func classifyMySQL(err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlErrDBAccessDenied, mysqlErrAccessDenied, mysqlErrTableAccessDenied, mysqlErrColAccessDenied:
			return denied(err)
		}
		return err
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) || errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, sql.ErrConnDone) {
		return unavailable(err)
	}
	return err
}
