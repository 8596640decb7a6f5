// Package watermark keeps committed readings in SQLite.
// Watermark is the greatest committed timestamp, derived from the table itself
// so it can not disagree with the data.
package watermark

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/crop2cloud/logger-lora/internal/fault"
	"github.com/crop2cloud/logger-lora/internal/reading"
	"github.com/crop2cloud/logger-lora/log2"
	"github.com/juju/errors"
	_ "github.com/mattn/go-sqlite3"
)

const (
	driverName = "sqlite3"
	tableName  = "readings"
)

const sqlCreate = `create table if not exists ` + tableName + ` (
	timestamp text primary key not null,
	fields text not null,
	committed text not null
)`

type Store struct {
	db   *sql.DB
	path string
	log  *log2.Log
	now  func() time.Time
}

// Open does not create the table, first Commit does.
func Open(path string, log *log2.Log) (*Store, error) {
	if path == "" {
		return nil, fault.New(fault.Config, errors.NotValidf("database.path empty"))
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fault.New(fault.Storage, errors.Annotatef(err, "watermark mkdir path=%s", path))
		}
	}
	dsn := path + "?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000"
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fault.New(fault.Storage, errors.Annotatef(err, "watermark open path=%s", path))
	}
	// single writer, also keeps :memory: database alive between calls
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fault.New(fault.Storage, errors.Annotatef(err, "watermark open path=%s", path))
	}
	return &Store{db: db, path: path, log: log, now: time.Now}, nil
}

func (self *Store) Close() error {
	return errors.Annotate(self.db.Close(), "watermark close")
}

func (self *Store) tableExists(ctx context.Context, q queryer) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `select count(*) from sqlite_master where type='table' and name=?`, tableName).Scan(&n)
	return n > 0, err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Watermark returns ok=false on fresh database, that is bootstrap state not error.
func (self *Store) Watermark(ctx context.Context) (time.Time, bool, error) {
	t, ok, err := self.watermark(ctx, self.db)
	if err != nil {
		return time.Time{}, false, fault.New(fault.Storage, errors.Annotate(err, "watermark get"))
	}
	return t, ok, nil
}

func (self *Store) watermark(ctx context.Context, q queryer) (time.Time, bool, error) {
	exists, err := self.tableExists(ctx, q)
	if err != nil {
		return time.Time{}, false, err
	}
	if !exists {
		self.log.Debugf("watermark table=%s absent", tableName)
		return time.Time{}, false, nil
	}
	var s sql.NullString
	if err = q.QueryRowContext(ctx, `select max(timestamp) from `+tableName).Scan(&s); err != nil {
		return time.Time{}, false, err
	}
	if !s.Valid || s.String == "" {
		return time.Time{}, false, nil
	}
	t, err := reading.ParseTime(s.String, time.UTC)
	if err != nil {
		return time.Time{}, false, errors.Annotatef(err, "stored timestamp=%q", s.String)
	}
	return t, true, nil
}

// Commit durably stores readings in one transaction and returns resulting watermark.
// Already stored timestamps are ignored. On error nothing is stored.
func (self *Store) Commit(ctx context.Context, rs ...reading.Reading) (time.Time, error) {
	t, err := self.commit(ctx, rs)
	if err != nil {
		return time.Time{}, fault.New(fault.Storage, errors.Annotatef(err, "watermark commit readings=%d", len(rs)))
	}
	return t, nil
}

func (self *Store) commit(ctx context.Context, rs []reading.Reading) (time.Time, error) {
	tx, err := self.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, errors.Annotate(err, "begin")
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, sqlCreate); err != nil {
		return time.Time{}, errors.Annotate(err, "create table")
	}
	stmt, err := tx.PrepareContext(ctx, `insert or ignore into `+tableName+` (timestamp, fields, committed) values (?, ?, ?)`)
	if err != nil {
		return time.Time{}, errors.Annotate(err, "prepare")
	}
	defer stmt.Close()
	committed := self.now().UTC().Format(time.RFC3339)
	inserted := int64(0)
	for _, r := range rs {
		if r.Time.IsZero() {
			return time.Time{}, errors.NotValidf("reading without timestamp")
		}
		b, err := json.Marshal(r.Fields)
		if err != nil {
			return time.Time{}, errors.Annotatef(err, "encode reading=%s", reading.FormatTime(r.Time))
		}
		res, err := stmt.ExecContext(ctx, reading.FormatTime(r.Time.UTC()), string(b), committed)
		if err != nil {
			return time.Time{}, errors.Annotatef(err, "insert reading=%s", reading.FormatTime(r.Time))
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		}
	}
	wm, _, err := self.watermark(ctx, tx)
	if err != nil {
		return time.Time{}, err
	}
	err = tx.Commit()
	tx = nil
	if err != nil {
		return time.Time{}, errors.Annotate(err, "commit")
	}
	if skipped := int64(len(rs)) - inserted; skipped > 0 {
		self.log.Infof("watermark commit skipped=%d already stored", skipped)
	}
	self.log.Debugf("watermark commit inserted=%d watermark=%s", inserted, reading.FormatTime(wm))
	return wm, nil
}

// Count is number of stored readings, 0 on fresh database.
func (self *Store) Count(ctx context.Context) (int, error) {
	exists, err := self.tableExists(ctx, self.db)
	if err != nil || !exists {
		return 0, fault.New(fault.Storage, errors.Annotate(err, "watermark count"))
	}
	var n int
	err = self.db.QueryRowContext(ctx, `select count(*) from `+tableName).Scan(&n)
	return n, fault.New(fault.Storage, errors.Annotate(err, "watermark count"))
}

// Get returns stored fields of one reading.
func (self *Store) Get(ctx context.Context, t time.Time) (string, error) {
	var s string
	err := self.db.QueryRowContext(ctx, `select fields from `+tableName+` where timestamp=?`, reading.FormatTime(t.UTC())).Scan(&s)
	if err == sql.ErrNoRows {
		return "", errors.NotFoundf("reading=%s", reading.FormatTime(t))
	}
	return s, fault.New(fault.Storage, errors.Annotate(err, "watermark get reading"))
}
