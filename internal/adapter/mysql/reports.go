// Package mysql persists reports in a MySQL table.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/couchcryptid/road-hazard-service/internal/domain"
)

const schema = `
	CREATE TABLE IF NOT EXISTS reports (
		seq BIGINT NOT NULL AUTO_INCREMENT,
		id CHAR(36) NOT NULL,
		latitude DOUBLE NOT NULL,
		longitude DOUBLE NOT NULL,
		severity TINYINT NOT NULL,
		status VARCHAR(16) NOT NULL,
		priority VARCHAR(16) NOT NULL,
		confidence DOUBLE NULL,
		submission_count INT NOT NULL DEFAULT 1,
		source VARCHAR(8) NOT NULL,
		image_ref VARCHAR(255) NOT NULL DEFAULT '',
		address VARCHAR(512) NOT NULL DEFAULT '',
		reporter_name VARCHAR(255) NOT NULL DEFAULT '',
		notes TEXT NOT NULL,
		provider_message_id VARCHAR(64) NOT NULL DEFAULT '',
		contact_token VARCHAR(64) NOT NULL DEFAULT '',
		first_seen DATETIME(6) NOT NULL,
		last_seen DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		PRIMARY KEY (seq),
		UNIQUE KEY reports_id (id),
		INDEX reports_status (status)
	)
`

const reportColumns = `id, latitude, longitude, severity, status, priority, confidence,
	submission_count, source, image_ref, address, reporter_name, notes,
	provider_message_id, contact_token, first_seen, last_seen, updated_at`

// Open connects to MySQL. Rows-affected counts matched rows so that an
// update writing identical values is not mistaken for a missing report.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse MYSQL_DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	cfg.Loc = time.UTC

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

// ReportStore implements lifecycle.ReportStore on a reports table.
type ReportStore struct {
	db *sql.DB
}

func NewReportStore(db *sql.DB) *ReportStore {
	return &ReportStore{db: db}
}

// Migrate creates the reports table if it does not exist.
func (s *ReportStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return domain.StorageError("create reports table", err)
	}
	return nil
}

func (s *ReportStore) Create(ctx context.Context, r domain.Report) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO reports (`+reportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Location.Lat, r.Location.Lon, r.Severity, string(r.Status), string(r.Priority),
		nullFloat(r.Confidence), r.SubmissionCount, string(r.Source), r.ImageRef, r.Address,
		r.ReporterName, r.Notes, r.ProviderMessageID, r.ContactToken,
		r.FirstSeen.UTC(), r.LastSeen.UTC(), r.UpdatedAt.UTC(),
	)
	if err != nil {
		return domain.StorageError("insert report", err)
	}
	return nil
}

func (s *ReportStore) Get(ctx context.Context, id string) (domain.Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Report{}, fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Report{}, domain.StorageError("select report", err)
	}
	return r, nil
}

// Update rewrites the mutable columns. Location and first_seen never change.
func (s *ReportStore) Update(ctx context.Context, r domain.Report) error {
	result, err := s.db.ExecContext(ctx, `UPDATE reports SET severity = ?, status = ?, priority = ?,
		confidence = ?, submission_count = ?, image_ref = ?, address = ?, reporter_name = ?,
		notes = ?, last_seen = ?, updated_at = ? WHERE id = ?`,
		r.Severity, string(r.Status), string(r.Priority), nullFloat(r.Confidence),
		r.SubmissionCount, r.ImageRef, r.Address, r.ReporterName, r.Notes,
		r.LastSeen.UTC(), r.UpdatedAt.UTC(), r.ID,
	)
	if err != nil {
		return domain.StorageError("update report", err)
	}
	return expectOneRow(result, r.ID)
}

func (s *ReportStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
	if err != nil {
		return domain.StorageError("delete report", err)
	}
	return expectOneRow(result, id)
}

// Scan returns every report in insertion order.
func (s *ReportStore) Scan(ctx context.Context) ([]domain.Report, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports ORDER BY seq`)
	if err != nil {
		return nil, domain.StorageError("scan reports", err)
	}
	defer rows.Close()

	var out []domain.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, domain.StorageError("scan reports", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("scan reports", err)
	}
	return out, nil
}

func (s *ReportStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ReportStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (domain.Report, error) {
	var (
		r                        domain.Report
		status, priority, source string
		confidence               sql.NullFloat64
	)
	err := row.Scan(
		&r.ID, &r.Location.Lat, &r.Location.Lon, &r.Severity, &status, &priority, &confidence,
		&r.SubmissionCount, &source, &r.ImageRef, &r.Address, &r.ReporterName, &r.Notes,
		&r.ProviderMessageID, &r.ContactToken, &r.FirstSeen, &r.LastSeen, &r.UpdatedAt,
	)
	if err != nil {
		return domain.Report{}, err
	}
	r.Status = domain.Status(status)
	r.Priority = domain.Priority(priority)
	r.Source = domain.Source(source)
	if confidence.Valid {
		c := confidence.Float64
		r.Confidence = &c
	}
	return r, nil
}

func expectOneRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return domain.StorageError("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
