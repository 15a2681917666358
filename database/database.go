package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"report-filing-bot/config"
	"report-filing-bot/models"

	"github.com/apex/log"
	_ "github.com/go-sql-driver/mysql"
)

const maxConnectWait = 30 * time.Second

// Database is the record store for reports
type Database struct {
	db  *sql.DB
	now func() time.Time
}

// NewDatabase opens the MySQL connection and waits until it answers pings
func NewDatabase(ctx context.Context, cfg *config.Config) (*Database, error) {
	// clientFoundRows makes RowsAffected count matched rows, so a no-op update still reports applied
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&clientFoundRows=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection with exponential backoff retry
	waitInterval := time.Second
	for {
		err := db.PingContext(ctx)
		if err == nil {
			break
		}
		log.WithError(err).Warnf("Database connection failed, retrying in %v", waitInterval)
		select {
		case <-ctx.Done():
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", ctx.Err())
		case <-time.After(waitInterval):
		}
		waitInterval *= 2
		if waitInterval > maxConnectWait {
			waitInterval = maxConnectWait
		}
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Infof("Database connected successfully to %s:%s/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)

	return New(db), nil
}

// New wraps an already opened connection
func New(db *sql.DB) *Database {
	return &Database{db: db, now: time.Now}
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping checks the connection, used by the health endpoint
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// EnsureReportsTable creates the reports table if it doesn't exist
func (d *Database) EnsureReportsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS reports (
			id BIGINT NOT NULL AUTO_INCREMENT,
			chat_id BIGINT NOT NULL,
			status VARCHAR(32) NOT NULL,
			subject_name VARCHAR(255) NOT NULL,
			contact_info VARCHAR(255) NOT NULL,
			recipient_email VARCHAR(255) NOT NULL,
			draft_body TEXT NOT NULL,
			extra_details TEXT,
			created_at DATETIME(6) NOT NULL,
			last_updated_at DATETIME(6) NOT NULL,
			follow_up_count INT NOT NULL DEFAULT 0,
			outbound_message_id VARCHAR(255),
			PRIMARY KEY (id),
			INDEX status_updated_index (status, last_updated_at),
			INDEX created_at_index (created_at),
			INDEX chat_id_index (chat_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`

	if _, err := d.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create reports table: %w", err)
	}

	log.Info("Reports table ensured")
	return nil
}

// CreateReport inserts a new report and returns its id.
// The id comes from AUTO_INCREMENT so it never collides within the store.
func (d *Database) CreateReport(ctx context.Context, report *models.Report) (int64, error) {
	if !report.Status.Valid() || report.Status == models.StatusDrafted {
		return 0, fmt.Errorf("cannot persist report in status %q", report.Status)
	}

	details, err := encodeDetails(report.ExtraDetails)
	if err != nil {
		return 0, err
	}

	now := d.now()
	res, err := d.db.ExecContext(ctx, `INSERT INTO reports
		(chat_id, status, subject_name, contact_info, recipient_email, draft_body, extra_details, created_at, last_updated_at, follow_up_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		report.ChatID, string(report.Status), report.SubjectName, report.ContactInfo,
		report.RecipientEmail, report.DraftBody, details, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert report: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get report id: %w", err)
	}

	report.ID = id
	report.CreatedAt = now
	report.LastUpdatedAt = now
	report.FollowUpCount = 0
	report.OutboundMessageID = ""

	log.WithFields(log.Fields{"report_id": id, "chat_id": report.ChatID}).Info("report.created")
	return id, nil
}

const reportColumns = `id, chat_id, status, subject_name, contact_info, recipient_email, draft_body,
	extra_details, created_at, last_updated_at, follow_up_count, outbound_message_id`

// GetReport fetches a report by id. A missing report returns nil without error.
func (d *Database) GetReport(ctx context.Context, id int64) (*models.Report, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get report %d: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanReport(rows)
}

// UpdateFields applies a partial update to one report.
// It returns false when no report matched the id and expected statuses.
func (d *Database) UpdateFields(ctx context.Context, id int64, update models.ReportUpdate) (bool, error) {
	var sets []string
	var args []any

	if update.Status != nil {
		if !update.Status.Valid() || *update.Status == models.StatusDrafted {
			return false, fmt.Errorf("cannot persist report in status %q", *update.Status)
		}
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.OutboundMessageID != nil {
		sets = append(sets, "outbound_message_id = COALESCE(outbound_message_id, ?)")
		args = append(args, *update.OutboundMessageID)
	}
	if update.IncrementFollowUp {
		sets = append(sets, "follow_up_count = follow_up_count + 1")
	}
	if update.Status != nil || update.Touch {
		sets = append(sets, "last_updated_at = ?")
		args = append(args, d.now())
	}
	if len(sets) == 0 {
		return false, errors.New("empty report update")
	}

	query := "UPDATE reports SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)
	if len(update.ExpectStatus) > 0 {
		query += " AND status IN (" + placeholders(len(update.ExpectStatus)) + ")"
		for _, s := range update.ExpectStatus {
			args = append(args, string(s))
		}
	}

	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update report %d: %w", id, err)
	}
	return rowsAffected(fmt.Sprintf("update report %d", id), res) == 1, nil
}

// QueryReports returns reports in one of the given statuses last updated before the cutoff,
// oldest first. A limit of zero means no limit.
func (d *Database) QueryReports(ctx context.Context, statuses []models.Status, updatedBefore time.Time, limit int) ([]models.Report, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(statuses)+2)
	for _, s := range statuses {
		args = append(args, string(s))
	}
	args = append(args, updatedBefore)

	query := `SELECT ` + reportColumns + ` FROM reports
		WHERE status IN (` + placeholders(len(statuses)) + `) AND last_updated_at < ?
		ORDER BY last_updated_at ASC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	qStart := time.Now()
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var reports []models.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *report)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	log.Debugf("QueryReports returned %d rows (in %s)", len(reports), time.Since(qStart))
	return reports, nil
}

// PurgeReports deletes reports created before the cutoff regardless of status
func (d *Database) PurgeReports(ctx context.Context, createdBefore time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, "DELETE FROM reports WHERE created_at < ?", createdBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to purge reports: %w", err)
	}
	return rowsAffected("purge reports", res), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(row scanner) (*models.Report, error) {
	var (
		report    models.Report
		status    string
		details   sql.NullString
		messageID sql.NullString
	)
	err := row.Scan(
		&report.ID,
		&report.ChatID,
		&status,
		&report.SubjectName,
		&report.ContactInfo,
		&report.RecipientEmail,
		&report.DraftBody,
		&details,
		&report.CreatedAt,
		&report.LastUpdatedAt,
		&report.FollowUpCount,
		&messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan report: %w", err)
	}

	report.Status = models.Status(status)
	if !report.Status.Valid() {
		return nil, fmt.Errorf("report %d has unknown status %q", report.ID, status)
	}
	report.OutboundMessageID = messageID.String
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &report.ExtraDetails); err != nil {
			log.Warnf("Report %d: ignoring malformed extra_details: %v", report.ID, err)
		}
	}
	return &report, nil
}

func encodeDetails(details map[string]string) (sql.NullString, error) {
	if len(details) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode extra details: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// rowsAffected logs and returns the affected row count of a statement
func rowsAffected(msgPrefix string, r sql.Result) int64 {
	rows, err := r.RowsAffected()
	if err != nil {
		log.Errorf("%s: failed to get status of db op: %v", msgPrefix, err)
		return 0
	}
	return rows
}
