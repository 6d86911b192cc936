package edc

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver
	"github.com/clinsight/platform/internal/shared/config"
	"github.com/clinsight/platform/internal/signal"
)

// SQLServerExtractor reads the reporting views most commercial EDC systems
// expose on SQL Server. Each view maps to one record type; the view's row
// key becomes the record's natural key.
type SQLServerExtractor struct {
	db      *sql.DB
	studyID string
}

// NewSQLServerExtractor opens the reporting database connection
func NewSQLServerExtractor(cfg config.EDCConfig) (*SQLServerExtractor, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open EDC database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	return &SQLServerExtractor{db: db, studyID: cfg.StudyID}, nil
}

// SourceSystem names the EDC backend
func (e *SQLServerExtractor) SourceSystem() string { return "edc-sqlserver" }

// Health verifies the reporting database is reachable
func (e *SQLServerExtractor) Health(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// Close releases the connection pool
func (e *SQLServerExtractor) Close() error { return e.db.Close() }

// FetchRecords returns extract rows changed since the given time across all
// reporting views.
func (e *SQLServerExtractor) FetchRecords(ctx context.Context, since time.Time) ([]signal.Record, error) {
	var records []signal.Record

	fetchers := []func(context.Context, time.Time) ([]signal.Record, error){
		e.fetchOpenQueries,
		e.fetchMissingVisits,
		e.fetchVisitProjections,
		e.fetchFormStatus,
		e.fetchCodingIssues,
	}
	for _, fetch := range fetchers {
		batch, err := fetch(ctx, since)
		if err != nil {
			return nil, err
		}
		records = append(records, batch...)
	}
	return records, nil
}

func (e *SQLServerExtractor) fetchOpenQueries(ctx context.Context, since time.Time) ([]signal.Record, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT SiteID, SubjectID, QueryID, OpenedDate, ResolvedFlag, LastModified
		FROM rpt.OpenQueries
		WHERE StudyID = @p1 AND LastModified > @p2`,
		e.studyID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query open queries view: %w", err)
	}
	defer rows.Close()

	var records []signal.Record
	for rows.Next() {
		var (
			siteID, subjectID, queryID string
			opened                     time.Time
			resolved                   bool
			modified                   time.Time
		)
		if err := rows.Scan(&siteID, &subjectID, &queryID, &opened, &resolved, &modified); err != nil {
			return nil, fmt.Errorf("failed to scan open query row: %w", err)
		}
		records = append(records, signal.Record{
			StudyID:    e.studyID,
			SiteID:     siteID,
			PatientID:  subjectID,
			Type:       signal.RecordTypeOpenQuery,
			NaturalKey: queryID,
			ObservedAt: modified,
			OpenedAt:   &opened,
			Resolved:   resolved,
		})
	}
	return records, rows.Err()
}

func (e *SQLServerExtractor) fetchMissingVisits(ctx context.Context, since time.Time) ([]signal.Record, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT SiteID, SubjectID, VisitNumber, LastModified
		FROM rpt.MissingVisits
		WHERE StudyID = @p1 AND LastModified > @p2`,
		e.studyID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query missing visits view: %w", err)
	}
	defer rows.Close()

	var records []signal.Record
	for rows.Next() {
		var siteID, subjectID, visitNumber string
		var modified time.Time
		if err := rows.Scan(&siteID, &subjectID, &visitNumber, &modified); err != nil {
			return nil, fmt.Errorf("failed to scan missing visit row: %w", err)
		}
		records = append(records, signal.Record{
			StudyID:     e.studyID,
			SiteID:      siteID,
			PatientID:   subjectID,
			Type:        signal.RecordTypeMissingVisit,
			NaturalKey:  subjectID + ":" + visitNumber,
			ObservedAt:  modified,
			VisitNumber: visitNumber,
			Missing:     true,
		})
	}
	return records, rows.Err()
}

func (e *SQLServerExtractor) fetchVisitProjections(ctx context.Context, since time.Time) ([]signal.Record, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT SiteID, SubjectID, VisitNumber, CompletedFlag, LastModified
		FROM rpt.VisitProjections
		WHERE StudyID = @p1 AND LastModified > @p2`,
		e.studyID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query visit projections view: %w", err)
	}
	defer rows.Close()

	var records []signal.Record
	for rows.Next() {
		var siteID, subjectID, visitNumber string
		var completed bool
		var modified time.Time
		if err := rows.Scan(&siteID, &subjectID, &visitNumber, &completed, &modified); err != nil {
			return nil, fmt.Errorf("failed to scan visit projection row: %w", err)
		}
		records = append(records, signal.Record{
			StudyID:     e.studyID,
			SiteID:      siteID,
			PatientID:   subjectID,
			Type:        signal.RecordTypeVisitProjection,
			NaturalKey:  subjectID + ":" + visitNumber,
			ObservedAt:  modified,
			VisitNumber: visitNumber,
			Completed:   completed,
		})
	}
	return records, rows.Err()
}

func (e *SQLServerExtractor) fetchFormStatus(ctx context.Context, since time.Time) ([]signal.Record, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT SiteID, SubjectID, FormOID, RequiredFlag, CompleteFlag, VerifiedFlag, LastModified
		FROM rpt.FormStatus
		WHERE StudyID = @p1 AND LastModified > @p2`,
		e.studyID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query form status view: %w", err)
	}
	defer rows.Close()

	var records []signal.Record
	for rows.Next() {
		var siteID, subjectID, formOID string
		var required, complete, verified bool
		var modified time.Time
		if err := rows.Scan(&siteID, &subjectID, &formOID, &required, &complete, &verified, &modified); err != nil {
			return nil, fmt.Errorf("failed to scan form status row: %w", err)
		}
		records = append(records, signal.Record{
			StudyID:    e.studyID,
			SiteID:     siteID,
			PatientID:  subjectID,
			Type:       signal.RecordTypeFormStatus,
			NaturalKey: subjectID + ":" + formOID,
			ObservedAt: modified,
			Required:   required,
			Complete:   complete,
			Verified:   verified,
		})
	}
	return records, rows.Err()
}

func (e *SQLServerExtractor) fetchCodingIssues(ctx context.Context, since time.Time) ([]signal.Record, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT SiteID, SubjectID, TermID, Term, ResolvedFlag, LastModified
		FROM rpt.CodingIssues
		WHERE StudyID = @p1 AND LastModified > @p2`,
		e.studyID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query coding issues view: %w", err)
	}
	defer rows.Close()

	var records []signal.Record
	for rows.Next() {
		var siteID, subjectID, termID, term string
		var resolved bool
		var modified time.Time
		if err := rows.Scan(&siteID, &subjectID, &termID, &term, &resolved, &modified); err != nil {
			return nil, fmt.Errorf("failed to scan coding issue row: %w", err)
		}
		records = append(records, signal.Record{
			StudyID:    e.studyID,
			SiteID:     siteID,
			PatientID:  subjectID,
			Type:       signal.RecordTypeCodingIssue,
			NaturalKey: termID,
			ObservedAt: modified,
			Term:       term,
			Resolved:   resolved,
		})
	}
	return records, rows.Err()
}
