package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

type EnrichmentStore interface {
	// ListUnenriched returns incidents still awaiting enrichment:
	// enriched=0, not permanently skipped, with at least one URL.
	// Order is "oldest" (default) or "newest" by ingestion time.
	ListUnenriched(ctx context.Context, limit int, order string) ([]Incident, error)

	// SaveEnrichment writes the payload row, the denormalized
	// projection, and the enriched flag in one transaction. Either all
	// of it lands or none of it does.
	SaveEnrichment(ctx context.Context, incidentID string, payload json.RawMessage, model string, proj EnrichmentProjection) error

	// MarkSkipped records a permanent not-relevant classification.
	MarkSkipped(ctx context.Context, incidentID string) error

	// RevertEnrichment drops the payload and clears the projection so
	// the incident becomes eligible again.
	RevertEnrichment(ctx context.Context, incidentID string) error

	GetEnrichment(ctx context.Context, incidentID string) (*EnrichmentRecord, error)
	Stats(ctx context.Context) (*EnrichmentStats, error)
}

type enrichmentStore struct {
	db *sql.DB
}

func NewEnrichmentStore(db *sql.DB) EnrichmentStore {
	return &enrichmentStore{db: db}
}

func (s *enrichmentStore) ListUnenriched(ctx context.Context, limit int, order string) ([]Incident, error) {
	dir := "ASC"
	if strings.EqualFold(strings.TrimSpace(order), "newest") {
		dir = "DESC"
	}
	query := `SELECT ` + incidentColumns + ` FROM incidents
		WHERE enriched=0 AND enrichment_skipped=0 AND all_urls!='[]' AND all_urls!=''
		ORDER BY ingested_at ` + dir
	if limit > 0 {
		query += " LIMIT ?"
	}
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, query, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIncidents(rows)
}

func (s *enrichmentStore) SaveEnrichment(ctx context.Context, incidentID string, payload json.RawMessage, model string, proj EnrichmentProjection) error {
	if len(payload) == 0 {
		return errors.New("empty enrichment payload")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO incident_enrichments(incident_id, payload, model, enriched_at) VALUES(?,?,?,?)
		ON CONFLICT(incident_id) DO UPDATE SET payload=excluded.payload, model=excluded.model, enriched_at=excluded.enriched_at`,
		incidentID, string(payload), model, now); err != nil {
		tx.Rollback()
		return err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE incidents SET enriched=1, enriched_at=?, enrichment_skipped=0, primary_url=?, llm_summary=?, llm_attack_type=?, llm_severity=?, llm_data_compromised=?, llm_students_affected=?, updated_at=?
		WHERE incident_id=?`,
		now, proj.PrimaryURL, proj.Summary, proj.AttackType, proj.Severity, proj.DataCompromised, nullableInt64(proj.StudentsAffected), now, incidentID)
	if err != nil {
		tx.Rollback()
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		tx.Rollback()
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *enrichmentStore) MarkSkipped(ctx context.Context, incidentID string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET enrichment_skipped=1, updated_at=? WHERE incident_id=? AND enriched=0`,
		now, incidentID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *enrichmentStore) RevertEnrichment(ctx context.Context, incidentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `DELETE FROM incident_enrichments WHERE incident_id=?`, incidentID); err != nil {
		tx.Rollback()
		return err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE incidents SET enriched=0, enriched_at=NULL, enrichment_skipped=0, primary_url='', llm_summary='', llm_attack_type='', llm_severity='', llm_data_compromised='', llm_students_affected=NULL, updated_at=?
		WHERE incident_id=?`, now, incidentID)
	if err != nil {
		tx.Rollback()
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		tx.Rollback()
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *enrichmentStore) GetEnrichment(ctx context.Context, incidentID string) (*EnrichmentRecord, error) {
	var rec EnrichmentRecord
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT incident_id, payload, model, enriched_at FROM incident_enrichments WHERE incident_id=?`,
		incidentID).Scan(&rec.IncidentID, &payload, &rec.Model, &rec.EnrichedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Payload = json.RawMessage(payload)
	return &rec, nil
}

func (s *enrichmentStore) Stats(ctx context.Context) (*EnrichmentStats, error) {
	var st EnrichmentStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN enriched=1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN enriched=0 AND enrichment_skipped=0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN enrichment_skipped=1 THEN 1 ELSE 0 END), 0)
		FROM incidents`).Scan(&st.Total, &st.Enriched, &st.Pending, &st.Skipped)
	if err != nil {
		return nil, err
	}
	return &st, nil
}
