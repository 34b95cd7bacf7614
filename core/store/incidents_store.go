package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

const incidentColumns = `incident_id, source, source_event_id, university_name, normalized_name, institution_type, country, region, city, incident_date, date_precision, source_published_date, ingested_at, title, subtitle, primary_url, all_urls, leak_site_url, source_detail_url, screenshot_url, attack_type_hint, status, source_confidence, notes, enriched, enriched_at, enrichment_skipped, llm_summary, llm_attack_type, llm_severity, llm_data_compromised, llm_students_affected, created_at, updated_at`

type IncidentsStore interface {
	GetIncident(ctx context.Context, id string) (*Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error)
	CountIncidents(ctx context.Context) (int, error)
	FindIncidentsByURLs(ctx context.Context, urls []string) ([]Incident, error)

	// RegisterIncident writes a brand-new incident together with its
	// URL index, attribution, and idempotency row in one transaction.
	RegisterIncident(ctx context.Context, inc *Incident, attr SourceAttribution, ev SourceEvent) error

	// ApplyMerge rewrites the survivor with merged field values, moves
	// attributions and idempotency rows off the absorbed incidents,
	// deletes the absorbed rows, and records the contributing source —
	// all in one transaction.
	ApplyMerge(ctx context.Context, survivor *Incident, absorbedIDs []string, attr SourceAttribution, ev SourceEvent) error

	DeleteIncident(ctx context.Context, id string) error
	ListIncidentSources(ctx context.Context, incidentID string) ([]SourceAttribution, error)
}

type incidentsStore struct {
	db *sql.DB
}

func NewIncidentsStore(db *sql.DB) IncidentsStore {
	return &incidentsStore{db: db}
}

func (s *incidentsStore) GetIncident(ctx context.Context, id string) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE incident_id=?`, id)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return inc, err
}

func (s *incidentsStore) FindIncidentsByURLs(ctx context.Context, urls []string) ([]Incident, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(urls)), ",")
	args := make([]any, 0, len(urls))
	for _, u := range urls {
		args = append(args, u)
	}
	query := fmt.Sprintf(`
		SELECT DISTINCT %s FROM incidents
		WHERE incident_id IN (SELECT incident_id FROM incident_urls WHERE url IN (%s))
		ORDER BY created_at ASC, incident_id ASC`, incidentColumns, placeholders)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIncidents(rows)
}

func (s *incidentsStore) RegisterIncident(ctx context.Context, inc *Incident, attr SourceAttribution, ev SourceEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = now
	}
	inc.UpdatedAt = now
	if inc.IngestedAt.IsZero() {
		inc.IngestedAt = now
	}
	if strings.TrimSpace(inc.Status) == "" {
		inc.Status = StatusSuspected
	}
	if ConfidenceRank(inc.SourceConfidence) == 0 {
		inc.SourceConfidence = ConfidenceLow
	}
	if PrecisionRank(inc.DatePrecision) <= 1 {
		inc.DatePrecision = PrecisionUnknown
	}
	if err := insertIncidentTx(ctx, tx, inc); err != nil {
		tx.Rollback()
		return err
	}
	if err := replaceIncidentURLsTx(ctx, tx, inc.ID, inc.AllURLs); err != nil {
		tx.Rollback()
		return err
	}
	if err := insertAttributionTx(ctx, tx, attr); err != nil {
		tx.Rollback()
		return err
	}
	if err := insertSourceEventTx(ctx, tx, ev); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *incidentsStore) ApplyMerge(ctx context.Context, survivor *Incident, absorbedIDs []string, attr SourceAttribution, ev SourceEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	survivor.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, `
		UPDATE incidents SET university_name=?, normalized_name=?, institution_type=?, country=?, region=?, city=?, incident_date=?, date_precision=?, source_published_date=?, title=?, subtitle=?, all_urls=?, leak_site_url=?, source_detail_url=?, screenshot_url=?, attack_type_hint=?, status=?, source_confidence=?, notes=?, updated_at=?
		WHERE incident_id=?`,
		survivor.UniversityName, survivor.NormalizedName, survivor.InstitutionType, survivor.Country, survivor.Region, survivor.City, survivor.IncidentDate, survivor.DatePrecision, survivor.SourcePublishedDate, survivor.Title, survivor.Subtitle, urlsToJSON(survivor.AllURLs), survivor.LeakSiteURL, survivor.SourceDetailURL, survivor.ScreenshotURL, survivor.AttackTypeHint, survivor.Status, survivor.SourceConfidence, survivor.Notes, now, survivor.ID); err != nil {
		tx.Rollback()
		return err
	}
	if err := replaceIncidentURLsTx(ctx, tx, survivor.ID, survivor.AllURLs); err != nil {
		tx.Rollback()
		return err
	}
	if len(absorbedIDs) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(absorbedIDs)), ",")
		args := make([]any, 0, len(absorbedIDs)+1)
		args = append(args, survivor.ID)
		for _, id := range absorbedIDs {
			args = append(args, id)
		}
		// Idempotency rows survive the merge pointed at the survivor;
		// this is the only post-creation change a source_events row sees.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE source_events SET incident_id=? WHERE incident_id IN (%s)`, placeholders), args...); err != nil {
			tx.Rollback()
			return err
		}
		// Provenance moves to the survivor before the absorbed rows
		// cascade away. The NOT EXISTS is NULL-aware: the unique index
		// treats NULL source_event_ids as distinct, so ON CONFLICT alone
		// would let ID-less sources pile up duplicate rows.
		copyArgs := make([]any, 0, len(args)+1)
		copyArgs = append(copyArgs, args...)
		copyArgs = append(copyArgs, survivor.ID)
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO incident_sources(incident_id, source_name, source_event_id, source_confidence, first_seen_at)
			SELECT ?, a.source_name, a.source_event_id, a.source_confidence, a.first_seen_at
			FROM incident_sources a
			WHERE a.incident_id IN (%s)
			AND NOT EXISTS (
				SELECT 1 FROM incident_sources t
				WHERE t.incident_id = ?
				AND t.source_name = a.source_name
				AND (t.source_event_id = a.source_event_id
					OR (t.source_event_id IS NULL AND a.source_event_id IS NULL))
			)
			ON CONFLICT DO NOTHING`, placeholders), copyArgs...); err != nil {
			tx.Rollback()
			return err
		}
		delArgs := args[1:]
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM incidents WHERE incident_id IN (%s)`, placeholders), delArgs...); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := insertAttributionTx(ctx, tx, attr); err != nil {
		tx.Rollback()
		return err
	}
	if err := insertSourceEventTx(ctx, tx, ev); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *incidentsStore) DeleteIncident(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM source_events WHERE incident_id=?`, id); err != nil {
		tx.Rollback()
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM incidents WHERE incident_id=?`, id)
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

func (s *incidentsStore) ListIncidentSources(ctx context.Context, incidentID string) ([]SourceAttribution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, source_name, source_event_id, source_confidence, first_seen_at
		FROM incident_sources WHERE incident_id=? ORDER BY first_seen_at ASC, id ASC`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []SourceAttribution
	for rows.Next() {
		var a SourceAttribution
		var eventID sql.NullString
		if err := rows.Scan(&a.ID, &a.IncidentID, &a.SourceName, &eventID, &a.SourceConfidence, &a.FirstSeenAt); err != nil {
			return nil, err
		}
		if eventID.Valid {
			v := eventID.String
			a.SourceEventID = &v
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (s *incidentsStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error) {
	var clauses []string
	var args []any
	if filter.Source != "" {
		clauses = append(clauses, "source=?")
		args = append(args, filter.Source)
	}
	if filter.Country != "" {
		clauses = append(clauses, "country=?")
		args = append(args, filter.Country)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, filter.Status)
	}
	if filter.Enriched != nil {
		clauses = append(clauses, "enriched=?")
		args = append(args, boolToInt(*filter.Enriched))
	}
	if filter.Search != "" {
		clauses = append(clauses, "(university_name LIKE ? OR title LIKE ? OR notes LIKE ?)")
		q := "%" + filter.Search + "%"
		args = append(args, q, q, q)
	}
	if filter.DateFrom != "" {
		clauses = append(clauses, "incident_date>=?")
		args = append(args, filter.DateFrom)
	}
	if filter.DateTo != "" {
		clauses = append(clauses, "incident_date<=?")
		args = append(args, filter.DateTo)
	}
	query := `SELECT ` + incidentColumns + ` FROM incidents`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY incident_date DESC, created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIncidents(rows)
}

func (s *incidentsStore) CountIncidents(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM incidents`).Scan(&n)
	return n, err
}

func insertIncidentTx(ctx context.Context, tx *sql.Tx, inc *Incident) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO incidents(`+incidentColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		inc.ID, inc.Source, inc.SourceEventID, inc.UniversityName, inc.NormalizedName, inc.InstitutionType, inc.Country, inc.Region, inc.City, inc.IncidentDate, inc.DatePrecision, inc.SourcePublishedDate, inc.IngestedAt, inc.Title, inc.Subtitle, inc.PrimaryURL, urlsToJSON(inc.AllURLs), inc.LeakSiteURL, inc.SourceDetailURL, inc.ScreenshotURL, inc.AttackTypeHint, inc.Status, inc.SourceConfidence, inc.Notes, boolToInt(inc.Enriched), nullableTime(inc.EnrichedAt), boolToInt(inc.EnrichmentSkipped), inc.LLMSummary, inc.LLMAttackType, inc.LLMSeverity, inc.LLMDataCompromised, nullableInt64(inc.LLMStudentsAffected), inc.CreatedAt, inc.UpdatedAt)
	return err
}

func replaceIncidentURLsTx(ctx context.Context, tx *sql.Tx, incidentID string, urls []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM incident_urls WHERE incident_id=?`, incidentID); err != nil {
		return err
	}
	for _, u := range urls {
		if strings.TrimSpace(u) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO incident_urls(incident_id, url) VALUES(?,?) ON CONFLICT DO NOTHING`, incidentID, u); err != nil {
			return err
		}
	}
	return nil
}

func insertAttributionTx(ctx context.Context, tx *sql.Tx, attr SourceAttribution) error {
	first := attr.FirstSeenAt
	if first.IsZero() {
		first = time.Now().UTC()
	}
	// ID-less sources fold into a single NULL row per incident; the
	// unique index cannot enforce that because NULLs compare distinct.
	if attr.SourceEventID == nil {
		var exists int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(1) FROM incident_sources
			WHERE incident_id=? AND source_name=? AND source_event_id IS NULL`,
			attr.IncidentID, attr.SourceName).Scan(&exists)
		if err != nil {
			return err
		}
		if exists > 0 {
			return nil
		}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO incident_sources(incident_id, source_name, source_event_id, source_confidence, first_seen_at)
		VALUES(?,?,?,?,?) ON CONFLICT DO NOTHING`,
		attr.IncidentID, attr.SourceName, nullableStringPtr(attr.SourceEventID), attr.SourceConfidence, first)
	return err
}

func insertSourceEventTx(ctx context.Context, tx *sql.Tx, ev SourceEvent) error {
	first := ev.FirstSeenAt
	if first.IsZero() {
		first = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO source_events(source_name, source_event_id, incident_id, first_seen_at)
		VALUES(?,?,?,?) ON CONFLICT DO NOTHING`,
		ev.SourceName, ev.SourceEventID, ev.IncidentID, first)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*Incident, error) {
	var inc Incident
	var allURLs string
	var enriched, skipped int
	var enrichedAt sql.NullTime
	var students sql.NullInt64
	err := row.Scan(&inc.ID, &inc.Source, &inc.SourceEventID, &inc.UniversityName, &inc.NormalizedName, &inc.InstitutionType, &inc.Country, &inc.Region, &inc.City, &inc.IncidentDate, &inc.DatePrecision, &inc.SourcePublishedDate, &inc.IngestedAt, &inc.Title, &inc.Subtitle, &inc.PrimaryURL, &allURLs, &inc.LeakSiteURL, &inc.SourceDetailURL, &inc.ScreenshotURL, &inc.AttackTypeHint, &inc.Status, &inc.SourceConfidence, &inc.Notes, &enriched, &enrichedAt, &skipped, &inc.LLMSummary, &inc.LLMAttackType, &inc.LLMSeverity, &inc.LLMDataCompromised, &students, &inc.CreatedAt, &inc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inc.AllURLs = parseURLList(allURLs)
	inc.Enriched = enriched != 0
	inc.EnrichmentSkipped = skipped != 0
	if enrichedAt.Valid {
		t := enrichedAt.Time
		inc.EnrichedAt = &t
	}
	if students.Valid {
		v := students.Int64
		inc.LLMStudentsAffected = &v
	}
	return &inc, nil
}

func collectIncidents(rows *sql.Rows) ([]Incident, error) {
	var res []Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *inc)
	}
	return res, rows.Err()
}
