package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// SourceState is the per-source watermark row: the most recent item
// date this source has fully consolidated through.
type SourceState struct {
	SourceName  string    `json:"source_name"`
	LastPubdate string    `json:"last_pubdate"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type SourcesStore interface {
	GetSourceEvent(ctx context.Context, sourceName, sourceEventID string) (*SourceEvent, error)
	ListSourceEvents(ctx context.Context, incidentID string) ([]SourceEvent, error)

	// Watermark returns the stored value and false when the source has
	// never completed a run.
	Watermark(ctx context.Context, sourceName string) (string, bool, error)

	// AdvanceWatermark moves the watermark to the max of the stored
	// value and observed dates. It never regresses.
	AdvanceWatermark(ctx context.Context, sourceName string, observedDates []string) error

	ListSourceStates(ctx context.Context) ([]SourceState, error)
}

type sourcesStore struct {
	db *sql.DB
}

func NewSourcesStore(db *sql.DB) SourcesStore {
	return &sourcesStore{db: db}
}

func (s *sourcesStore) GetSourceEvent(ctx context.Context, sourceName, sourceEventID string) (*SourceEvent, error) {
	var ev SourceEvent
	err := s.db.QueryRowContext(ctx, `
		SELECT source_name, source_event_id, incident_id, first_seen_at
		FROM source_events WHERE source_name=? AND source_event_id=?`,
		sourceName, sourceEventID).Scan(&ev.SourceName, &ev.SourceEventID, &ev.IncidentID, &ev.FirstSeenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *sourcesStore) ListSourceEvents(ctx context.Context, incidentID string) ([]SourceEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_name, source_event_id, incident_id, first_seen_at
		FROM source_events WHERE incident_id=? ORDER BY first_seen_at ASC`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []SourceEvent
	for rows.Next() {
		var ev SourceEvent
		if err := rows.Scan(&ev.SourceName, &ev.SourceEventID, &ev.IncidentID, &ev.FirstSeenAt); err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (s *sourcesStore) Watermark(ctx context.Context, sourceName string) (string, bool, error) {
	var last string
	err := s.db.QueryRowContext(ctx, `SELECT last_pubdate FROM source_state WHERE source_name=?`, sourceName).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if strings.TrimSpace(last) == "" {
		return "", false, nil
	}
	return last, true, nil
}

func (s *sourcesStore) AdvanceWatermark(ctx context.Context, sourceName string, observedDates []string) error {
	maxDate := ""
	for _, d := range observedDates {
		d = strings.TrimSpace(d)
		if d > maxDate {
			maxDate = d
		}
	}
	if maxDate == "" {
		return nil
	}
	now := time.Now().UTC()
	// ISO dates compare lexically, so the greater string keeps the
	// guard monotone. CASE instead of two-argument MAX, which sqlite
	// has but postgres spells GREATEST.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_state(source_name, last_pubdate, updated_at) VALUES(?,?,?)
		ON CONFLICT(source_name) DO UPDATE SET
			last_pubdate=CASE WHEN excluded.last_pubdate > source_state.last_pubdate THEN excluded.last_pubdate ELSE source_state.last_pubdate END,
			updated_at=excluded.updated_at`,
		sourceName, maxDate, now)
	return err
}

func (s *sourcesStore) ListSourceStates(ctx context.Context) ([]SourceState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_name, last_pubdate, updated_at FROM source_state ORDER BY source_name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []SourceState
	for rows.Next() {
		var st SourceState
		if err := rows.Scan(&st.SourceName, &st.LastPubdate, &st.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}
