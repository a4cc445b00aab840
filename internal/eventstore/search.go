package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coreagent/runtime/internal/domain"
)

// extractSearchText derives the indexable text for an event, type by
// type, the way goclaw's transcript indexer turns a chunk's structured
// content into a flat string before it reaches FTS5.
func extractSearchText(eventType domain.EventType, payload []byte) string {
	switch eventType {
	case domain.EventMessageUser:
		var p domain.MessageUserPayload
		if err := json.Unmarshal(payload, &p); err == nil {
			return p.Content
		}
	case domain.EventMessageAssistant:
		var p domain.MessageAssistantPayload
		if err := json.Unmarshal(payload, &p); err == nil {
			var parts []string
			for _, b := range p.Content {
				if b.Text != "" {
					parts = append(parts, b.Text)
				}
			}
			return strings.Join(parts, "\n")
		}
	case domain.EventToolCall:
		var p domain.ToolCallPayload
		if err := json.Unmarshal(payload, &p); err == nil {
			args, _ := json.Marshal(p.Arguments)
			return p.Name + " " + string(args)
		}
	case domain.EventToolResult:
		var p domain.ToolResultPayload
		if err := json.Unmarshal(payload, &p); err == nil {
			return p.Result
		}
	case domain.EventLog:
		var p domain.LogPayload
		if err := json.Unmarshal(payload, &p); err == nil {
			return p.Message
		}
	case domain.EventSessionEnd:
		var p domain.SessionEndPayload
		if err := json.Unmarshal(payload, &p); err == nil {
			return p.Reason
		}
	}
	return ""
}

// SearchFilters narrows SearchEvents to a workspace, session, and/or event type.
type SearchFilters struct {
	WorkspaceID string
	SessionID   string
	Type        domain.EventType
}

// SearchHit is one ranked result from SearchEvents.
type SearchHit struct {
	EventID string
	Snippet string
	Score   float64
}

// IndexEventForSearch recomputes and overwrites the search index entry
// for an existing event, e.g. after a manual reindex.
func (s *Store) IndexEventForSearch(ctx context.Context, eventID string) error {
	ev, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("load event: %w", err)
	}
	text := extractSearchText(ev.Type, ev.Payload)
	_, err = s.db.ExecContext(ctx, `UPDATE events SET search_text = ? WHERE id = ?`, text, eventID)
	if err != nil {
		return fmt.Errorf("reindex event: %w", err)
	}
	return nil
}

// SearchEvents runs a tokenized full-text query over indexed events,
// optionally filtered by workspace, session, and/or type, returning a
// bm25-ranked id list with snippets.
func (s *Store) SearchEvents(ctx context.Context, query string, filters SearchFilters, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	where := []string{"events_fts MATCH ?"}
	args := []any{ftsQuery}
	if filters.WorkspaceID != "" {
		where = append(where, "workspace_id = ?")
		args = append(args, filters.WorkspaceID)
	}
	if filters.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, filters.SessionID)
	}
	if filters.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filters.Type))
	}
	args = append(args, limit)

	sqlQuery := fmt.Sprintf(`
		SELECT id, snippet(events_fts, 0, '[', ']', '...', 8), bm25(events_fts) AS rank
		FROM events_fts
		WHERE %s
		ORDER BY rank
		LIMIT ?`, strings.Join(where, " AND "))

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		var rank float64
		if err := rows.Scan(&h.EventID, &h.Snippet, &rank); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		// bm25 returns more-negative-is-better; fold into a 0..1 score.
		h.Score = 1.0 / (1.0 + absFloat(rank))
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// buildFTSQuery normalizes free text into an FTS5 prefix-match query,
// stripping characters that would otherwise break the MATCH syntax.
func buildFTSQuery(query string) string {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return ""
	}
	var parts []string
	for _, w := range words {
		cleaned := strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				return r
			}
			return -1
		}, w)
		if cleaned != "" {
			parts = append(parts, cleaned+"*")
		}
	}
	return strings.Join(parts, " ")
}
