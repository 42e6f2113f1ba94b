package memorycore

import (
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
)

func payloadToMap(p Payload) map[string]any {
	m := map[string]any{
		"org_id":     p.OrgID,
		"agent_id":   p.AgentID,
		"user_id":    p.UserID,
		"scope":      p.Scope,
		"ttl_days":   int64(p.TTLDays),
		"created_at": p.CreatedAt,
		"updated_at": p.UpdatedAt,
		"deleted":    p.Deleted,
		"text":       p.Text,
	}
	if len(p.Tags) > 0 {
		m["tags"] = p.Tags
	}
	if p.Source != "" {
		m["source"] = p.Source
	}
	if p.DedupeHash != "" {
		m["dedupe_hash"] = p.DedupeHash
	}
	return m
}

func payloadFromMap(m map[string]any) Payload {
	return Payload{
		OrgID:      stringField(m, "org_id"),
		AgentID:    stringField(m, "agent_id"),
		UserID:     stringField(m, "user_id"),
		Scope:      stringField(m, "scope"),
		Tags:       stringSliceField(m, "tags"),
		Source:     stringField(m, "source"),
		TTLDays:    intField(m, "ttl_days"),
		CreatedAt:  timeField(m, "created_at"),
		UpdatedAt:  timeField(m, "updated_at"),
		Deleted:    boolField(m, "deleted"),
		Text:       stringField(m, "text"),
		DedupeHash: stringField(m, "dedupe_hash"),
	}
}

func pointFromRecord(r Record) vectorstore.Point {
	return vectorstore.Point{ID: r.ID, Vector: r.Vector, Payload: payloadToMap(r.Payload)}
}

func recordFromPoint(p vectorstore.Point) Record {
	payload := payloadFromMap(p.Payload)
	return Record{ID: p.ID, Text: payload.Text, Payload: payload, Vector: p.Vector}
}

func recordsFromPoints(points []vectorstore.Point) []Record {
	records := make([]Record, 0, len(points))
	for _, p := range points {
		records = append(records, recordFromPoint(p))
	}
	return records
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func boolField(m map[string]any, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func timeField(m map[string]any, key string) time.Time {
	if v, ok := m[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func stringSliceField(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
