package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/safecity/platform/internal/shared/types"
)

// canonicalJSON produces deterministic JSON output with sorted map keys.
// Go maps have random iteration order and PostgreSQL JSONB may reorder
// keys, so hashing must go through a canonical form.
func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}

	return canonicalMarshal(parsed)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, _ := json.Marshal(k)
			buf.Write(keyBytes)
			buf.WriteByte(':')
			valBytes, err := canonicalMarshal(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(valBytes)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil

	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			itemBytes, err := canonicalMarshal(item)
			if err != nil {
				return nil, err
			}
			buf.Write(itemBytes)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil

	default:
		return json.Marshal(val)
	}
}

// Entry represents an immutable audit log entry. Entries form a hash
// chain: each entry's hash covers its content plus the previous entry's
// hash, so removing or editing any entry breaks every later link.
type Entry struct {
	ID       types.ID `json:"id"`
	Sequence int64    `json:"sequence"`

	EventType   string         `json:"event_type"`
	ActorID     types.ID       `json:"actor_id,omitempty"`
	SubjectType string         `json:"subject_type"`
	SubjectID   types.ID       `json:"subject_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`

	PrevHash   string    `json:"prev_hash"`
	Hash       string    `json:"hash"`
	RecordedAt time.Time `json:"recorded_at"`
}

// NewEntry creates an audit entry. The hash is finalized by the
// repository once the previous link is known.
func NewEntry(eventType string, actorID types.ID, subjectType string, subjectID types.ID, payload map[string]any) *Entry {
	// Truncate to microseconds so the timestamp round-trips through
	// PostgreSQL without changing the hash input.
	return &Entry{
		ID:          types.NewID(),
		EventType:   eventType,
		ActorID:     actorID,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Payload:     payload,
		RecordedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
}

// calculateHash computes the SHA-256 hash over the entry content and
// the previous link, using canonical JSON and UTC timestamps.
func (e *Entry) calculateHash() string {
	data := map[string]any{
		"id":           e.ID,
		"event_type":   e.EventType,
		"subject_type": e.SubjectType,
		"prev_hash":    e.PrevHash,
		"recorded_at":  e.RecordedAt.UTC().Format(time.RFC3339Nano),
	}

	if !e.ActorID.IsZero() {
		data["actor_id"] = e.ActorID
	}
	if !e.SubjectID.IsZero() {
		data["subject_id"] = e.SubjectID
	}
	if len(e.Payload) > 0 {
		data["payload"] = e.Payload
	}

	jsonData, _ := canonicalJSON(data)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}

// VerifyHash reports whether the stored hash matches the entry content
func (e *Entry) VerifyHash() bool {
	return e.Hash == e.calculateHash()
}

// ComputeHash returns the correct hash for this entry
func (e *Entry) ComputeHash() string {
	return e.calculateHash()
}

// ListFilter defines filters for listing audit entries
type ListFilter struct {
	EventType   string     `json:"event_type,omitempty"`
	ActorID     *types.ID  `json:"actor_id,omitempty"`
	SubjectType string     `json:"subject_type,omitempty"`
	SubjectID   *types.ID  `json:"subject_id,omitempty"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Limit       int        `json:"limit,omitempty"`
	Offset      int        `json:"offset,omitempty"`
}
