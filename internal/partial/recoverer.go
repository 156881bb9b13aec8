package partial

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
)

var (
	// ErrEmptySnapshot is returned by Decode when nothing has been recovered yet.
	ErrEmptySnapshot = errors.New("snapshot has no fields")

	// ErrIncomplete is returned by Parse when the buffer is not a complete
	// JSON object.
	ErrIncomplete = errors.New("buffer is not a complete JSON object")
)

// Snapshot is the most recent successfully parsed view of the buffer.
type Snapshot struct {
	// Fields maps each top-level key to its raw JSON value.
	Fields map[string]json.RawMessage

	// FieldNames lists keys in the order they were first seen.
	FieldNames []string
}

// Empty reports whether the snapshot has no fields.
func (s Snapshot) Empty() bool {
	return len(s.FieldNames) == 0
}

// Has reports whether name has been recovered.
func (s Snapshot) Has(name string) bool {
	_, ok := s.Fields[name]
	return ok
}

// JSON renders the snapshot as a JSON object with keys in first-seen order.
func (s Snapshot) JSON() []byte {
	var b strings.Builder
	b.WriteByte('{')
	for i, name := range s.FieldNames {
		if i > 0 {
			b.WriteByte(',')
		}
		key, _ := json.Marshal(name)
		b.Write(key)
		b.WriteByte(':')
		b.Write(s.Fields[name])
	}
	b.WriteByte('}')
	return []byte(b.String())
}

// Decode unmarshals the snapshot into v.
func (s Snapshot) Decode(v any) error {
	if s.Empty() {
		return ErrEmptySnapshot
	}
	return json.Unmarshal(s.JSON(), v)
}

func (s Snapshot) clone() Snapshot {
	c := Snapshot{
		Fields:     make(map[string]json.RawMessage, len(s.Fields)),
		FieldNames: append([]string(nil), s.FieldNames...),
	}
	for k, v := range s.Fields {
		c.Fields[k] = v
	}
	return c
}

// Recoverer tracks one growing buffer. It is not safe for concurrent use;
// create one per stream.
type Recoverer struct {
	current  Snapshot
	notified int
}

// NewRecoverer returns a Recoverer with an empty snapshot.
func NewRecoverer() *Recoverer {
	return &Recoverer{
		current: Snapshot{Fields: make(map[string]json.RawMessage)},
	}
}

// Feed parses the cumulative buffer. It returns the current snapshot and
// true only when the set of field names grew since the last notification.
// Parse failures are absorbed: the previous snapshot stays current.
func (r *Recoverer) Feed(buffer string) (Snapshot, bool) {
	fields, ok := parse(buffer)
	if !ok {
		return r.current.clone(), false
	}

	for _, f := range fields {
		if _, seen := r.current.Fields[f.name]; !seen {
			r.current.FieldNames = append(r.current.FieldNames, f.name)
		}
		r.current.Fields[f.name] = f.value
	}

	if len(r.current.FieldNames) > r.notified {
		r.notified = len(r.current.FieldNames)
		return r.current.clone(), true
	}
	return r.current.clone(), false
}

// Current returns the latest snapshot without feeding anything.
func (r *Recoverer) Current() Snapshot {
	return r.current.clone()
}

// Parse strictly decodes a finished buffer. Unlike Feed it never repairs:
// a truncated or malformed document yields ErrIncomplete. A surrounding
// code fence is tolerated.
func Parse(buffer string) (Snapshot, error) {
	text := strings.TrimSpace(stripFence(buffer))
	if !isValidObject(text) {
		return Snapshot{}, ErrIncomplete
	}
	fields, ok := decodeObject(text)
	if !ok {
		return Snapshot{}, ErrIncomplete
	}

	snap := Snapshot{Fields: make(map[string]json.RawMessage, len(fields))}
	for _, f := range fields {
		if _, seen := snap.Fields[f.name]; !seen {
			snap.FieldNames = append(snap.FieldNames, f.name)
		}
		snap.Fields[f.name] = f.value
	}
	return snap, nil
}

type field struct {
	name  string
	value json.RawMessage
}

func parse(buffer string) ([]field, bool) {
	text := strings.TrimSpace(stripFence(buffer))
	if text == "" {
		return nil, false
	}

	if isValidObject(text) {
		return decodeObject(text)
	}

	repaired, ok := repair(text)
	if !ok || !isValidObject(repaired) {
		return nil, false
	}
	return decodeObject(repaired)
}

func isValidObject(text string) bool {
	text = strings.TrimSpace(text)
	return strings.HasPrefix(text, "{") && json.Valid([]byte(text))
}

// decodeObject walks a valid JSON object and returns its top-level members
// in document order.
func decodeObject(text string) ([]field, bool) {
	dec := json.NewDecoder(strings.NewReader(text))

	tok, err := dec.Token()
	if err != nil {
		return nil, false
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, false
	}

	var fields []field
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, false
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, false
		}
		fields = append(fields, field{name: key, value: raw})
	}

	if _, err := dec.Token(); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}
	return fields, true
}
