// Package corpus models the harvested question/answer dataset and its JSON
// document form.
package corpus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Entry is one question with its collapsed answers. It encodes as a
// two-element JSON array.
type Entry struct {
	Question string
	Answer   AnswerData
}

// MarshalJSON encodes the entry as [question, answer].
func (e Entry) MarshalJSON() ([]byte, error) {
	q, err := marshalRaw(e.Question)
	if err != nil {
		return nil, err
	}
	a, err := e.Answer.MarshalJSON()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(q)+len(a)+3)
	out = append(out, '[')
	out = append(out, q...)
	out = append(out, ',')
	out = append(out, a...)
	return append(out, ']'), nil
}

// UnmarshalJSON decodes a [question, answer] pair.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decode entry: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("entry must have 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &e.Question); err != nil {
		return fmt.Errorf("decode question: %w", err)
	}
	return e.Answer.UnmarshalJSON(pair[1])
}

// Corpus maps course names to their entries, remembering the order in which
// courses were first added. Values are immutable: With returns a new Corpus.
type Corpus struct {
	order   []string
	entries map[string][]Entry
}

// New returns an empty Corpus.
func New() Corpus {
	return Corpus{entries: map[string][]Entry{}}
}

// With returns a copy of c where course maps to entries. A course that is
// already present keeps its position and has its entries replaced.
func (c Corpus) With(course string, entries []Entry) Corpus {
	next := Corpus{
		order:   append([]string(nil), c.order...),
		entries: make(map[string][]Entry, len(c.entries)+1),
	}
	for k, v := range c.entries {
		next.entries[k] = v
	}
	if _, ok := next.entries[course]; !ok {
		next.order = append(next.order, course)
	}
	copied := make([]Entry, len(entries))
	copy(copied, entries)
	next.entries[course] = copied
	return next
}

// Courses returns the course names in insertion order.
func (c Corpus) Courses() []string {
	return append([]string(nil), c.order...)
}

// Entries returns the entries recorded for course.
func (c Corpus) Entries(course string) ([]Entry, bool) {
	entries, ok := c.entries[course]
	if !ok {
		return nil, false
	}
	return append([]Entry(nil), entries...), true
}

// Len returns the number of courses.
func (c Corpus) Len() int {
	return len(c.order)
}

// EntryCount returns the number of entries across all courses.
func (c Corpus) EntryCount() int {
	total := 0
	for _, entries := range c.entries {
		total += len(entries)
	}
	return total
}

// MarshalJSON encodes the corpus as an object whose keys follow insertion order.
func (c Corpus) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, course := range c.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshalRaw(course)
		if err != nil {
			return nil, fmt.Errorf("encode course name: %w", err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		entries := c.entries[course]
		if entries == nil {
			entries = []Entry{}
		}
		value, err := marshalRaw(entries)
		if err != nil {
			return nil, fmt.Errorf("encode course %q: %w", course, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object of course -> entries, keeping key order.
func (c *Corpus) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode corpus: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("decode corpus: expected object")
	}
	out := New()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode corpus key: %w", err)
		}
		course, ok := tok.(string)
		if !ok {
			return fmt.Errorf("decode corpus: unexpected key %v", tok)
		}
		var entries []Entry
		if err := dec.Decode(&entries); err != nil {
			return fmt.Errorf("decode course %q: %w", course, err)
		}
		out = out.With(course, entries)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decode corpus: %w", err)
	}
	*c = out
	return nil
}

// Encode writes the corpus as indented JSON with HTML characters unescaped.
func Encode(w io.Writer, c Corpus) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", strings.Repeat(" ", 4))
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode corpus: %w", err)
	}
	return nil
}

// Decode reads a corpus written by Encode.
func Decode(r io.Reader) (Corpus, error) {
	var c Corpus
	data, err := io.ReadAll(r)
	if err != nil {
		return Corpus{}, fmt.Errorf("read corpus: %w", err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return Corpus{}, err
	}
	return c, nil
}
