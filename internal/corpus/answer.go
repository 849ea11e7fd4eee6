package corpus

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/ed-forum-harvester/internal/forum"
)

// NoAnswers is recorded for threads without any answer.
const NoAnswers = "No answers available"

// AnswerData is either a single answer text or an ordered list of texts.
type AnswerData struct {
	text     string
	texts    []string
	sequence bool
}

// Scalar wraps a single answer text.
func Scalar(text string) AnswerData {
	return AnswerData{text: text}
}

// Sequence wraps several answer texts, preserving order.
func Sequence(texts []string) AnswerData {
	return AnswerData{texts: append([]string(nil), texts...), sequence: true}
}

// Collapse maps a thread's answers onto AnswerData: none becomes the NoAnswers
// sentinel, one becomes a scalar and more stay a sequence.
func Collapse(answers []forum.Answer) AnswerData {
	switch len(answers) {
	case 0:
		return Scalar(NoAnswers)
	case 1:
		return Scalar(answers[0].Document)
	default:
		texts := make([]string, len(answers))
		for i, a := range answers {
			texts[i] = a.Document
		}
		return AnswerData{texts: texts, sequence: true}
	}
}

// IsSequence reports whether the value holds a list of texts.
func (a AnswerData) IsSequence() bool {
	return a.sequence
}

// Text returns the scalar text; it is empty for sequences.
func (a AnswerData) Text() string {
	return a.text
}

// Texts returns every answer text, one element for scalars.
func (a AnswerData) Texts() []string {
	if a.sequence {
		return append([]string(nil), a.texts...)
	}
	return []string{a.text}
}

// MarshalJSON encodes a scalar as a string and a sequence as an array.
func (a AnswerData) MarshalJSON() ([]byte, error) {
	if a.sequence {
		texts := a.texts
		if texts == nil {
			texts = []string{}
		}
		return marshalRaw(texts)
	}
	return marshalRaw(a.text)
}

// UnmarshalJSON accepts either a string or an array of strings.
func (a *AnswerData) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var texts []string
		if err := json.Unmarshal(trimmed, &texts); err != nil {
			return fmt.Errorf("decode answer list: %w", err)
		}
		*a = AnswerData{texts: texts, sequence: true}
		return nil
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	*a = Scalar(text)
	return nil
}

// marshalRaw encodes v without HTML escaping so the corpus keeps its text verbatim.
func marshalRaw(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
