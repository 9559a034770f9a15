package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// QuestionFigureMap maps question numbers to figure filenames.
// Keys keep first-insertion order and each value list is de-duplicated.
// A question with no linked figures has no key at all.
type QuestionFigureMap struct {
	order []int
	links map[int][]string
}

// NewQuestionFigureMap returns an empty map.
func NewQuestionFigureMap() *QuestionFigureMap {
	return &QuestionFigureMap{links: make(map[int][]string)}
}

// Add links filename to question. Repeated pairs are ignored.
func (m *QuestionFigureMap) Add(question int, filename string) {
	if m.links == nil {
		m.links = make(map[int][]string)
	}
	existing, ok := m.links[question]
	if !ok {
		m.order = append(m.order, question)
	}
	for _, f := range existing {
		if f == filename {
			return
		}
	}
	m.links[question] = append(existing, filename)
}

// Get returns the filenames linked to question and whether the key exists.
func (m *QuestionFigureMap) Get(question int) ([]string, bool) {
	if m == nil || m.links == nil {
		return nil, false
	}
	files, ok := m.links[question]
	return files, ok
}

// Questions returns the keys in insertion order.
func (m *QuestionFigureMap) Questions() []int {
	if m == nil {
		return nil
	}
	out := make([]int, len(m.order))
	copy(out, m.order)
	return out
}

// Len returns the number of questions with at least one figure.
func (m *QuestionFigureMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.order)
}

// MarshalJSON writes {"N": [...]} with keys as decimal strings in insertion order.
func (m *QuestionFigureMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if m != nil {
		for i, q := range m.order {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, _ := json.Marshal(strconv.Itoa(q))
			buf.Write(key)
			buf.WriteByte(':')
			val, err := json.Marshal(m.links[q])
			if err != nil {
				return nil, err
			}
			buf.Write(val)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the layout written by MarshalJSON. Key order of the
// input is not recoverable through encoding/json, so keys are restored in
// ascending numeric order.
func (m *QuestionFigureMap) UnmarshalJSON(data []byte) error {
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	keys := make([]int, 0, len(raw))
	for k := range raw {
		n, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("question key %q: %w", k, err)
		}
		keys = append(keys, n)
	}
	sort.Ints(keys)

	*m = QuestionFigureMap{links: make(map[int][]string, len(keys))}
	for _, k := range keys {
		for _, f := range raw[strconv.Itoa(k)] {
			m.Add(k, f)
		}
	}
	return nil
}
