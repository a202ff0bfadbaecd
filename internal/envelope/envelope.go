// Package envelope defines the custom message exchanged on the custom
// channels and the counter that numbers them.
package envelope

import (
	"fmt"
	"sync/atomic"

	"github.com/drblury/cloudmesh/internal/runtime/jsoncodec"
)

// Message is the custom message envelope. The zero value carries the
// defaults: index 0 and empty type and content.
type Message struct {
	Index   int    `json:"index"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// New returns an envelope with default values.
func New() Message {
	return Message{}
}

func (m Message) String() string {
	return fmt.Sprintf("CustomMessage(index=%d, type=%s, content=%s)", m.Index, m.Type, m.Content)
}

// Encode renders m as JSON.
func Encode(m Message) ([]byte, error) {
	return jsoncodec.Marshal(m)
}

// Decode parses a JSON envelope. Missing fields keep their defaults.
func Decode(data []byte) (Message, error) {
	m := New()
	if err := jsoncodec.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}
	return m, nil
}

// Sequence hands out envelope indices 1, 2, 3, ... It is safe for concurrent use.
type Sequence struct {
	n atomic.Int64
}

// Next returns the next index.
func (s *Sequence) Next() int {
	return int(s.n.Add(1))
}

// Current returns the last index handed out, 0 before the first call to Next.
func (s *Sequence) Current() int {
	return int(s.n.Load())
}
