package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxBatchEntries is the hard cap on inner messages per batch at ingress.
// A batch exceeding this is rejected wholesale by the security gate. The
// cap is deliberately not part of Validate: senders may accumulate more
// under their own flush cap, and the ingress rule belongs to the gate.
const MaxBatchEntries = 50

// ErrBatchTooLarge indicates a batch exceeded MaxBatchEntries at ingress.
var ErrBatchTooLarge = fmt.Errorf("%w: batch entries", ErrOutOfRange)

// Batch carries several independently-validated serialized messages to
// amortize I/O overhead. The Messages field holds pre-serialized JSON
// strings, each itself a complete inner message.
type Batch struct {
	Kind      string   `json:"type"`
	Messages  []string `json:"messages"`
	Count     int      `json:"count"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

// NewBatch wraps pre-serialized inner messages into a batch.
func NewBatch(serialized []string) *Batch {
	return &Batch{
		Kind:      TypeBatch,
		Messages:  serialized,
		Count:     len(serialized),
		Timestamp: time.Now().Unix(),
	}
}

// Type returns the message type tag.
func (m *Batch) Type() string { return TypeBatch }

// Validate checks the entry count against the declared count and the hard
// cap. Inner entries are NOT validated here; receivers must explode the
// batch and validate each entry independently.
func (m *Batch) Validate() error {
	if m.Kind != TypeBatch {
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Kind)
	}
	if len(m.Messages) == 0 {
		return fmt.Errorf("%w: batch", ErrEmptyMessage)
	}
	if m.Count != len(m.Messages) {
		return fmt.Errorf("%w: count %d != %d entries", ErrOutOfRange, m.Count, len(m.Messages))
	}
	return nil
}

// Explode decodes every inner entry of a batch. Entries that fail to decode
// or validate are returned in the second slice as errors, positionally
// matching nothing; valid messages come back in send order. A batch failing
// its own Validate returns an error and no messages.
func (m *Batch) Explode() ([]Message, []error, error) {
	if err := m.Validate(); err != nil {
		return nil, nil, err
	}

	msgs := make([]Message, 0, len(m.Messages))
	var bad []error
	for i, raw := range m.Messages {
		inner, err := Decode([]byte(raw))
		if err != nil {
			bad = append(bad, fmt.Errorf("batch entry %d: %w", i, err))
			continue
		}
		if _, nested := inner.(*Batch); nested {
			// Nested batches are not allowed.
			bad = append(bad, fmt.Errorf("batch entry %d: %w", i, ErrUnknownType))
			continue
		}
		msgs = append(msgs, inner)
	}
	return msgs, bad, nil
}

// typeProbe extracts just the "type" field for dispatch.
type typeProbe struct {
	Kind string `json:"type"`
}

// PeekType returns the "type" field of a JSON-encoded message without
// decoding the full object.
func PeekType(data []byte) (string, error) {
	var p typeProbe
	if err := json.Unmarshal(data, &p); err != nil {
		return "", fmt.Errorf("malformed frame: %w", err)
	}
	if p.Kind == "" {
		return "", ErrUnknownType
	}
	return p.Kind, nil
}
