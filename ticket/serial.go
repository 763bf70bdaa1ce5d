package ticket

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes properties as an ordered array of name/value pairs.
func (p Properties) MarshalJSON() ([]byte, error) {
	if p.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p.entries)
}

// UnmarshalJSON decodes the array form produced by MarshalJSON.
func (p *Properties) UnmarshalJSON(b []byte) error {
	var entries []propEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		return err
	}
	p.entries = entries
	return nil
}

// Marshal serializes the ticket for protection by an opaque token format.
func (t *Ticket) Marshal() ([]byte, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshaling ticket: %w", err)
	}
	return b, nil
}

// Unmarshal reverses Marshal.
func Unmarshal(data []byte) (*Ticket, error) {
	t := &Ticket{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("unmarshaling ticket: %w", err)
	}
	return t, nil
}
