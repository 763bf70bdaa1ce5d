package message

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// frameVersion is the only serialization version written or understood.
const frameVersion = 1

// Marshal serializes the message parameters as a versioned binary frame:
// a one-byte version, a uvarint parameter count, then for each parameter
// a length-prefixed UTF-8 name and value. The kind is not serialized; the
// cache keyspace implies it.
func (m *Message) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(frameVersion)

	var scratch [binary.MaxVarintLen64]byte
	writeUvarint := func(v uint64) {
		n := binary.PutUvarint(scratch[:], v)
		buf.Write(scratch[:n])
	}
	writeString := func(s string) {
		writeUvarint(uint64(len(s)))
		buf.WriteString(s)
	}

	writeUvarint(uint64(len(m.params)))
	for _, p := range m.params {
		writeString(p.name)
		writeString(p.value)
	}
	return buf.Bytes(), nil
}

// Unmarshal parses a frame produced by Marshal into a message of the
// given kind.
func Unmarshal(kind Kind, data []byte) (*Message, error) {
	r := bytes.NewReader(data)

	vers, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading frame version: %w", err)
	}
	if vers != frameVersion {
		return nil, fmt.Errorf("unsupported frame version %d", vers)
	}

	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("reading parameter count: %w", err)
	}
	if count > uint64(len(data)) {
		return nil, fmt.Errorf("parameter count %d exceeds frame size", count)
	}

	readString := func() (string, error) {
		l, err := binary.ReadUvarint(r)
		if err != nil {
			return "", err
		}
		if l > uint64(r.Len()) {
			return "", io.ErrUnexpectedEOF
		}
		b := make([]byte, l)
		if _, err := io.ReadFull(r, b); err != nil {
			return "", err
		}
		return string(b), nil
	}

	m := New(kind)
	for i := uint64(0); i < count; i++ {
		name, err := readString()
		if err != nil {
			return nil, fmt.Errorf("reading parameter %d name: %w", i, err)
		}
		value, err := readString()
		if err != nil {
			return nil, fmt.Errorf("reading parameter %d value: %w", i, err)
		}
		m.params = append(m.params, param{name: name, value: value})
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after %d parameters", r.Len(), count)
	}
	return m, nil
}
