// Package bigfile writes BIG archives, the container format the game engine
// loads mod assets from. Entry names use backslash separators regardless of
// host platform.
package bigfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

var magic = [4]byte{'B', 'I', 'G', 'F'}

// ErrDuplicateEntry reports an insert under a name the archive already holds.
// The first insertion wins; callers decide whether a duplicate matters.
var ErrDuplicateEntry = errors.New("duplicate archive entry")

type entry struct {
	name string
	data []byte
}

type Archive struct {
	names   map[string]struct{}
	entries []entry
}

func New() *Archive {
	return &Archive{names: make(map[string]struct{})}
}

func (a *Archive) AddFile(name string, data []byte) error {
	if _, exists := a.names[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, name)
	}
	a.names[name] = struct{}{}
	a.entries = append(a.entries, entry{name: name, data: data})
	return nil
}

func (a *Archive) Len() int {
	return len(a.entries)
}

// Names returns the entry names in insertion order.
func (a *Archive) Names() []string {
	names := make([]string, len(a.entries))
	for i, e := range a.entries {
		names[i] = e.name
	}
	return names
}

// Save writes the archive. Layout: 4-byte magic, little-endian total size,
// big-endian entry count and header size, then per entry a big-endian offset
// and size followed by the NUL-terminated name, then the raw entry data.
func (a *Archive) Save(path string) error {
	headerSize := uint32(16)
	for _, e := range a.entries {
		headerSize += 8 + uint32(len(e.name)) + 1
	}

	totalSize := headerSize
	for _, e := range a.entries {
		totalSize += uint32(len(e.data))
	}

	var buf bytes.Buffer
	buf.Grow(int(totalSize))
	buf.Write(magic[:])
	binary.Write(&buf, binary.LittleEndian, totalSize)
	binary.Write(&buf, binary.BigEndian, uint32(len(a.entries)))
	binary.Write(&buf, binary.BigEndian, headerSize)

	offset := headerSize
	for _, e := range a.entries {
		binary.Write(&buf, binary.BigEndian, offset)
		binary.Write(&buf, binary.BigEndian, uint32(len(e.data)))
		buf.WriteString(e.name)
		buf.WriteByte(0)
		offset += uint32(len(e.data))
	}

	for _, e := range a.entries {
		buf.Write(e.data)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}
	return nil
}
