package bigfile_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/user/modforge/internal/bigfile"
)

func TestArchive_AddFile_FirstWriteWins(t *testing.T) {
	archive := bigfile.New()

	require.NoError(t, archive.AddFile(`data\ini\object.ini`, []byte("first")))

	err := archive.AddFile(`data\ini\object.ini`, []byte("second"))
	require.ErrorIs(t, err, bigfile.ErrDuplicateEntry)

	require.Equal(t, 1, archive.Len())
	require.Equal(t, []string{`data\ini\object.ini`}, archive.Names())
}

func TestArchive_Save_Layout(t *testing.T) {
	archive := bigfile.New()
	require.NoError(t, archive.AddFile(`a.txt`, []byte("hello")))
	require.NoError(t, archive.AddFile(`dir\b.txt`, []byte("world!")))

	path := filepath.Join(t.TempDir(), "test.big")
	require.NoError(t, archive.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	require.Equal(t, "BIGF", string(data[:4]))
	require.Equal(t, uint32(len(data)), binary.LittleEndian.Uint32(data[4:8]))
	require.Equal(t, uint32(2), binary.BigEndian.Uint32(data[8:12]))

	headerSize := binary.BigEndian.Uint32(data[12:16])
	require.Equal(t, "hello", string(data[headerSize:headerSize+5]))
	require.Equal(t, "world!", string(data[headerSize+5:]))

	// First entry record: offset, size, then the NUL-terminated name.
	require.Equal(t, headerSize, binary.BigEndian.Uint32(data[16:20]))
	require.Equal(t, uint32(5), binary.BigEndian.Uint32(data[20:24]))
	require.Equal(t, "a.txt", string(data[24:29]))
	require.Equal(t, byte(0), data[29])
}

func TestArchive_Save_Empty(t *testing.T) {
	archive := bigfile.New()

	path := filepath.Join(t.TempDir(), "empty.big")
	require.NoError(t, archive.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, 16)
	require.Equal(t, uint32(0), binary.BigEndian.Uint32(data[8:12]))
}
