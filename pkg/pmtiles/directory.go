package pmtiles

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// Entry points at tile data when RunLength > 0, otherwise at a leaf directory.
type Entry struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// DeserializeEntries decodes an uncompressed directory. Columns are stored one
// after another: delta-coded tile ids, run lengths, lengths, then offsets where
// zero means "directly after the previous entry".
func DeserializeEntries(data []byte) ([]Entry, error) {
	r := bytes.NewReader(data)
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading directory size: %v", ErrInvalidArchive, err)
	}
	// Every entry needs at least four bytes.
	if count > uint64(len(data)) {
		return nil, fmt.Errorf("%w: directory claims %d entries in %d bytes", ErrInvalidArchive, count, len(data))
	}

	entries := make([]Entry, count)
	var lastID uint64
	for i := range entries {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: reading tile id: %v", ErrInvalidArchive, err)
		}
		lastID += v
		entries[i].TileID = lastID
	}
	for i := range entries {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: reading run length: %v", ErrInvalidArchive, err)
		}
		entries[i].RunLength = uint32(v)
	}
	for i := range entries {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: reading length: %v", ErrInvalidArchive, err)
		}
		entries[i].Length = uint32(v)
	}
	for i := range entries {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: reading offset: %v", ErrInvalidArchive, err)
		}
		if v == 0 && i > 0 {
			entries[i].Offset = entries[i-1].Offset + uint64(entries[i-1].Length)
		} else {
			entries[i].Offset = v - 1
		}
	}
	return entries, nil
}

// SerializeEntries is the inverse of DeserializeEntries.
func SerializeEntries(entries []Entry) []byte {
	b := binary.AppendUvarint(nil, uint64(len(entries)))
	var lastID uint64
	for _, entry := range entries {
		b = binary.AppendUvarint(b, entry.TileID-lastID)
		lastID = entry.TileID
	}
	for _, entry := range entries {
		b = binary.AppendUvarint(b, uint64(entry.RunLength))
	}
	for _, entry := range entries {
		b = binary.AppendUvarint(b, uint64(entry.Length))
	}
	for i, entry := range entries {
		if i > 0 && entry.Offset == entries[i-1].Offset+uint64(entries[i-1].Length) {
			b = binary.AppendUvarint(b, 0)
		} else {
			b = binary.AppendUvarint(b, entry.Offset+1)
		}
	}
	return b
}

// FindTile returns the entry covering id: either a tile run containing it or
// the leaf directory that may contain it.
func FindTile(entries []Entry, id uint64) (Entry, bool) {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].TileID > id }) - 1
	if i < 0 {
		return Entry{}, false
	}
	entry := entries[i]
	if entry.RunLength == 0 {
		return entry, true
	}
	if id-entry.TileID < uint64(entry.RunLength) {
		return entry, true
	}
	return Entry{}, false
}
