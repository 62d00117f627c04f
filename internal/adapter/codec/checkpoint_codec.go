// Package codec implements the binary checkpoint record shared by every
// checkpoint backend.
//
// Layout (big endian):
//
//	magic   [4]byte  "WKCP"
//	version uint16
//	length  uint32   payload length in bytes
//	payload []byte   gob-encoded record
//	sum     uint64   xxhash64 of payload
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/user/wiki-archiver/internal/entity"
	"github.com/user/wiki-archiver/internal/repository"
)

const headerSize = 4 + 2 + 4

var magic = [4]byte{'W', 'K', 'C', 'P'}

// record is the on-disk shape of entity.CrawlState.
type record struct {
	Visited     []string
	Frontier    []string
	PageCount   int
	Attempts    map[string]int
	DeadLetters []entity.DeadLetter
	SavedAt     time.Time
}

// Encode serializes state into a self-describing checkpoint record.
func Encode(state *entity.CrawlState) ([]byte, error) {
	visited := make([]string, 0, len(state.Visited))
	for u := range state.Visited {
		visited = append(visited, u)
	}
	sort.Strings(visited)

	rec := record{
		Visited:     visited,
		Frontier:    state.Frontier,
		PageCount:   state.PageCount,
		Attempts:    state.Attempts,
		DeadLetters: state.DeadLetters,
		SavedAt:     state.SavedAt.UTC(),
	}

	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(&rec); err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}

	out := make([]byte, 0, headerSize+payload.Len()+8)
	out = append(out, magic[:]...)
	out = binary.BigEndian.AppendUint16(out, uint16(entity.CrawlStateVersion))
	out = binary.BigEndian.AppendUint32(out, uint32(payload.Len()))
	out = append(out, payload.Bytes()...)
	out = binary.BigEndian.AppendUint64(out, xxhash.Sum64(payload.Bytes()))
	return out, nil
}

// Decode parses a checkpoint record. Every failure wraps repository.ErrCheckpointCorrupt.
func Decode(data []byte) (*entity.CrawlState, error) {
	if len(data) < headerSize+8 {
		return nil, fmt.Errorf("%w: %d bytes is too short", repository.ErrCheckpointCorrupt, len(data))
	}
	if !bytes.Equal(data[:4], magic[:]) {
		return nil, fmt.Errorf("%w: bad magic %q", repository.ErrCheckpointCorrupt, data[:4])
	}
	version := binary.BigEndian.Uint16(data[4:6])
	if version != entity.CrawlStateVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", repository.ErrCheckpointCorrupt, version)
	}
	length := int(binary.BigEndian.Uint32(data[6:10]))
	if len(data) != headerSize+length+8 {
		return nil, fmt.Errorf("%w: payload length %d does not match file size %d", repository.ErrCheckpointCorrupt, length, len(data))
	}
	payload := data[headerSize : headerSize+length]
	if sum := binary.BigEndian.Uint64(data[headerSize+length:]); sum != xxhash.Sum64(payload) {
		return nil, fmt.Errorf("%w: checksum mismatch", repository.ErrCheckpointCorrupt)
	}

	var rec record
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrCheckpointCorrupt, err)
	}

	state := &entity.CrawlState{
		Version:     int(version),
		Visited:     make(map[string]struct{}, len(rec.Visited)),
		Frontier:    rec.Frontier,
		PageCount:   rec.PageCount,
		Attempts:    rec.Attempts,
		DeadLetters: rec.DeadLetters,
		SavedAt:     rec.SavedAt,
	}
	for _, u := range rec.Visited {
		state.Visited[u] = struct{}{}
	}
	state.Normalize()
	return state, nil
}
