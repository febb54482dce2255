package vectorindex

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/bintly"

	apierrors "github.com/kart-io/docask/pkg/errors"
)

type rawEntry struct {
	id  string
	seq int
}

// writePayload 按快照格式手工编码一个二维索引。
func writePayload(nextSeq int, live []rawEntry, removed []rawEntry) []byte {
	writers := bintly.NewWriters()
	w := writers.Get()
	defer writers.Put(w)

	w.Int(2)
	w.String(string(MetricCosine))
	w.Int(nextSeq)
	w.Uint64(uint64(len(live) + len(removed)))
	w.Int(len(live))
	for _, e := range live {
		w.String(e.id)
		w.Int(e.seq)
		w.Float32(1)
		w.Float32(0)
		w.String("doc")
		w.String("doc.txt")
		w.Int(e.seq)
		w.String("text")
		w.Int(0)
		w.Int(4)
	}
	w.Int(len(removed))
	for _, e := range removed {
		w.String(e.id)
		w.Int(e.seq)
	}
	return append([]byte(nil), w.Bytes()...)
}

func frame(t *testing.T, payload []byte) []byte {
	t.Helper()
	sum, err := checksum(payload)
	require.NoError(t, err)
	header := make([]byte, headerSize)
	copy(header, snapshotMagic)
	binary.BigEndian.PutUint16(header[4:], snapshotVersion)
	binary.BigEndian.PutUint64(header[6:], sum)
	binary.BigEndian.PutUint64(header[14:], uint64(len(payload)))
	return append(header, payload...)
}

func TestEncode_PayloadIsNotDrained(t *testing.T) {
	idx, err := New(2, MetricCosine)
	require.NoError(t, err)
	require.NoError(t, idx.Insert("a", []float32{1, 0}, Metadata{DocumentID: "d", Text: "x"}))

	payload, err := idx.encode()
	require.NoError(t, err)
	assert.NotEqual(t, make([]byte, len(payload)), payload)

	restored, err := decode(payload)
	require.NoError(t, err)
	assert.Equal(t, 1, restored.Len())
}

func TestRestore_ValidatesSequences(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		wantErr bool
	}{
		{"valid", writePayload(3, []rawEntry{{"a", 0}, {"c", 2}}, []rawEntry{{"b", 1}}), false},
		{"tombstone duplicates a live id", writePayload(3, []rawEntry{{"a", 0}}, []rawEntry{{"a", 1}}), true},
		{"tombstone sequence out of range", writePayload(2, []rawEntry{{"a", 0}}, []rawEntry{{"b", 2}}), true},
		{"tombstone reuses a live sequence", writePayload(2, []rawEntry{{"a", 0}}, []rawEntry{{"b", 0}}), true},
		{"repeated tombstone", writePayload(3, nil, []rawEntry{{"b", 1}, {"b", 2}}), true},
		{"entries share a sequence", writePayload(2, []rawEntry{{"a", 1}, {"b", 1}}, nil), true},
		{"negative tombstone sequence", writePayload(2, nil, []rawEntry{{"b", -1}}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := Restore(bytes.NewReader(frame(t, tt.payload)))
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, 2, idx.Len())
				assert.Equal(t, uint64(3), idx.Generation())
				return
			}
			assert.True(t, errors.Is(err, apierrors.ErrIndexCorrupted), "got %v", err)
		})
	}
}

func TestRestore_HugeLengthFieldDoesNotAllocate(t *testing.T) {
	data := frame(t, writePayload(1, []rawEntry{{"a", 0}}, nil))
	binary.BigEndian.PutUint64(data[14:], maxPayloadSize)

	_, err := Restore(bytes.NewReader(data))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apierrors.ErrIndexCorrupted))
	assert.Contains(t, err.Error(), "truncated")
}

func TestTempURL(t *testing.T) {
	assert.Equal(t, "file:///var/lib/docask/index.tmp.snap", tempURL("file:///var/lib/docask/index.snap"))
	assert.Equal(t, "file:///data/index-tmp", tempURL("file:///data/index"))
	assert.Equal(t, "mem://localhost/a.tmp.bin", tempURL("mem://localhost/a.bin"))
}
