package vectorindex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/minio/highwayhash"
	"github.com/viant/bintly"

	apierrors "github.com/kart-io/docask/pkg/errors"
)

// 快照格式:
//
//	magic(4) | version(2) | checksum(8) | payload length(8) | payload
//
// payload 使用 bintly 编码，checksum 为 payload 的 HighwayHash-64。
// 版本 2 起 payload 携带索引代数。
const (
	snapshotMagic   = "DAVX"
	snapshotVersion = uint16(2)
	headerSize      = 4 + 2 + 8 + 8

	maxPayloadSize = 1 << 34
)

var checksumKey = []byte("docask-vector-index-snapshot-key")

func checksum(data []byte) (uint64, error) {
	h, err := highwayhash.New64(checksumKey)
	if err != nil {
		return 0, err
	}
	if _, err := h.Write(data); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// Snapshot 将索引完整写出，恢复后的索引检索结果与当前一致。
func (idx *Index) Snapshot(w io.Writer) error {
	payload, err := idx.encode()
	if err != nil {
		return err
	}
	sum, err := checksum(payload)
	if err != nil {
		return err
	}

	header := make([]byte, headerSize)
	copy(header, snapshotMagic)
	binary.BigEndian.PutUint16(header[4:], snapshotVersion)
	binary.BigEndian.PutUint64(header[6:], sum)
	binary.BigEndian.PutUint64(header[14:], uint64(len(payload)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func (idx *Index) encode() ([]byte, error) {
	idx.mu.RLock()
	entries := make([]*entry, len(idx.entries))
	copy(entries, idx.entries)
	tombstones := make(map[string]uint64, len(idx.tombstones))
	for id, seq := range idx.tombstones {
		tombstones[id] = seq
	}
	nextSeq := idx.nextSeq
	generation := idx.generation
	idx.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	removed := make([]string, 0, len(tombstones))
	for id := range tombstones {
		removed = append(removed, id)
	}
	sort.Strings(removed)

	writers := bintly.NewWriters()
	w := writers.Get()
	defer writers.Put(w)

	w.Int(idx.dim)
	w.String(string(idx.metric))
	w.Int(int(nextSeq))
	w.Uint64(generation)

	w.Int(len(entries))
	for _, e := range entries {
		w.String(e.id)
		w.Int(int(e.seq))
		for _, v := range e.vector {
			w.Float32(v)
		}
		w.String(e.meta.DocumentID)
		w.String(e.meta.Filename)
		w.Int(e.meta.Sequence)
		w.String(e.meta.Text)
		w.Int(e.meta.Start)
		w.Int(e.meta.End)
	}

	w.Int(len(removed))
	for _, id := range removed {
		w.String(id)
		w.Int(int(tombstones[id]))
	}

	// Bytes 会清空 writer 的缓冲区，只能调用一次
	return append([]byte(nil), w.Bytes()...), nil
}

// Restore 从快照恢复索引。格式错误、截断或校验和不符时返回 ErrIndexCorrupted。
func Restore(r io.Reader) (*Index, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, apierrors.ErrIndexCorrupted.WithCause(fmt.Errorf("read header: %w", err))
	}
	if !bytes.Equal(header[:4], []byte(snapshotMagic)) {
		return nil, apierrors.ErrIndexCorrupted.WithMessage("not a vector index snapshot")
	}
	if v := binary.BigEndian.Uint16(header[4:]); v != snapshotVersion {
		return nil, apierrors.ErrIndexCorrupted.WithMessagef("unsupported snapshot version %d", v)
	}
	want := binary.BigEndian.Uint64(header[6:])
	size := binary.BigEndian.Uint64(header[14:])
	if size > maxPayloadSize {
		return nil, apierrors.ErrIndexCorrupted.WithMessagef("snapshot payload too large: %d bytes", size)
	}

	// 按实际读到的数据增长缓冲区，长度字段损坏时不会预先分配巨大内存
	payload, err := io.ReadAll(io.LimitReader(r, int64(size)))
	if err != nil {
		return nil, apierrors.ErrIndexCorrupted.WithCause(fmt.Errorf("read payload: %w", err))
	}
	if uint64(len(payload)) != size {
		return nil, apierrors.ErrIndexCorrupted.WithMessagef("snapshot truncated: %d of %d payload bytes", len(payload), size)
	}
	got, err := checksum(payload)
	if err != nil {
		return nil, apierrors.ErrIndexCorrupted.WithCause(err)
	}
	if got != want {
		return nil, apierrors.ErrIndexCorrupted.WithMessage("snapshot checksum mismatch")
	}
	return decode(payload)
}

func decode(payload []byte) (idx *Index, err error) {
	defer func() {
		if r := recover(); r != nil {
			idx = nil
			err = apierrors.ErrIndexCorrupted.WithCause(fmt.Errorf("decode: %v", r))
		}
	}()

	readers := bintly.NewReaders()
	rd := readers.Get()
	defer readers.Put(rd)
	if err := rd.FromBytes(payload); err != nil {
		return nil, apierrors.ErrIndexCorrupted.WithCause(err)
	}

	var (
		dim, nextSeq, count int
		metric              string
		generation          uint64
	)
	rd.Int(&dim)
	rd.String(&metric)
	rd.Int(&nextSeq)
	rd.Uint64(&generation)

	idx, err = New(dim, Metric(metric))
	if err != nil {
		return nil, apierrors.ErrIndexCorrupted.WithCause(err)
	}
	if nextSeq < 0 {
		return nil, apierrors.ErrIndexCorrupted.WithMessagef("negative sequence counter %d", nextSeq)
	}
	idx.nextSeq = uint64(nextSeq)
	idx.generation = generation
	// 每个序号只属于一个 ID，无论存活还是已删除
	owners := make(map[int]string)

	rd.Int(&count)
	if count < 0 {
		return nil, apierrors.ErrIndexCorrupted.WithMessagef("negative entry count %d", count)
	}
	idx.entries = make([]*entry, 0, count)
	for i := 0; i < count; i++ {
		e := &entry{vector: make([]float32, dim)}
		var seq int
		rd.String(&e.id)
		rd.Int(&seq)
		for j := range e.vector {
			rd.Float32(&e.vector[j])
		}
		rd.String(&e.meta.DocumentID)
		rd.String(&e.meta.Filename)
		rd.Int(&e.meta.Sequence)
		rd.String(&e.meta.Text)
		rd.Int(&e.meta.Start)
		rd.Int(&e.meta.End)

		_, dup := idx.positions[e.id]
		if _, taken := owners[seq]; dup || taken || seq < 0 || seq >= nextSeq {
			return nil, apierrors.ErrIndexCorrupted.WithMessagef("invalid entry %q", e.id)
		}
		owners[seq] = e.id
		e.seq = uint64(seq)
		e.norm = norm(e.vector)
		idx.positions[e.id] = len(idx.entries)
		idx.entries = append(idx.entries, e)
	}

	var removed int
	rd.Int(&removed)
	if removed < 0 {
		return nil, apierrors.ErrIndexCorrupted.WithMessagef("negative tombstone count %d", removed)
	}
	for i := 0; i < removed; i++ {
		var id string
		var seq int
		rd.String(&id)
		rd.Int(&seq)

		_, live := idx.positions[id]
		_, dup := idx.tombstones[id]
		if _, taken := owners[seq]; live || dup || taken || seq < 0 || seq >= nextSeq {
			return nil, apierrors.ErrIndexCorrupted.WithMessagef("invalid tombstone %q", id)
		}
		owners[seq] = id
		idx.tombstones[id] = uint64(seq)
	}
	return idx, nil
}
