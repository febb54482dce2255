package vectorindex_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/docask/internal/pkg/docask/vectorindex"
	apierrors "github.com/kart-io/docask/pkg/errors"
)

func newIndex(t *testing.T, dim int, metric vectorindex.Metric) *vectorindex.Index {
	t.Helper()
	idx, err := vectorindex.New(dim, metric)
	require.NoError(t, err)
	return idx
}

func meta(doc string, seq int) vectorindex.Metadata {
	return vectorindex.Metadata{DocumentID: doc, Sequence: seq, Text: fmt.Sprintf("%s-%d", doc, seq)}
}

func ids(hits []vectorindex.Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func randomIndex(t *testing.T, n, dim int, seed int64) *vectorindex.Index {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	idx := newIndex(t, dim, vectorindex.MetricCosine)
	for i := 0; i < n; i++ {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		require.NoError(t, idx.Insert(fmt.Sprintf("doc%d:%d", i%7, i), v, meta(fmt.Sprintf("doc%d", i%7), i)))
	}
	return idx
}

func TestNew_Validation(t *testing.T) {
	_, err := vectorindex.New(0, vectorindex.MetricCosine)
	assert.True(t, errors.Is(err, apierrors.ErrInvalidArgument))

	_, err = vectorindex.New(3, "euclid")
	assert.True(t, errors.Is(err, apierrors.ErrInvalidArgument))

	m, err := vectorindex.ParseMetric("IP")
	require.NoError(t, err)
	assert.Equal(t, vectorindex.MetricInnerProduct, m)
}

func TestSearch_OrderingAndTies(t *testing.T) {
	idx := newIndex(t, 2, vectorindex.MetricInnerProduct)
	require.NoError(t, idx.Insert("a", []float32{1, 0}, meta("d", 0)))
	require.NoError(t, idx.Insert("b", []float32{2, 0}, meta("d", 1)))
	require.NoError(t, idx.Insert("c", []float32{1, 0}, meta("d", 2)))
	require.NoError(t, idx.Insert("d", []float32{0, 1}, meta("d", 3)))

	hits, err := idx.Search([]float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c", "d"}, ids(hits))
	assert.Equal(t, "d-1", hits[0].Metadata.Text)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}

	again, err := idx.Search([]float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Equal(t, hits, again)
}

func TestSearch_Cosine(t *testing.T) {
	idx := newIndex(t, 2, vectorindex.MetricCosine)
	require.NoError(t, idx.Insert("long", []float32{10, 10}, meta("d", 0)))
	require.NoError(t, idx.Insert("exact", []float32{1, 0}, meta("d", 1)))
	require.NoError(t, idx.Insert("zero", []float32{0, 0}, meta("d", 2)))

	hits, err := idx.Search([]float32{3, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"exact", "long", "zero"}, ids(hits))
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.InDelta(t, 0.70710678, hits[1].Score, 1e-6)
	assert.Equal(t, 0.0, hits[2].Score)
}

func TestSearch_TopK(t *testing.T) {
	idx := randomIndex(t, 5, 4, 1)

	_, err := idx.Search([]float32{1, 0, 0, 0}, 0)
	assert.True(t, errors.Is(err, apierrors.ErrInvalidArgument))

	_, err = idx.Search([]float32{1, 0, 0, 0}, -3)
	assert.True(t, errors.Is(err, apierrors.ErrInvalidArgument))

	hits, err := idx.Search([]float32{1, 0, 0, 0}, 100)
	require.NoError(t, err)
	assert.Len(t, hits, 5)

	hits, err = idx.Search([]float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	empty := newIndex(t, 4, vectorindex.MetricCosine)
	hits, err = empty.Search([]float32{1, 0, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestInsert_DimensionMismatchIsAtomic(t *testing.T) {
	idx := newIndex(t, 3, vectorindex.MetricCosine)
	require.NoError(t, idx.Insert("keep", []float32{1, 2, 3}, meta("d", 0)))
	gen := idx.Generation()

	err := idx.Insert("bad", []float32{1, 2}, meta("d", 1))
	assert.True(t, errors.Is(err, apierrors.ErrDimensionMismatch))

	err = idx.InsertBatch([]vectorindex.Item{
		{ID: "ok", Vector: []float32{1, 1, 1}},
		{ID: "short", Vector: []float32{1}},
	})
	assert.True(t, errors.Is(err, apierrors.ErrDimensionMismatch))

	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, gen, idx.Generation())

	_, err = idx.Search([]float32{1, 2}, 1)
	assert.True(t, errors.Is(err, apierrors.ErrDimensionMismatch))
}

func TestInsert_Duplicate(t *testing.T) {
	idx := newIndex(t, 2, vectorindex.MetricCosine)
	require.NoError(t, idx.Insert("x", []float32{1, 0}, meta("d", 0)))

	err := idx.Insert("x", []float32{0, 1}, meta("d", 0))
	assert.True(t, errors.Is(err, apierrors.ErrDuplicateID))

	err = idx.InsertBatch([]vectorindex.Item{
		{ID: "y", Vector: []float32{1, 1}},
		{ID: "y", Vector: []float32{1, 1}},
	})
	assert.True(t, errors.Is(err, apierrors.ErrDuplicateID))
	assert.Equal(t, 1, idx.Len())

	hits, err := idx.Search([]float32{1, 0}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9, "original vector must not be overwritten")
}

func TestInsert_CopiesVector(t *testing.T) {
	idx := newIndex(t, 2, vectorindex.MetricInnerProduct)
	v := []float32{1, 0}
	require.NoError(t, idx.Insert("v", v, meta("d", 0)))
	v[0] = 100

	hits, err := idx.Search([]float32{1, 0}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
}

func TestRemove_Idempotent(t *testing.T) {
	idx := randomIndex(t, 10, 4, 2)

	assert.False(t, idx.Remove("missing"))
	assert.Equal(t, 10, idx.Len())

	assert.True(t, idx.Remove("doc0:0"))
	assert.False(t, idx.Remove("doc0:0"))
	assert.Equal(t, 9, idx.Len())
}

func TestRemove_ReinsertReproducesSearch(t *testing.T) {
	idx := newIndex(t, 2, vectorindex.MetricInnerProduct)
	for i := 0; i < 6; i++ {
		require.NoError(t, idx.Insert(fmt.Sprintf("id%d", i), []float32{1, 0}, meta("d", i)))
	}
	before, err := idx.Search([]float32{1, 0}, 6)
	require.NoError(t, err)

	require.True(t, idx.Remove("id2"))
	require.NoError(t, idx.Insert("id2", []float32{1, 0}, meta("d", 2)))

	after, err := idx.Search([]float32{1, 0}, 6)
	require.NoError(t, err)
	assert.Equal(t, ids(before), ids(after))
	assert.Equal(t, []string{"id0", "id1", "id2", "id3", "id4", "id5"}, ids(after))
}

func TestRemoveDocument(t *testing.T) {
	idx := randomIndex(t, 21, 4, 3)

	require.Contains(t, idx.DocumentIDs(), "doc3")
	docCount := len(idx.DocumentIDs())

	docIDs := idx.IDsByDocument("doc3")
	require.Len(t, docIDs, 3)
	assert.Equal(t, []string{"doc3:3", "doc3:10", "doc3:17"}, docIDs)

	assert.Equal(t, 3, idx.RemoveDocument("doc3"))
	assert.Equal(t, 0, idx.RemoveDocument("doc3"))
	assert.Empty(t, idx.IDsByDocument("doc3"))
	assert.NotContains(t, idx.DocumentIDs(), "doc3")
	assert.Len(t, idx.DocumentIDs(), docCount-1)

	hits, err := idx.Search([]float32{1, 1, 1, 1}, 100)
	require.NoError(t, err)
	assert.Len(t, hits, 18)
	for _, h := range hits {
		assert.NotEqual(t, "doc3", h.Metadata.DocumentID)
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	idx := randomIndex(t, 50, 8, 4)
	idx.Remove("doc1:8")
	idx.RemoveDocument("doc5")

	var buf bytes.Buffer
	require.NoError(t, idx.Snapshot(&buf))

	restored, err := vectorindex.Restore(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, idx.Len(), restored.Len())
	assert.Equal(t, idx.Dimension(), restored.Dimension())
	assert.Equal(t, idx.Metric(), restored.Metric())

	rng := rand.New(rand.NewSource(99))
	for q := 0; q < 20; q++ {
		query := make([]float32, 8)
		for j := range query {
			query[j] = rng.Float32()*2 - 1
		}
		want, err := idx.Search(query, 10)
		require.NoError(t, err)
		got, err := restored.Search(query, 10)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// 恢复后重新插入已删除的 ID 仍复用原序号
	require.NoError(t, idx.Insert("doc1:8", make([]float32, 8), meta("doc1", 8)))
	require.NoError(t, restored.Insert("doc1:8", make([]float32, 8), meta("doc1", 8)))
	want, _ := idx.Search(make([]float32, 8), 100)
	got, _ := restored.Search(make([]float32, 8), 100)
	assert.Equal(t, ids(want), ids(got))
}

func TestRestore_Corrupted(t *testing.T) {
	idx := randomIndex(t, 5, 4, 5)
	var buf bytes.Buffer
	require.NoError(t, idx.Snapshot(&buf))
	data := buf.Bytes()

	tests := []struct {
		name string
		data []byte
	}{
		{"空输入", nil},
		{"错误魔数", append([]byte("XXXX"), data[4:]...)},
		{"截断", data[:len(data)-3]},
		{"内容被篡改", func() []byte {
			c := append([]byte(nil), data...)
			c[len(c)-1] ^= 0xFF
			return c
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := vectorindex.Restore(bytes.NewReader(tt.data))
			assert.True(t, errors.Is(err, apierrors.ErrIndexCorrupted), "got %v", err)
		})
	}
}

func TestSnapshotStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := vectorindex.NewSnapshotStore("file://" + filepath.Join(t.TempDir(), "index.snap"))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	idx := randomIndex(t, 12, 4, 6)
	require.NoError(t, store.Save(ctx, idx))
	require.NoError(t, store.Save(ctx, idx))

	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	want, err := idx.Search([]float32{1, 0, 0, 1}, 5)
	require.NoError(t, err)
	got, err := loaded.Search([]float32{1, 0, 0, 1}, 5)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSnapshotStore_LeavesRegularFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, name := range []string{"index.snap", "index"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			store := vectorindex.NewSnapshotStore("file://" + path)
			idx := randomIndex(t, 3, 4, 8)

			for i := 0; i < 2; i++ {
				require.NoError(t, store.Save(ctx, idx))
				info, err := os.Stat(path)
				require.NoError(t, err)
				assert.True(t, info.Mode().IsRegular(), "save %d left %s", i, info.Mode())
			}

			loaded, err := store.Load(ctx)
			require.NoError(t, err)
			require.NotNil(t, loaded)
			assert.Equal(t, idx.Len(), loaded.Len())
		})
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temporary files must be renamed away")
}

func TestSnapshotStore_DirectoryIsCorrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.snap")
	require.NoError(t, os.MkdirAll(filepath.Join(path, "index.snap.tmp"), 0o755))
	store := vectorindex.NewSnapshotStore("file://" + path)

	_, err := store.Load(context.Background())
	assert.True(t, errors.Is(err, apierrors.ErrIndexCorrupted), "got %v", err)

	// 下一次保存替换掉目录
	require.NoError(t, store.Save(context.Background(), randomIndex(t, 2, 4, 9)))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular())
}

func TestSnapshot_EmptyIndexRoundTrip(t *testing.T) {
	idx := newIndex(t, 2, vectorindex.MetricCosine)
	var buf bytes.Buffer
	require.NoError(t, idx.Snapshot(&buf))

	restored, err := vectorindex.Restore(&buf)
	require.NoError(t, err)
	assert.Zero(t, restored.Len())
	assert.Equal(t, 2, restored.Dimension())
}

func TestSnapshot_KeepsGeneration(t *testing.T) {
	idx := randomIndex(t, 5, 4, 10)
	idx.Remove("doc1:1")
	require.Equal(t, uint64(6), idx.Generation())

	var buf bytes.Buffer
	require.NoError(t, idx.Snapshot(&buf))
	restored, err := vectorindex.Restore(&buf)
	require.NoError(t, err)
	assert.Equal(t, idx.Generation(), restored.Generation())

	require.NoError(t, restored.Insert("new", []float32{1, 0, 0, 0}, meta("new", 0)))
	assert.Equal(t, uint64(7), restored.Generation())
}

func TestIndex_RejectsNonFiniteVectors(t *testing.T) {
	idx := newIndex(t, 3, vectorindex.MetricCosine)
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))

	err := idx.InsertBatch([]vectorindex.Item{
		{ID: "ok", Vector: []float32{1, 0, 0}},
		{ID: "bad", Vector: []float32{nan, 0, 0}},
	})
	assert.True(t, errors.Is(err, apierrors.ErrInvalidArgument), "got %v", err)
	assert.Zero(t, idx.Len(), "a rejected batch writes nothing")

	require.NoError(t, idx.Insert("a", []float32{1, 0, 0}, meta("a", 0)))
	_, err = idx.Search([]float32{0, inf, 0}, 1)
	assert.True(t, errors.Is(err, apierrors.ErrInvalidArgument), "got %v", err)
	_, err = idx.Search([]float32{0, 0, nan}, 1)
	assert.True(t, errors.Is(err, apierrors.ErrInvalidArgument), "got %v", err)
}

func TestIndex_ConcurrentAccess(t *testing.T) {
	idx := newIndex(t, 4, vectorindex.MetricCosine)
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("w%d:%d", w, i)
				_ = idx.Insert(id, []float32{float32(w), float32(i), 1, 0}, meta(fmt.Sprintf("w%d", w), i))
				if i%5 == 0 {
					idx.Remove(id)
				}
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				hits, err := idx.Search([]float32{1, 1, 1, 1}, 5)
				assert.NoError(t, err)
				assert.LessOrEqual(t, len(hits), 5)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 4*40, idx.Len())
}
