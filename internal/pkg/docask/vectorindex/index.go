// Package vectorindex 提供单机精确最近邻向量索引。
//
// 索引维度与相似度度量在创建时确定。检索结果按得分降序排列，得分相同时
// 按插入顺序升序，保证同一索引状态下的重复查询结果完全一致。被删除的 ID
// 保留其插入序号，再次插入同一 ID 时复用该序号。
package vectorindex

import (
	"math"
	"sort"
	"sync"

	apierrors "github.com/kart-io/docask/pkg/errors"
)

// Metadata 片段元数据。
type Metadata struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Sequence   int    `json:"sequence"`
	Text       string `json:"text"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
}

// Item 待插入的向量。
type Item struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// Hit 检索结果。
type Hit struct {
	ID       string   `json:"id"`
	Score    float64  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

type entry struct {
	id     string
	seq    uint64
	vector []float32
	norm   float64
	meta   Metadata
}

// Index 线程安全的精确向量索引。
type Index struct {
	mu         sync.RWMutex
	dim        int
	metric     Metric
	entries    []*entry
	positions  map[string]int
	tombstones map[string]uint64
	nextSeq    uint64
	generation uint64
}

// New 创建指定维度和度量的索引。
func New(dim int, metric Metric) (*Index, error) {
	if dim <= 0 {
		return nil, apierrors.ErrInvalidArgument.WithMessagef("index dimension must be positive, got %d", dim)
	}
	if metric != MetricCosine && metric != MetricInnerProduct {
		return nil, apierrors.ErrInvalidArgument.WithMessagef("unknown similarity metric %q", metric)
	}
	return &Index{
		dim:        dim,
		metric:     metric,
		positions:  make(map[string]int),
		tombstones: make(map[string]uint64),
	}, nil
}

// Dimension 返回向量维度。
func (idx *Index) Dimension() int { return idx.dim }

// Metric 返回相似度度量。
func (idx *Index) Metric() Metric { return idx.metric }

// Len 返回向量数量。
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Generation 返回变更计数，每次成功的插入或删除都会递增。
func (idx *Index) Generation() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.generation
}

// checkVector 校验维度，并拒绝 NaN 与 Inf 分量，否则得分无法比较。
func (idx *Index) checkVector(v []float32) error {
	if len(v) != idx.dim {
		return apierrors.ErrDimensionMismatch.WithMessagef("vector has %d components, index expects %d", len(v), idx.dim)
	}
	for i, x := range v {
		if f := float64(x); math.IsNaN(f) || math.IsInf(f, 0) {
			return apierrors.ErrInvalidArgument.WithMessagef("vector component %d is not finite", i)
		}
	}
	return nil
}

// Insert 插入单个向量。维度不符返回 ErrDimensionMismatch，ID 已存在返回
// ErrDuplicateID，失败时索引保持不变。
func (idx *Index) Insert(id string, vector []float32, meta Metadata) error {
	return idx.InsertBatch([]Item{{ID: id, Vector: vector, Metadata: meta}})
}

// InsertBatch 原子地插入一批向量，任一校验失败则不写入任何向量。
func (idx *Index) InsertBatch(items []Item) error {
	if len(items) == 0 {
		return nil
	}
	for _, it := range items {
		if it.ID == "" {
			return apierrors.ErrInvalidArgument.WithMessage("vector id must not be empty")
		}
		if err := idx.checkVector(it.Vector); err != nil {
			return err
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, ok := idx.positions[it.ID]; ok {
			return apierrors.ErrDuplicateID.WithMessagef("vector id %q already exists", it.ID)
		}
		if _, ok := seen[it.ID]; ok {
			return apierrors.ErrDuplicateID.WithMessagef("vector id %q repeated in batch", it.ID)
		}
		seen[it.ID] = struct{}{}
	}

	for _, it := range items {
		vec := make([]float32, len(it.Vector))
		copy(vec, it.Vector)

		seq, ok := idx.tombstones[it.ID]
		if ok {
			delete(idx.tombstones, it.ID)
		} else {
			seq = idx.nextSeq
			idx.nextSeq++
		}

		idx.positions[it.ID] = len(idx.entries)
		idx.entries = append(idx.entries, &entry{
			id:     it.ID,
			seq:    seq,
			vector: vec,
			norm:   norm(vec),
			meta:   it.Metadata,
		})
	}
	idx.generation++
	return nil
}

// Remove 删除向量，ID 不存在时为空操作。返回是否实际删除。
func (idx *Index) Remove(id string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if !idx.removeLocked(id) {
		return false
	}
	idx.generation++
	return true
}

// RemoveDocument 删除某文档的全部片段，返回删除数量。
func (idx *Index) RemoveDocument(documentID string) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var ids []string
	for _, e := range idx.entries {
		if e.meta.DocumentID == documentID {
			ids = append(ids, e.id)
		}
	}
	for _, id := range ids {
		idx.removeLocked(id)
	}
	if len(ids) > 0 {
		idx.generation++
	}
	return len(ids)
}

func (idx *Index) removeLocked(id string) bool {
	pos, ok := idx.positions[id]
	if !ok {
		return false
	}
	e := idx.entries[pos]
	idx.tombstones[id] = e.seq

	last := len(idx.entries) - 1
	if pos != last {
		idx.entries[pos] = idx.entries[last]
		idx.positions[idx.entries[pos].id] = pos
	}
	idx.entries[last] = nil
	idx.entries = idx.entries[:last]
	delete(idx.positions, id)
	return true
}

// IDsByDocument 按插入顺序返回某文档的片段 ID。
func (idx *Index) IDsByDocument(documentID string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var matched []*entry
	for _, e := range idx.entries {
		if e.meta.DocumentID == documentID {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	ids := make([]string, len(matched))
	for i, e := range matched {
		ids[i] = e.id
	}
	return ids
}

// DocumentIDs 返回索引中出现过片段的全部文档 ID，按字典序排列。
func (idx *Index) DocumentIDs() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, e := range idx.entries {
		seen[e.meta.DocumentID] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reset 清空索引，包括已删除 ID 的序号记录。
func (idx *Index) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.entries = nil
	idx.positions = make(map[string]int)
	idx.tombstones = make(map[string]uint64)
	idx.nextSeq = 0
	idx.generation++
}

// Search 返回与 query 最相似的 topK 个结果。topK 超过索引大小时返回全部。
func (idx *Index) Search(query []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		return nil, apierrors.ErrInvalidArgument.WithMessagef("top_k must be positive, got %d", topK)
	}
	if err := idx.checkVector(query); err != nil {
		return nil, err
	}

	qn := norm(query)

	idx.mu.RLock()
	type scored struct {
		e     *entry
		score float64
	}
	all := make([]scored, len(idx.entries))
	for i, e := range idx.entries {
		all[i] = scored{e: e, score: idx.metric.score(query, qn, e)}
	}
	idx.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].e.seq < all[j].e.seq
	})

	if topK > len(all) {
		topK = len(all)
	}
	hits := make([]Hit, topK)
	for i := 0; i < topK; i++ {
		hits[i] = Hit{ID: all[i].e.id, Score: all[i].score, Metadata: all[i].e.meta}
	}
	return hits, nil
}
