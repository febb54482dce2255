package vectorindex

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/storage"

	apierrors "github.com/kart-io/docask/pkg/errors"
)

// SnapshotStore 将索引快照持久化到任意 afs 支持的存储（file://、mem:// 等）。
type SnapshotStore struct {
	fs  afs.Service
	url string
}

// NewSnapshotStore 创建快照存储。
func NewSnapshotStore(url string) *SnapshotStore {
	return &SnapshotStore{fs: afs.New(), url: url}
}

// URL 返回快照位置。
func (s *SnapshotStore) URL() string { return s.url }

type mover interface {
	Move(ctx context.Context, sourceURL, destURL string, options ...storage.Option) error
}

// Save 先写临时文件再移动到目标位置，避免读到写了一半的快照。
func (s *SnapshotStore) Save(ctx context.Context, idx *Index) error {
	var buf bytes.Buffer
	if err := idx.Snapshot(&buf); err != nil {
		return apierrors.ErrStorage.WithCause(err)
	}
	data := buf.Bytes()

	tmp := tempURL(s.url)
	if err := s.fs.Upload(ctx, tmp, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return apierrors.ErrStorage.WithCause(fmt.Errorf("upload temp snapshot: %w", err))
	}

	if mv, ok := any(s.fs).(mover); ok {
		if err := mv.Move(ctx, tmp, s.url); err == nil {
			return nil
		}
	}
	// 不支持移动时直接覆盖
	err := s.fs.Upload(ctx, s.url, file.DefaultFileOsMode, bytes.NewReader(data))
	_ = s.fs.Delete(ctx, tmp)
	if err != nil {
		return apierrors.ErrStorage.WithCause(fmt.Errorf("upload snapshot: %w", err))
	}
	return nil
}

// tempURL 返回与 url 同目录、同扩展名的临时位置。afs 的 Move 在扩展名
// 不同时会把目标当作目录，扩展名一致时才是原地重命名。
func tempURL(url string) string {
	dir, name := path.Split(url)
	ext := path.Ext(name)
	if ext == "" {
		return dir + name + "-tmp"
	}
	return dir + strings.TrimSuffix(name, ext) + ".tmp" + ext
}

// Load 读取快照，不存在时返回 (nil, nil)。
func (s *SnapshotStore) Load(ctx context.Context) (*Index, error) {
	exists, err := s.fs.Exists(ctx, s.url)
	if err != nil {
		return nil, apierrors.ErrStorage.WithCause(err)
	}
	if !exists {
		return nil, nil
	}
	obj, err := s.fs.Object(ctx, s.url)
	if err != nil {
		return nil, apierrors.ErrStorage.WithCause(err)
	}
	if obj.IsDir() {
		// 当作损坏处理，重建后的下一次 Save 会替换它
		return nil, apierrors.ErrIndexCorrupted.WithMessagef("snapshot location %s is a directory", s.url)
	}
	data, err := s.fs.DownloadWithURL(ctx, s.url)
	if err != nil {
		return nil, apierrors.ErrStorage.WithCause(err)
	}
	return Restore(bytes.NewReader(data))
}
