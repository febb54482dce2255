package store

import (
	"bytes"
	"context"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	apierrors "github.com/kart-io/docask/pkg/errors"
)

type blobs struct {
	fs      afs.Service
	baseURL string
}

// NewBlobStore 在 afs 支持的任意位置保存原始上传文件。
func NewBlobStore(baseURL string) BlobStore {
	return &blobs{fs: afs.New(), baseURL: strings.TrimRight(baseURL, "/")}
}

func (b *blobs) location(id string) string {
	return url.Join(b.baseURL, id+".bin")
}

// Put 写入原始字节。
func (b *blobs) Put(ctx context.Context, id string, data []byte) error {
	if err := b.fs.Upload(ctx, b.location(id), file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return apierrors.ErrStorage.WithCause(err)
	}
	return nil
}

// Get 读取原始字节，不存在时返回 ErrDocumentNotFound。
func (b *blobs) Get(ctx context.Context, id string) ([]byte, error) {
	ok, err := b.Exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierrors.ErrDocumentNotFound.WithMessagef("raw content of document %s not retained", id)
	}
	data, err := b.fs.DownloadWithURL(ctx, b.location(id))
	if err != nil {
		return nil, apierrors.ErrStorage.WithCause(err)
	}
	return data, nil
}

// Delete 删除原始字节，不存在时为空操作。
func (b *blobs) Delete(ctx context.Context, id string) error {
	ok, err := b.Exists(ctx, id)
	if err != nil || !ok {
		return err
	}
	if err := b.fs.Delete(ctx, b.location(id)); err != nil {
		return apierrors.ErrStorage.WithCause(err)
	}
	return nil
}

// Exists 报告原始字节是否存在。
func (b *blobs) Exists(ctx context.Context, id string) (bool, error) {
	ok, err := b.fs.Exists(ctx, b.location(id))
	if err != nil {
		return false, apierrors.ErrStorage.WithCause(err)
	}
	return ok, nil
}
