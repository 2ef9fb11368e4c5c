package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"hermannm.dev/wrap"

	"github.com/querylens/querylens/internal/storage"
)

var ErrArchiveDisabled = errors.New("upload archive is not configured")

// Archive keeps the raw CSV and a parquet snapshot of each uploaded table in
// an object store.
type Archive struct {
	store storage.ObjectStore
}

func NewArchive(store storage.ObjectStore) *Archive {
	return &Archive{store: store}
}

// Save stores both artifacts and returns the keys written. When the snapshot
// fails the source object is removed again.
func (a *Archive) Save(ctx context.Context, table string, source []byte, dataset Dataset) ([]string, error) {
	metadata := map[string]string{
		storage.MetaTable:    table,
		storage.MetaRowCount: strconv.Itoa(len(dataset.Records)),
		storage.MetaColumns:  strings.Join(dataset.ColumnNames(), ","),
	}
	sourceKey, err := a.put(ctx, table, storage.ArtifactSource, source, metadata)
	if err != nil {
		return nil, err
	}

	snapshot, err := EncodeSnapshot(table, dataset)
	if err == nil {
		var snapshotKey string
		if snapshotKey, err = a.put(ctx, table, storage.ArtifactSnapshot, snapshot, metadata); err == nil {
			return []string{sourceKey, snapshotKey}, nil
		}
	}
	if removeErr := a.store.Delete(ctx, sourceKey); removeErr != nil {
		return nil, wrap.Errors("failed to archive parquet snapshot", err, removeErr)
	}
	return nil, wrap.Error(err, "failed to archive parquet snapshot")
}

// Open returns a reader over one artifact together with its metadata.
func (a *Archive) Open(ctx context.Context, table string, artifact storage.Artifact) (io.ReadCloser, storage.ObjectInfo, error) {
	if a == nil || a.store == nil {
		return nil, storage.ObjectInfo{}, ErrArchiveDisabled
	}
	key, err := storage.UploadPath(table, artifact)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	info, err := a.store.Stat(ctx, key)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	if info.ContentType == "" {
		info.ContentType = artifact.ContentType()
	}
	body, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	return body, info, nil
}

// Remove deletes previously saved keys, reporting every failure.
func (a *Archive) Remove(ctx context.Context, keys []string) error {
	var errs []error
	for _, key := range keys {
		if err := a.store.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return wrap.Errors("failed to remove archived upload", errs...)
	}
	return nil
}

func (a *Archive) put(ctx context.Context, table string, artifact storage.Artifact, body []byte, metadata map[string]string) (string, error) {
	key, err := storage.UploadPath(table, artifact)
	if err != nil {
		return "", err
	}
	if _, err := a.store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), storage.PutOptions{ContentType: artifact.ContentType(), Metadata: metadata}); err != nil {
		return "", wrap.Errorf(err, "failed to archive %s", artifact)
	}
	return key, nil
}
