package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/daumittal/carprice/internal/fsutil"
)

// Download copies bucket/key into localPath. The local file only appears once the
// whole object has been received; a short read leaves nothing behind.
func Download(ctx context.Context, store Store, bucket, key, localPath string) (ObjectInfo, error) {
	if store == nil {
		return ObjectInfo{}, errors.New("object store is required")
	}
	bucket = strings.TrimSpace(bucket)
	key = strings.TrimSpace(key)
	if bucket == "" || key == "" {
		return ObjectInfo{}, errors.New("bucket and key are required")
	}

	body, info, err := store.Get(ctx, bucket, key)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	defer body.Close()

	err = fsutil.WriteFileAtomic(localPath, fsutil.FilePerm, func(w io.Writer) error {
		n, err := io.Copy(w, body)
		if err != nil {
			return err
		}
		if info.Size >= 0 && n != info.Size {
			return fmt.Errorf("short read: got %d of %d bytes", n, info.Size)
		}
		return nil
	})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("download %s/%s: %w", bucket, key, err)
	}
	return info, nil
}
