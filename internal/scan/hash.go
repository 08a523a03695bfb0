package scan

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/shaiso/taskgraph/internal/domain"
	"github.com/shaiso/taskgraph/internal/shm"
	"github.com/shaiso/taskgraph/internal/telemetry"
)

// hashFile считает xxhash файла или берёт его из прошлого манифеста.
func hashFile(ctx context.Context, in domain.Input) (any, error) {
	p, ok := in.Param.(hashParam)
	if !ok {
		return nil, fmt.Errorf("scan.hash: unexpected param %T", in.Param)
	}

	entry := Entry{Path: p.Rel, Size: p.Size, ModTime: p.ModTime}

	if p.Lookup != "" {
		v, err := shm.Read(ctx, p.Lookup)
		if err != nil {
			return nil, fmt.Errorf("read lookup: %w", err)
		}
		known, _ := v.(map[string]Entry)
		if prev, ok := known[p.Rel]; ok && prev.Size == p.Size && prev.ModTime == p.ModTime {
			entry.Hash = prev.Hash
			entry.Reused = true
			return entry, nil
		}
	}

	sum, err := sumFile(filepath.Join(p.Root, filepath.FromSlash(p.Rel)))
	if err != nil {
		return nil, err
	}
	entry.Hash = sum

	telemetry.FromContext(ctx).Debug("file hashed", "path", p.Rel, "size", p.Size)
	return entry, nil
}

func sumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
