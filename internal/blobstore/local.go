package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/foldervault/foldervault/internal/auth"
	"github.com/foldervault/foldervault/internal/drive"
)

// zstdSuffix marks blobs stored compressed, so a store can read blobs written before
// compression was toggled.
const zstdSuffix = ".zst"

// LocalOptions configures a Local store.
type LocalOptions struct {
	Dir       string
	Compress  bool
	PublicURL string       // base URL the API is reachable at, used in signed links
	Signer    *auth.Signer // issues blob download tokens
}

// Local stores blobs as files under a root directory. Writes go through a temp file
// and a rename, so a reader never sees a partial blob.
type Local struct {
	dir       string
	compress  bool
	publicURL string
	signer    *auth.Signer
}

var _ drive.BlobStore = (*Local)(nil)

// NewLocal creates the root directory if needed and returns a store over it.
func NewLocal(opts LocalOptions) (*Local, error) {
	if opts.Dir == "" {
		return nil, errors.New("blob directory is required")
	}
	if opts.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &Local{
		dir:       opts.Dir,
		compress:  opts.Compress,
		publicURL: strings.TrimRight(opts.PublicURL, "/"),
		signer:    opts.Signer,
	}, nil
}

// Put streams r to disk under key.
func (l *Local) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return drive.E(drive.KindStorageFailure, "put blob", err)
	}

	dst := l.path(key)
	if l.compress {
		dst += zstdSuffix
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return drive.E(drive.KindStorageFailure, "put blob", fmt.Errorf("create blob dir: %w", err))
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".blob-*.tmp")
	if err != nil {
		return drive.E(drive.KindStorageFailure, "put blob", fmt.Errorf("create temp file: %w", err))
	}
	tmpPath := tmp.Name()
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return drive.E(drive.KindStorageFailure, "put blob", err)
	}

	if l.compress {
		enc, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return fail(fmt.Errorf("create encoder: %w", err))
		}
		if _, err := io.Copy(enc, r); err != nil {
			_ = enc.Close()
			return fail(fmt.Errorf("write blob: %w", err))
		}
		if err := enc.Close(); err != nil {
			return fail(fmt.Errorf("flush encoder: %w", err))
		}
	} else if _, err := io.Copy(tmp, r); err != nil {
		return fail(fmt.Errorf("write blob: %w", err))
	}

	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("sync blob: %w", err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return drive.E(drive.KindStorageFailure, "put blob", fmt.Errorf("close temp file: %w", err))
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return drive.E(drive.KindStorageFailure, "put blob", fmt.Errorf("rename blob: %w", err))
	}
	return nil
}

// Open returns a reader over the decoded content of key.
func (l *Local) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	base := l.path(key)

	f, err := os.Open(base + zstdSuffix)
	if err == nil {
		dec, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
		if err != nil {
			_ = f.Close()
			return nil, drive.E(drive.KindStorageFailure, "open blob", fmt.Errorf("create decoder: %w", err))
		}
		return &zstdReadCloser{dec: dec, f: f}, nil
	}
	if !os.IsNotExist(err) {
		return nil, drive.E(drive.KindStorageFailure, "open blob", err)
	}

	f, err = os.Open(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, drive.ErrBlobNotFound
		}
		return nil, drive.E(drive.KindStorageFailure, "open blob", err)
	}
	return f, nil
}

// Delete removes key. A missing blob is not an error.
func (l *Local) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	base := l.path(key)
	for _, p := range []string{base + zstdSuffix, base} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return drive.E(drive.KindStorageFailure, "delete blob", err)
		}
	}
	return nil
}

// SignedURL returns a link to the API blob endpoint carrying a token for key.
func (l *Local) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	if !l.exists(key) {
		return "", drive.ErrBlobNotFound
	}
	token, err := l.signer.Sign(key, ttl)
	if err != nil {
		return "", drive.E(drive.KindStorageFailure, "sign blob url", err)
	}
	return l.publicURL + "/api/blobs/" + url.PathEscape(token), nil
}

// ResolveToken verifies a download token and returns the blob key it grants.
func (l *Local) ResolveToken(token string) (string, error) {
	key, err := l.signer.Verify(token)
	if err != nil {
		return "", err
	}
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

func (l *Local) exists(key string) bool {
	base := l.path(key)
	for _, p := range []string{base + zstdSuffix, base} {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

func (l *Local) path(key string) string {
	return filepath.Join(l.dir, filepath.FromSlash(key))
}

type zstdReadCloser struct {
	dec *zstd.Decoder
	f   *os.File
}

func (z *zstdReadCloser) Read(p []byte) (int, error) {
	return z.dec.Read(p)
}

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.f.Close()
}
