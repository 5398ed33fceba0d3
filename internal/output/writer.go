package output

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/markdown-crawler/internal/crawler"
	"github.com/JakeFAU/markdown-crawler/internal/hash/sha256"
)

const maxSuffix = 10000

// WriterConfig captures where and how artifacts are written.
type WriterConfig struct {
	// Root is the output directory; it is created when missing.
	Root string `mapstructure:"root"`
	// Overwrite replaces files left by earlier runs instead of suffixing.
	Overwrite bool `mapstructure:"overwrite"`
}

// Hasher digests rendered artifacts.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Writer implements crawler.PageWriter on the local filesystem. Paths written
// during the lifetime of a Writer are never overwritten.
type Writer struct {
	cfg      WriterConfig
	resolver *Resolver
	logger   *zap.Logger
	hasher   Hasher

	mu      sync.Mutex
	claimed map[string]struct{}
}

// NewWriter creates the output root and checks that it is writable.
func NewWriter(cfg WriterConfig, logger *zap.Logger) (*Writer, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, fmt.Errorf("output root is required")
	}
	info, err := os.Stat(cfg.Root)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.Root, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create output root: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat output root: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("output root %q is not a directory", cfg.Root)
	}

	probe, err := os.CreateTemp(cfg.Root, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("output root is not writable: %w", err)
	}
	name := probe.Name()
	if err := probe.Close(); err != nil {
		return nil, fmt.Errorf("close probe file: %w", err)
	}
	if err := os.Remove(name); err != nil {
		return nil, fmt.Errorf("remove probe file: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		cfg:      cfg,
		resolver: NewResolver(cfg.Root),
		logger:   logger,
		hasher:   sha256.New(),
		claimed:  make(map[string]struct{}),
	}, nil
}

// Save renders page and writes it to a fresh file.
func (w *Writer) Save(_ context.Context, page crawler.ResolvedPage) (crawler.SavedFile, error) {
	loc := w.resolver.Locate(page)
	dir := loc.Dir()
	if err := w.checkInsideRoot(dir); err != nil {
		return crawler.SavedFile{}, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return crawler.SavedFile{}, fmt.Errorf("create output directory: %w", err)
	}

	f, full, suffix, err := w.claim(dir, loc.Filename)
	if err != nil {
		return crawler.SavedFile{}, err
	}
	content := RenderDocument(page)
	n, writeErr := f.Write(content)
	closeErr := f.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		return crawler.SavedFile{}, fmt.Errorf("write %s: %w", full, err)
	}

	digest, err := w.hasher.Hash(content)
	if err != nil {
		return crawler.SavedFile{}, fmt.Errorf("hash %s: %w", full, err)
	}

	rel, err := filepath.Rel(w.resolver.root, full)
	if err != nil {
		rel = filepath.Base(full)
	}
	if suffix > 0 {
		w.logger.Debug("disambiguated output path",
			zap.String("wanted", loc.Filename),
			zap.String("path", full),
		)
	}
	return crawler.SavedFile{
		Path:          full,
		RelPath:       filepath.ToSlash(rel),
		Bytes:         int64(n),
		Digest:        digest,
		Disambiguated: suffix > 0,
		Content:       content,
	}, nil
}

// claim opens the first free candidate name and records it for this run.
func (w *Writer) claim(dir, filename string) (*os.File, string, int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if w.cfg.Overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	for suffix := 0; suffix < maxSuffix; suffix++ {
		full := filepath.Join(dir, candidate(filename, suffix))
		if _, taken := w.claimed[full]; taken {
			continue
		}
		f, err := os.OpenFile(full, flags, 0o640)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", 0, fmt.Errorf("open %s: %w", full, err)
		}
		w.claimed[full] = struct{}{}
		return f, full, suffix, nil
	}
	return nil, "", 0, fmt.Errorf("no free file name for %s in %s", filename, dir)
}

func (w *Writer) checkInsideRoot(dir string) error {
	root := w.resolver.root
	clean := filepath.Clean(dir)
	if clean != root && !strings.HasPrefix(clean, root+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected: %s", dir)
	}
	return nil
}

// candidate inserts _<n> before the extension for n > 0.
func candidate(filename string, n int) string {
	if n == 0 {
		return filename
	}
	ext := filepath.Ext(filename)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(filename, ext), n, ext)
}
