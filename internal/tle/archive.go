package tle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Archive keeps the element payloads received for each catalog id on disk,
// one timestamped file per payload.
type Archive struct {
	dir      string
	maxFiles int
	mu       sync.Mutex
}

// NewArchive creates an Archive that stores files in dir and keeps at most
// maxFiles per catalog id.
func NewArchive(dir string, maxFiles int) *Archive {
	if maxFiles <= 0 {
		maxFiles = 5
	}
	return &Archive{
		dir:      dir,
		maxFiles: maxFiles,
	}
}

// Dir returns the archive directory.
func (a *Archive) Dir() string {
	return a.dir
}

// Write saves p for catalogID and prunes that id's oldest files beyond maxFiles.
func (a *Archive) Write(catalogID int, p Payload, ts time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return fmt.Errorf("creating archive dir: %w", err)
	}

	name := fmt.Sprintf("tle_%d_%d%s", catalogID, ts.Unix(), extFor(p.Kind))
	path := filepath.Join(a.dir, name)

	if err := os.WriteFile(path, p.Body, 0644); err != nil {
		return fmt.Errorf("writing archive file: %w", err)
	}

	return a.prune(catalogID)
}

// Latest reads the newest archived payload for catalogID.
func (a *Archive) Latest(catalogID int) (Payload, time.Time, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	files, err := a.listFiles(catalogID)
	if err != nil {
		return Payload{}, time.Time{}, err
	}
	if len(files) == 0 {
		return Payload{}, time.Time{}, fmt.Errorf("%w %d in archive", ErrNotFound, catalogID)
	}

	// Files are sorted oldest first; take the last one.
	latest := files[len(files)-1]
	data, err := os.ReadFile(filepath.Join(a.dir, latest.name))
	if err != nil {
		return Payload{}, time.Time{}, fmt.Errorf("reading archive file: %w", err)
	}

	return Payload{Kind: latest.kind, Body: data}, latest.ts, nil
}

// Elements serves the newest archived payload, making the archive usable
// as an offline Source.
func (a *Archive) Elements(ctx context.Context, catalogID int) (Payload, error) {
	if err := ctx.Err(); err != nil {
		return Payload{}, err
	}
	p, _, err := a.Latest(catalogID)
	return p, err
}

// Import writes every entry of a parsed catalogue into the archive, stamped
// with its element epoch.
func (a *Archive) Import(entries []Entry) (int, error) {
	n := 0
	for _, e := range entries {
		if err := a.Write(e.NORADID, e.Payload(), e.Epoch); err != nil {
			return n, fmt.Errorf("importing %d: %w", e.NORADID, err)
		}
		n++
	}
	return n, nil
}

type archiveFile struct {
	name string
	kind Kind
	ts   time.Time
}

func extFor(k Kind) string {
	if k == KindStructured {
		return ".json"
	}
	return ".txt"
}

func (a *Archive) listFiles(catalogID int) ([]archiveFile, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing archive dir: %w", err)
	}

	prefix := fmt.Sprintf("tle_%d_", catalogID)
	var files []archiveFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}

		kind := KindRaw
		ext := filepath.Ext(name)
		switch ext {
		case ".txt":
		case ".json":
			kind = KindStructured
		default:
			continue
		}

		tsStr := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext)
		unix, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			continue
		}
		files = append(files, archiveFile{name: name, kind: kind, ts: time.Unix(unix, 0)})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].ts.Equal(files[j].ts) {
			return files[i].name < files[j].name
		}
		return files[i].ts.Before(files[j].ts)
	})

	return files, nil
}

func (a *Archive) prune(catalogID int) error {
	files, err := a.listFiles(catalogID)
	if err != nil {
		return err
	}

	if len(files) <= a.maxFiles {
		return nil
	}

	for _, f := range files[:len(files)-a.maxFiles] {
		if err := os.Remove(filepath.Join(a.dir, f.name)); err != nil {
			return fmt.Errorf("pruning archive file %s: %w", f.name, err)
		}
	}

	return nil
}

// ArchivingSource passes fetches through to an upstream Source and archives
// every payload that differs from the newest archived one. Archive failures
// are logged and never fail the fetch.
type ArchivingSource struct {
	upstream Source
	archive  *Archive
	logger   *slog.Logger
	now      func() time.Time
}

// NewArchivingSource wraps upstream with write-through archiving.
func NewArchivingSource(upstream Source, archive *Archive, logger *slog.Logger) *ArchivingSource {
	return &ArchivingSource{
		upstream: upstream,
		archive:  archive,
		logger:   logger,
		now:      time.Now,
	}
}

// Elements fetches from upstream and archives changed payloads.
func (s *ArchivingSource) Elements(ctx context.Context, catalogID int) (Payload, error) {
	p, err := s.upstream.Elements(ctx, catalogID)
	if err != nil {
		return Payload{}, err
	}

	if prev, _, err := s.archive.Latest(catalogID); err == nil && prev.Equal(p) {
		return p, nil
	}
	if err := s.archive.Write(catalogID, p, s.now()); err != nil {
		s.logger.Warn("archiving elements failed", "norad_id", catalogID, "error", err)
	}
	return p, nil
}
