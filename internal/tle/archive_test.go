package tle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestArchiveWriteLatest(t *testing.T) {
	dir := t.TempDir()
	a := NewArchive(dir, 3)

	base := time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC)
	older := RawPayload(issText)
	newer := StructuredPayload(issLine1, issLine2)

	if err := a.Write(25544, older, base); err != nil {
		t.Fatal(err)
	}
	if err := a.Write(25544, newer, base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := a.Write(44713, RawPayload(starlinkName+"\n"+starlinkLine1+"\n"+starlinkLine2+"\n"), base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	p, ts, err := a.Latest(25544)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Equal(newer) {
		t.Errorf("latest payload = %s %q", p.Kind, p.Body)
	}
	if !ts.Equal(base.Add(time.Minute)) {
		t.Errorf("latest ts = %v", ts)
	}

	if _, _, err := a.Latest(1); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestArchivePrunesPerCatalog(t *testing.T) {
	dir := t.TempDir()
	a := NewArchive(dir, 2)
	base := time.Unix(1_700_000_000, 0)

	for i := 0; i < 5; i++ {
		if err := a.Write(25544, RawPayload(issText), base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.Write(44713, RawPayload(issText), base); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var iss, starlink int
	for _, e := range entries {
		switch {
		case strings.HasPrefix(e.Name(), "tle_25544_"):
			iss++
		case strings.HasPrefix(e.Name(), "tle_44713_"):
			starlink++
		}
	}
	if iss != 2 || starlink != 1 {
		t.Errorf("files: iss=%d starlink=%d, want 2 and 1", iss, starlink)
	}

	// The survivors are the two newest.
	if _, err := os.Stat(filepath.Join(dir, "tle_25544_1700000004.txt")); err != nil {
		t.Errorf("newest file missing: %v", err)
	}
}

func TestArchiveIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "tle_25544_notanumber.txt"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(dir, "tle_25544_1700000000.bin"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(dir, "readme.md"), []byte("x"), 0644)

	a := NewArchive(dir, 5)
	if _, _, err := a.Latest(25544); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestArchiveImport(t *testing.T) {
	data := starlinkName + "\n" + starlinkLine1 + "\n" + starlinkLine2 + "\n" + issText
	entries, err := Parse(strings.NewReader(data), testLogger)
	if err != nil {
		t.Fatal(err)
	}

	a := NewArchive(t.TempDir(), 5)
	n, err := a.Import(entries)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("imported %d, want 2", n)
	}

	p, err := a.Elements(context.Background(), 44713)
	if err != nil {
		t.Fatal(err)
	}
	l, err := Normalize(p)
	if err != nil {
		t.Fatal(err)
	}
	if l.CatalogID() != 44713 {
		t.Errorf("catalog id = %d", l.CatalogID())
	}
}

func TestArchivingSource(t *testing.T) {
	current := RawPayload(issText)
	var calls int
	upstream := SourceFunc(func(ctx context.Context, id int) (Payload, error) {
		calls++
		if id != 25544 {
			return Payload{}, ErrNotFound
		}
		return current, nil
	})

	dir := t.TempDir()
	a := NewArchive(dir, 10)
	src := NewArchivingSource(upstream, a, testLogger)
	tick := time.Unix(1_700_000_000, 0)
	src.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := src.Elements(ctx, 25544); err != nil {
			t.Fatal(err)
		}
	}
	current = StructuredPayload(issLine1, issLine2)
	if _, err := src.Elements(ctx, 25544); err != nil {
		t.Fatal(err)
	}

	files, _ := os.ReadDir(dir)
	if len(files) != 2 {
		t.Errorf("archived %d files, want 2 (one per distinct payload)", len(files))
	}

	// Upstream errors pass through and archive nothing.
	if _, err := src.Elements(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected upstream error, got %v", err)
	}
	if calls != 5 {
		t.Errorf("upstream calls = %d", calls)
	}
}
