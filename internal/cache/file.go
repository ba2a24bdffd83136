package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FileTier is a durable tier that stores one {key}.json file per entry in a
// directory. Missing or corrupt files are treated as misses (logged, never
// raised), so a damaged cache directory degrades instead of failing.
type FileTier struct {
	dir string

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewFileTier creates the directory if needed.
func NewFileTier(dir string) (*FileTier, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "cache: create dir %s", dir)
	}
	return &FileTier{dir: dir, nowFunc: time.Now}, nil
}

func (t *FileTier) path(key string) string {
	return filepath.Join(t.dir, key+".json")
}

// Get reads the entry for key. Absent, corrupt, or expired files all return
// (nil, nil).
func (t *FileTier) Get(_ context.Context, key string) (*Entry, error) {
	raw, err := os.ReadFile(t.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "cache: read %s", key)
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		zap.L().Warn("cache: corrupt entry file, treating as miss",
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, nil
	}
	if e.Expired(t.nowFunc()) {
		return nil, nil
	}
	return &e, nil
}

func (t *FileTier) Set(_ context.Context, key string, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return eris.Wrapf(err, "cache: marshal %s", key)
	}
	if err := os.WriteFile(t.path(key), raw, 0o644); err != nil {
		return eris.Wrapf(err, "cache: write %s", key)
	}
	return nil
}

func (t *FileTier) Delete(_ context.Context, key string) error {
	if err := os.Remove(t.path(key)); err != nil && !os.IsNotExist(err) {
		return eris.Wrapf(err, "cache: delete %s", key)
	}
	return nil
}

// Clear removes every entry file in the directory.
func (t *FileTier) Clear(_ context.Context) error {
	names, err := t.entryFiles()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := os.Remove(filepath.Join(t.dir, name)); err != nil && !os.IsNotExist(err) {
			return eris.Wrapf(err, "cache: clear %s", name)
		}
	}
	return nil
}

// SweepExpired deletes entry files past their TTL, counting corrupt files
// as expired.
func (t *FileTier) SweepExpired(_ context.Context) (int, error) {
	names, err := t.entryFiles()
	if err != nil {
		return 0, err
	}

	now := t.nowFunc()
	removed := 0
	for _, name := range names {
		path := filepath.Join(t.dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var e Entry
		expired := json.Unmarshal(raw, &e) != nil || e.Expired(now)
		if !expired {
			continue
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (t *FileTier) entryFiles() ([]string, error) {
	dirEntries, err := os.ReadDir(t.dir)
	if err != nil {
		return nil, eris.Wrapf(err, "cache: read dir %s", t.dir)
	}
	var names []string
	for _, de := range dirEntries {
		if !de.IsDir() && strings.HasSuffix(de.Name(), ".json") {
			names = append(names, de.Name())
		}
	}
	return names, nil
}
