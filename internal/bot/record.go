package bot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"gopkg.in/yaml.v3"
)

// RecordStore keeps one YAML file per bot under <botsDir>/<env>.
type RecordStore struct {
	dir string
}

// NewRecordStore returns a store rooted at <botsDir>/<env>.
func NewRecordStore(botsDir, env string) *RecordStore {
	return &RecordStore{dir: filepath.Join(botsDir, env)}
}

// Path is the file a bot's record is saved to.
func (s *RecordStore) Path(id int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%012d.yml", id))
}

// Save writes the record, replacing any previous version atomically.
func (s *RecordStore) Save(rec domain.BotRecord) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("bot: records: mkdir: %w", err)
	}
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("bot: records: marshal %d: %w", rec.ID, err)
	}
	tmp, err := os.CreateTemp(s.dir, ".bot-*.yml")
	if err != nil {
		return fmt.Errorf("bot: records: save %d: %w", rec.ID, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("bot: records: save %d: %w", rec.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("bot: records: save %d: %w", rec.ID, err)
	}
	if err := os.Rename(tmp.Name(), s.Path(rec.ID)); err != nil {
		return fmt.Errorf("bot: records: save %d: %w", rec.ID, err)
	}
	return nil
}

// Delete removes a bot's record.
func (s *RecordStore) Delete(id int64) error {
	err := os.Remove(s.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("bot: records: delete %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("bot: records: delete %d: %w", id, err)
	}
	return nil
}

// LoadAll reads every saved record, ordered by id.
func (s *RecordStore) LoadAll() ([]domain.BotRecord, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("bot: records: mkdir: %w", err)
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("bot: records: list: %w", err)
	}
	var records []domain.BotRecord
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || filepath.Ext(e.Name()) != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("bot: records: read %s: %w", e.Name(), err)
		}
		var rec domain.BotRecord
		if err := yaml.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("bot: records: parse %s: %w", e.Name(), err)
		}
		if rec.Status == "" {
			rec.Status = domain.BotStopped
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}
