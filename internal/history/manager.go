// Package history keeps an opt-in JSON log of export runs.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"yolo-export/internal/types"
)

const (
	// DefaultFileName is the history file inside the app data directory.
	DefaultFileName = "history.json"
	// DefaultMaxRecords caps how many runs are kept; oldest go first.
	DefaultMaxRecords = 200
)

// Record 导出运行记录
type Record struct {
	ID         string        `json:"id"`
	Model      string        `json:"model"`
	Format     string        `json:"format"`
	ImgSize    int           `json:"imgsz"`
	Outcome    types.Outcome `json:"outcome"`
	Phase      types.Phase   `json:"phase"` // phase reached when the run ended
	Message    string        `json:"message,omitempty"`
	Output     string        `json:"output"`
	SizeBytes  int64         `json:"size_bytes,omitempty"`
	DurationMS int64         `json:"duration_ms"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Manager 运行记录管理器
type Manager struct {
	path       string
	maxRecords int
	now        func() time.Time

	mu      sync.RWMutex
	records []*Record // oldest first
}

// DefaultPath returns ~/<appDir>/history.json.
func DefaultPath(appDir string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, appDir, DefaultFileName), nil
}

// NewManager opens the history file at path, creating its directory.
func NewManager(path string) (*Manager, error) {
	if path == "" {
		return nil, fmt.Errorf("history path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	m := &Manager{
		path:       path,
		maxRecords: DefaultMaxRecords,
		now:        time.Now,
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// Path returns the backing file.
func (m *Manager) Path() string {
	return m.path
}

// Record appends the result of one run and persists the log.
func (m *Manager) Record(job types.ExportJob, res types.Result) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := &Record{
		ID:         uuid.New().String(),
		Model:      job.Model,
		Format:     job.Format,
		ImgSize:    job.ImgSize,
		Outcome:    res.Outcome,
		Phase:      res.Phase,
		Message:    res.Message,
		Output:     res.Output,
		SizeBytes:  res.SizeBytes,
		DurationMS: res.Duration.Milliseconds(),
		Timestamp:  m.now(),
	}

	m.records = append(m.records, rec)
	if over := len(m.records) - m.maxRecords; over > 0 {
		m.records = m.records[over:]
	}

	if err := m.save(); err != nil {
		return nil, err
	}
	recordCopy := *rec
	return &recordCopy, nil
}

// List returns copies of all records, newest first.
func (m *Manager) List() []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*Record, 0, len(m.records))
	for i := len(m.records) - 1; i >= 0; i-- {
		recordCopy := *m.records[i]
		records = append(records, &recordCopy)
	}
	return records
}

// Get looks a record up by ID.
func (m *Manager) Get(id string) (*Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.records {
		if rec.ID == id {
			recordCopy := *rec
			return &recordCopy, true
		}
	}
	return nil, false
}

// Clear drops every record.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = nil
	return m.save()
}

// load 从文件加载记录
func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read history file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var records []*Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to unmarshal history: %w", err)
	}
	kept := records[:0]
	for _, r := range records {
		if r != nil {
			kept = append(kept, r)
		}
	}
	records = kept
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	m.records = records
	return nil
}

// save 保存记录到文件
func (m *Manager) save() error {
	records := m.records
	if records == nil {
		records = []*Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write history file: %w", err)
	}
	return nil
}
