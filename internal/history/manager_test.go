package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yolo-export/internal/types"
)

var job = types.ExportJob{Model: "yolo11n", Format: "onnx", ImgSize: 640, Simplify: true, WorkDir: "."}

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "nested", DefaultFileName))
	require.NoError(t, err)

	clock := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return m
}

func TestManager_RecordAndList(t *testing.T) {
	m := newManager(t)

	ok, err := m.Record(job, types.Result{
		Outcome:   types.OutcomeSuccess,
		Phase:     types.PhaseSuccess,
		Output:    "yolo11n.onnx",
		SizeBytes: 6291456,
		Duration:  1500 * time.Millisecond,
	})
	require.NoError(t, err)
	_, err = uuid.Parse(ok.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(1500), ok.DurationMS)

	failed, err := m.Record(job, types.Result{
		Outcome: types.OutcomeExportFailed,
		Phase:   types.PhaseExporting,
		Message: "Invalid CUDA 'device=0' requested",
	})
	require.NoError(t, err)
	assert.NotEqual(t, ok.ID, failed.ID)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, failed.ID, list[0].ID, "newest first")
	assert.Equal(t, types.PhaseExporting, list[0].Phase)
	assert.Equal(t, ok.ID, list[1].ID)

	got, found := m.Get(ok.ID)
	require.True(t, found)
	assert.Equal(t, int64(6291456), got.SizeBytes)

	_, found = m.Get("missing")
	assert.False(t, found)
}

func TestManager_ListReturnsCopies(t *testing.T) {
	m := newManager(t)
	_, err := m.Record(job, types.Result{Outcome: types.OutcomeSuccess})
	require.NoError(t, err)

	m.List()[0].Model = "changed"
	assert.Equal(t, "yolo11n", m.List()[0].Model)
}

func TestManager_Persistence(t *testing.T) {
	m := newManager(t)
	_, err := m.Record(job, types.Result{Outcome: types.OutcomeFileNotProduced, Message: "yolo11n.onnx not found"})
	require.NoError(t, err)
	_, err = m.Record(job, types.Result{Outcome: types.OutcomeSuccess})
	require.NoError(t, err)

	reopened, err := NewManager(m.Path())
	require.NoError(t, err)
	list := reopened.List()
	require.Len(t, list, 2)
	assert.Equal(t, types.OutcomeSuccess, list[0].Outcome)
	assert.Equal(t, types.OutcomeFileNotProduced, list[1].Outcome)
}

func TestManager_Cap(t *testing.T) {
	m := newManager(t)
	m.maxRecords = 3
	for i := 0; i < 5; i++ {
		_, err := m.Record(types.ExportJob{Model: string(rune('a' + i))}, types.Result{})
		require.NoError(t, err)
	}

	list := m.List()
	require.Len(t, list, 3)
	assert.Equal(t, "e", list[0].Model)
	assert.Equal(t, "c", list[2].Model)
}

func TestManager_Clear(t *testing.T) {
	m := newManager(t)
	_, err := m.Record(job, types.Result{Outcome: types.OutcomeSuccess})
	require.NoError(t, err)

	require.NoError(t, m.Clear())
	assert.Empty(t, m.List())

	data, err := os.ReadFile(m.Path())
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestNewManager_Errors(t *testing.T) {
	_, err := NewManager("")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	_, err = NewManager(path)
	assert.Error(t, err)
}

func TestNewManager_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, nil, 0644))

	m, err := NewManager(path)
	require.NoError(t, err)
	assert.Empty(t, m.List())
}

func TestNewManager_SkipsNullEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	data := `[null, {"id": "a", "model": "yolo11n", "timestamp": "2026-10-14T09:00:00Z"}, null]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	m, err := NewManager(path)
	require.NoError(t, err)
	records := m.List()
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].ID)
}
