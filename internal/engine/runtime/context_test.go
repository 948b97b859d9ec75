package runtime

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline-ai/flowline/internal/pkg/config"
)

func TestSetAndReadOutputs(t *testing.T) {
	ctx := NewContext(map[string]interface{}{"id": "T1"}, nil)

	ctx.SetOutput("a", map[string]interface{}{"echo": "A"})
	ctx.SetOutput("b", nil)

	assert.Equal(t, "A", ctx.Output("a")["echo"])
	assert.NotNil(t, ctx.Output("b"), "nil outputs stored as empty map")
	assert.Nil(t, ctx.Output("missing"))

	all := ctx.Outputs()
	assert.Len(t, all, 2)
}

func TestConcurrentWriters(t *testing.T) {
	ctx := NewContext(nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ctx.SetOutput(fmt.Sprintf("node-%d", n), map[string]interface{}{"n": n})
		}(i)
	}
	wg.Wait()

	assert.Len(t, ctx.Outputs(), 50)
}

func TestSnapshotFull(t *testing.T) {
	ctx := NewContext(map[string]interface{}{"id": "T1"}, nil)
	ctx.SetOutput("a", map[string]interface{}{"echo": "A", "nested": map[string]interface{}{"k": 1}})

	doc, size, err := ctx.Snapshot(&config.SnapshotConfig{Mode: config.SnapshotModeFull})
	require.NoError(t, err)
	assert.Greater(t, size, 0)

	outputs := doc["outputs"].(map[string]interface{})
	a := outputs["a"].(map[string]interface{})
	assert.Equal(t, "A", a["echo"])
	assert.Contains(t, a, "nested")
}

func TestSnapshotKeysOnly(t *testing.T) {
	ctx := NewContext(nil, nil)
	ctx.SetOutput("a", map[string]interface{}{"id": "X", "blob": strings.Repeat("x", 100)})

	doc, _, err := ctx.Snapshot(&config.SnapshotConfig{
		Mode:          config.SnapshotModeKeysOnly,
		KeysToInclude: []string{"id", "status"},
	})
	require.NoError(t, err)

	a := doc["outputs"].(map[string]interface{})["a"].(map[string]interface{})
	assert.Equal(t, "X", a["id"])
	assert.NotContains(t, a, "blob")
	assert.NotContains(t, a, "status", "absent keys stay absent")
}

func TestSnapshotSummaryOnly(t *testing.T) {
	ctx := NewContext(nil, nil)
	ctx.SetOutput("a", map[string]interface{}{
		"id":     "X",
		"nested": map[string]interface{}{"big": true},
	})

	doc, _, err := ctx.Snapshot(&config.SnapshotConfig{Mode: config.SnapshotModeSummaryOnly})
	require.NoError(t, err)

	a := doc["outputs"].(map[string]interface{})["a"].(map[string]interface{})
	assert.Equal(t, "object", a["type"])
	assert.Equal(t, true, a["truncated"])
	assert.Greater(t, a["size"].(int), 0)
	assert.NotContains(t, a, "id", "payload replaced by shape metadata")
}

func TestSnapshotOverflowFail(t *testing.T) {
	ctx := NewContext(nil, nil)
	ctx.SetOutput("a", map[string]interface{}{"blob": strings.Repeat("x", 2048)})

	_, _, err := ctx.Snapshot(&config.SnapshotConfig{
		Mode:                config.SnapshotModeFull,
		MaxContextSizeBytes: 256,
		OverflowBehavior:    config.OverflowFail,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit")
}

func TestSnapshotOverflowAutoPruneOldest(t *testing.T) {
	ctx := NewContext(nil, nil)
	ctx.SetOutput("first", map[string]interface{}{"blob": strings.Repeat("x", 1024)})
	ctx.SetOutput("second", map[string]interface{}{"small": "ok"})

	doc, size, err := ctx.Snapshot(&config.SnapshotConfig{
		Mode:                config.SnapshotModeFull,
		MaxContextSizeBytes: 512,
		OverflowBehavior:    config.OverflowAutoPruneOldest,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, size, 512)

	outputs := doc["outputs"].(map[string]interface{})
	assert.NotContains(t, outputs, "first", "oldest output pruned first")
	assert.Contains(t, outputs, "second")
	assert.Equal(t, []string{"first"}, doc["pruned"])
}

func TestSnapshotOverflowDropOversize(t *testing.T) {
	ctx := NewContext(nil, nil)
	ctx.SetOutput("small", map[string]interface{}{"k": "v"})
	ctx.SetOutput("huge", map[string]interface{}{"blob": strings.Repeat("x", 4096)})

	doc, size, err := ctx.Snapshot(&config.SnapshotConfig{
		Mode:                config.SnapshotModeFull,
		MaxContextSizeBytes: 512,
		OverflowBehavior:    config.OverflowDropOversize,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, size, 512)

	outputs := doc["outputs"].(map[string]interface{})
	assert.Contains(t, outputs, "small", "small output kept")
	assert.NotContains(t, outputs, "huge", "largest output dropped first")
}

func TestSnapshotNoLimit(t *testing.T) {
	ctx := NewContext(nil, nil)
	ctx.SetOutput("a", map[string]interface{}{"blob": strings.Repeat("x", 4096)})

	_, size, err := ctx.Snapshot(&config.SnapshotConfig{Mode: config.SnapshotModeFull})
	require.NoError(t, err)
	assert.Greater(t, size, 4096)
}
