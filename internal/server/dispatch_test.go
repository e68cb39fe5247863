package server

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhakti-db/bhakti/internal/engine"
)

func newDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	eng, err := engine.New(engine.Options{
		Dimension: 3,
		Path:      filepath.Join(t.TempDir(), "db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	d := NewDispatcher()
	d.Register(DefaultEngineName, eng)
	return d
}

func handle(t *testing.T, d *Dispatcher, opt, cmd string, param any) Response {
	t.Helper()
	req := map[string]any{
		"db_engine": DefaultEngineName,
		"opt":       opt,
		"cmd":       cmd,
	}
	if param != nil {
		req["param"] = param
	}
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	return d.Handle(payload)
}

func TestHandle_MalformedJSON(t *testing.T) {
	d := newDispatcher(t)
	resp := d.Handle([]byte(`{"opt": `))
	assert.Equal(t, StateException, resp.State)
	assert.Nil(t, resp.Data)
}

func TestHandle_MissingFields(t *testing.T) {
	d := newDispatcher(t)
	resp := d.Handle([]byte(`{"db_engine":"dipamkara"}`))
	assert.Equal(t, StateException, resp.State)
	assert.Contains(t, resp.Message, "opt or cmd")
}

func TestHandle_UnknownEngine(t *testing.T) {
	d := newDispatcher(t)
	resp := d.Handle([]byte(`{"db_engine":"medusa","opt":"read","cmd":"ping"}`))
	assert.Equal(t, StateException, resp.State)
	assert.Contains(t, resp.Message, "not supported")
}

func TestHandle_UnknownOperation(t *testing.T) {
	d := newDispatcher(t)
	resp := handle(t, d, "read", "explode", nil)
	assert.Equal(t, StateException, resp.State)
	assert.Contains(t, resp.Message, "unknown operation")
}

func TestHandle_Ping(t *testing.T) {
	d := newDispatcher(t)
	resp := handle(t, d, OptRead, CmdPing, nil)
	assert.Equal(t, StateOK, resp.State)
	assert.Equal(t, true, resp.Data)
}

func TestHandle_CreateAndInsight(t *testing.T) {
	d := newDispatcher(t)

	resp := handle(t, d, OptCreate, CmdCreate, map[string]any{
		"vector":   []float64{1, 0, 0},
		"document": map[string]any{"age": 30},
		"indices":  []string{"age"},
	})
	require.Equal(t, StateOK, resp.State, resp.Message)
	assert.Equal(t, true, resp.Data)

	resp = handle(t, d, OptInsight, CmdInsight, nil)
	require.Equal(t, StateOK, resp.State)
	insight, ok := resp.Data.(engine.Insight)
	require.True(t, ok)
	assert.Contains(t, insight.Vectors, "[1,0,0]")
	assert.Contains(t, insight.InvertedIndices, "age")
}

func TestHandle_CreateExceptionOnBadShape(t *testing.T) {
	d := newDispatcher(t)

	resp := handle(t, d, OptCreate, CmdCreate, map[string]any{
		"vector":   []float64{1, 0},
		"document": map[string]any{"a": "b"},
	})
	assert.Equal(t, StateException, resp.State)
	assert.Contains(t, resp.Message, "ERR_401_VECTOR_SHAPE")
	assert.Nil(t, resp.Data)
}

func TestHandle_VectorQuery(t *testing.T) {
	d := newDispatcher(t)

	handle(t, d, OptCreate, CmdCreate, map[string]any{
		"vector":   []float64{1, 0, 0},
		"document": map[string]any{"age": 30},
	})

	resp := handle(t, d, OptRead, CmdVectorQuery, map[string]any{
		"vector":       []float64{1, 0, 0},
		"metric_value": "cosine",
		"top_k":        1,
	})
	require.Equal(t, StateOK, resp.State, resp.Message)

	// Wire shape: list of [vector, distance] pairs.
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	assert.JSONEq(t, `[[[1,0,0],0]]`, string(data))
}

func TestHandle_VectorQuery_UnknownMetric(t *testing.T) {
	d := newDispatcher(t)

	handle(t, d, OptCreate, CmdCreate, map[string]any{
		"vector":   []float64{1, 0, 0},
		"document": map[string]any{"a": "b"},
	})

	resp := handle(t, d, OptRead, CmdVectorQuery, map[string]any{
		"vector":       []float64{1, 0, 0},
		"metric_value": "manhattan",
		"top_k":        1,
	})
	assert.Equal(t, StateException, resp.State)
	assert.Contains(t, resp.Message, "ERR_408_METRIC_NOT_SUPPORTED")
}

func TestHandle_RemoveLifecycle(t *testing.T) {
	d := newDispatcher(t)

	handle(t, d, OptCreate, CmdCreate, map[string]any{
		"vector":   []float64{0, 1, 0},
		"document": map[string]any{"color": "red"},
		"indices":  []string{"color"},
	})
	handle(t, d, OptCreate, CmdCreate, map[string]any{
		"vector":   []float64{0, 0, 1},
		"document": map[string]any{"color": "blue"},
	})

	resp := handle(t, d, OptDelete, CmdIndexedRemove, map[string]any{
		"query": `color == "red"`,
	})
	require.Equal(t, StateOK, resp.State, resp.Message)

	resp = handle(t, d, OptDelete, CmdRemoveByVector, map[string]any{
		"vector": []float64{0, 0, 1},
	})
	require.Equal(t, StateOK, resp.State)
	assert.Equal(t, true, resp.Data)

	// Absent vector: success with false.
	resp = handle(t, d, OptDelete, CmdRemoveByVector, map[string]any{
		"vector": []float64{0, 0, 1},
	})
	require.Equal(t, StateOK, resp.State)
	assert.Equal(t, false, resp.Data)
}

func TestHandle_ModifyAndFindDocuments(t *testing.T) {
	d := newDispatcher(t)

	handle(t, d, OptCreate, CmdCreate, map[string]any{
		"vector":   []float64{1, 0, 0},
		"document": map[string]any{"age": 30},
		"indices":  []string{"age"},
	})

	resp := handle(t, d, OptUpdate, CmdModDocByVector, map[string]any{
		"vector": []float64{1, 0, 0},
		"key":    "age",
		"value":  31,
	})
	require.Equal(t, StateOK, resp.State, resp.Message)

	resp = handle(t, d, OptRead, CmdFindDocumentsIndexed, map[string]any{
		"query":        `age == 31`,
		"vector":       []float64{1, 0, 0},
		"metric_value": "chebyshev",
		"top_k":        10,
	})
	require.Equal(t, StateOK, resp.State, resp.Message)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	assert.JSONEq(t, `[[{"age":31},0]]`, string(data))
}

func TestHandle_IndexLifecycle(t *testing.T) {
	d := newDispatcher(t)

	handle(t, d, OptCreate, CmdCreate, map[string]any{
		"vector":   []float64{1, 0, 0},
		"document": map[string]any{"age": 30},
	})

	resp := handle(t, d, OptCreate, CmdCreateIndex, map[string]any{"index": "age"})
	require.Equal(t, StateOK, resp.State, resp.Message)

	resp = handle(t, d, OptCreate, CmdCreateIndex, map[string]any{"index": "age"})
	assert.Equal(t, StateException, resp.State)
	assert.Contains(t, resp.Message, "ERR_404_INDEX_EXISTS")

	resp = handle(t, d, OptDelete, CmdRemoveIndex, map[string]any{"index": "age"})
	require.Equal(t, StateOK, resp.State)

	resp = handle(t, d, OptDelete, CmdRemoveIndex, map[string]any{"index": "age"})
	assert.Equal(t, StateException, resp.State)
	assert.Contains(t, resp.Message, "ERR_405_INDEX_NOT_EXIST")
}

func TestHandle_Save(t *testing.T) {
	d := newDispatcher(t)
	resp := handle(t, d, OptSave, CmdSave, nil)
	require.Equal(t, StateOK, resp.State)
	assert.Equal(t, true, resp.Data)
}

func TestHandle_InvalidateCachedDoc(t *testing.T) {
	d := newDispatcher(t)

	handle(t, d, OptCreate, CmdCreate, map[string]any{
		"vector":   []float64{1, 0, 0},
		"document": map[string]any{"a": "b"},
		"cached":   true,
	})

	resp := handle(t, d, OptDelete, CmdInvalidateCachedDoc, map[string]any{
		"vector": []float64{1, 0, 0},
	})
	require.Equal(t, StateOK, resp.State)
	assert.Equal(t, true, resp.Data)

	resp = handle(t, d, OptDelete, CmdInvalidateCachedDoc, map[string]any{
		"vector": []float64{9, 9, 9},
	})
	assert.Equal(t, StateException, resp.State)
	assert.Contains(t, resp.Message, "ERR_403_VECTOR_NOT_EXIST")
}

func TestHandle_ResponseSerializes(t *testing.T) {
	d := newDispatcher(t)
	resp := handle(t, d, OptInsight, CmdInsight, nil)

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "OK", decoded["state"])
	for _, field := range []string{"state", "message", "data"} {
		assert.Contains(t, decoded, field, fmt.Sprintf("reply must carry %s", field))
	}
}
