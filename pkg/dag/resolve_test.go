package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casys-ai/pml/pkg/models"
	"github.com/casys-ai/pml/pkg/pmlerrors"
)

func TestResolveTemplatesNoopWithoutTemplates(t *testing.T) {
	d := &models.DAG{}
	task := &models.Task{ID: 0, Args: map[string]any{"a": 1}}
	require.NoError(t, ResolveTemplates(d, task))
	assert.Equal(t, map[string]any{"a": 1}, task.Args)
}

func TestResolveTemplatesFillsLiteralFromUpstreamOutput(t *testing.T) {
	d := &models.DAG{Tasks: []models.Task{
		{ID: 0, Status: models.TaskSucceeded, Output: map[string]any{"city_name": "Paris"}},
	}}
	task := &models.Task{ID: 1, Templates: map[string]models.ArgumentTemplate{
		"city": {TaskID: 0, Path: []string{"city_name"}},
	}}
	require.NoError(t, ResolveTemplates(d, task))
	assert.Equal(t, "Paris", task.Args["city"])
	assert.Empty(t, task.Templates)
}

func TestResolveTemplatesFailsWhenSourceTaskUnresolved(t *testing.T) {
	d := &models.DAG{Tasks: []models.Task{{ID: 0, Status: models.TaskRunning}}}
	task := &models.Task{ID: 1, Templates: map[string]models.ArgumentTemplate{
		"x": {TaskID: 0, Path: []string{"y"}},
	}}
	err := ResolveTemplates(d, task)
	require.Error(t, err)
	assert.Equal(t, pmlerrors.KindResolutionError, pmlerrors.KindOf(err))
}

func TestResolveTemplatesFailsOnUnknownTask(t *testing.T) {
	d := &models.DAG{}
	task := &models.Task{ID: 1, Templates: map[string]models.ArgumentTemplate{
		"x": {TaskID: 99, Path: []string{"y"}},
	}}
	err := ResolveTemplates(d, task)
	require.Error(t, err)
	assert.Equal(t, pmlerrors.KindResolutionError, pmlerrors.KindOf(err))
}

func TestWalkPathThroughNestedSliceAndMap(t *testing.T) {
	value := map[string]any{
		"items": []any{
			map[string]any{"name": "first"},
			map[string]any{"name": "second"},
		},
	}
	got, err := walkPath(value, []string{"items", "1", "name"})
	require.NoError(t, err)
	assert.Equal(t, "second", got)
}

func TestWalkPathMissingMapKeyFails(t *testing.T) {
	_, err := walkPath(map[string]any{"a": 1}, []string{"b"})
	require.Error(t, err)
	assert.Equal(t, pmlerrors.KindResolutionError, pmlerrors.KindOf(err))
}

func TestWalkPathIndexOutOfRangeFails(t *testing.T) {
	_, err := walkPath([]any{1, 2}, []string{"5"})
	require.Error(t, err)
}

func TestWalkPathDescendsIntoScalarFails(t *testing.T) {
	_, err := walkPath("leaf", []string{"anything"})
	require.Error(t, err)
}
