package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casys-ai/pml/pkg/models"
	"github.com/casys-ai/pml/pkg/pmlerrors"
)

func taskSet(depsByID map[int][]int) *models.DAG {
	d := &models.DAG{}
	for id, deps := range depsByID {
		d.Tasks = append(d.Tasks, models.Task{ID: id, DependsOn: deps})
	}
	return d
}

func TestLayersOrdersByDependency(t *testing.T) {
	d := taskSet(map[int][]int{
		0: nil,
		1: nil,
		2: {0, 1},
		3: {2},
	})
	layers, err := Layers(d)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0, 1}, {2}, {3}}, layers)
}

func TestLayersDetectsCycle(t *testing.T) {
	d := taskSet(map[int][]int{
		0: {1},
		1: {0},
	})
	_, err := Layers(d)
	require.Error(t, err)
	assert.Equal(t, pmlerrors.KindCyclicDag, pmlerrors.KindOf(err))
}

func TestAcyclicReportsFalseOnCycle(t *testing.T) {
	d := taskSet(map[int][]int{0: {1}, 1: {0}})
	assert.False(t, Acyclic(d))

	d2 := taskSet(map[int][]int{0: nil, 1: {0}})
	assert.True(t, Acyclic(d2))
}

func TestBreakCycleDropsWeakestEdge(t *testing.T) {
	d := taskSet(map[int][]int{0: {1}, 1: {0}})
	support := map[string]int64{
		EdgeKey(0, 1): 5,
		EdgeKey(1, 0): 1,
	}
	taskID, dropped, ok := BreakCycle(d, support)
	require.True(t, ok)
	assert.Equal(t, 0, taskID)
	assert.Equal(t, 1, dropped)
	assert.True(t, Acyclic(d))
}

func TestBreakCycleNoopOnAcyclicDAG(t *testing.T) {
	d := taskSet(map[int][]int{0: nil, 1: {0}})
	_, _, ok := BreakCycle(d, nil)
	assert.False(t, ok)
}

func TestEdgeKeyIsDirectional(t *testing.T) {
	assert.NotEqual(t, EdgeKey(0, 1), EdgeKey(1, 0))
	assert.Equal(t, "0->1", EdgeKey(0, 1))
}
