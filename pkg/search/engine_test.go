package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/casys-ai/pml/pkg/graph"
)

func TestAlphaFromScoresEmptyPoolFallsBackToDefault(t *testing.T) {
	assert.Equal(t, 0.6, alphaFromScores(nil))
}

func TestAlphaFromScoresDominantCandidatePushesTowardCeiling(t *testing.T) {
	scores := []semScore{{id: "a", semantic: 0.95}, {id: "b", semantic: 0.05}}
	alpha := alphaFromScores(scores)
	assert.GreaterOrEqual(t, alpha, hybridAlphaFloor)
	assert.LessOrEqual(t, alpha, hybridAlphaCeil)
}

func TestAlphaFromScoresFlatDistributionStaysNearFloor(t *testing.T) {
	scores := make([]semScore, 20)
	for i := range scores {
		scores[i] = semScore{id: string(rune('a' + i)), semantic: 0.5}
	}
	assert.InDelta(t, hybridAlphaFloor, alphaFromScores(scores), 0.1)
}

func TestAlphaFromScoresNonPositiveMeanFallsToFloor(t *testing.T) {
	scores := []semScore{{id: "a", semantic: 0}, {id: "b", semantic: 0}}
	assert.Equal(t, hybridAlphaFloor, alphaFromScores(scores))
}

func TestMeanRelatednessSingleCandidateIsZero(t *testing.T) {
	g := graph.New(nil)
	pool := []semScore{{id: "a", semantic: 1}}
	assert.Equal(t, float64(0), meanRelatedness(g, "a", pool))
}

func TestMeanRelatednessAveragesOverOtherCandidates(t *testing.T) {
	g := graph.New([][2]string{{"a", "c"}, {"b", "c"}, {"c", "d"}})
	pool := []semScore{{id: "a"}, {id: "b"}, {id: "z"}}
	score := meanRelatedness(g, "a", pool)
	assert.Greater(t, score, 0.0)
}

func TestTopKFiltersBelowMinScore(t *testing.T) {
	candidates := []Candidate{
		{ToolID: "a", Score: 0.9},
		{ToolID: "b", Score: 0.1},
	}
	got := topK(candidates, 10, 0.5)
	assert.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ToolID)
}

func TestTopKOrdersByScoreThenRecency(t *testing.T) {
	candidates := []Candidate{
		{ToolID: "old", Score: 0.8, RecencyUnix: 100},
		{ToolID: "new", Score: 0.8, RecencyUnix: 200},
		{ToolID: "best", Score: 0.9, RecencyUnix: 50},
	}
	got := topK(candidates, 10, 0)
	assert.Equal(t, []string{"best", "new", "old"}, []string{got[0].ToolID, got[1].ToolID, got[2].ToolID})
}

func TestTopKRespectsLimit(t *testing.T) {
	candidates := []Candidate{{ToolID: "a", Score: 0.9}, {ToolID: "b", Score: 0.8}, {ToolID: "c", Score: 0.7}}
	got := topK(candidates, 2, 0)
	assert.Len(t, got, 2)
}

func TestTopKZeroReturnsEmpty(t *testing.T) {
	candidates := []Candidate{{ToolID: "a", Score: 0.9}, {ToolID: "b", Score: 0.8}}
	got := topK(candidates, 0, 0)
	assert.Empty(t, got)
}
