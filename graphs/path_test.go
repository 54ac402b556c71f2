package graphs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gridSucc builds a successor func from an adjacency list with uniform
// cost.
func gridSucc(adj map[int][]int) successorsFunc {
	return func(n int) []nodeCost {
		out := make([]nodeCost, 0, len(adj[n]))
		for _, next := range adj[n] {
			out = append(out, nodeCost{node: next, cost: 1})
		}
		return out
	}
}

func TestShortestPath(t *testing.T) {
	// 0-1-2-3 with a 0-3 shortcut of higher cost via weights
	adj := map[int][]int{
		0: {1},
		1: {0, 2},
		2: {1, 3},
		3: {2},
	}

	t.Run("FindsPath", func(t *testing.T) {
		nodes, cost, ok := shortestPath(0, 3, gridSucc(adj), 10, 1000)
		require.True(t, ok)
		assert.Equal(t, []int{0, 1, 2, 3}, nodes)
		assert.Equal(t, 3, cost)
	})

	t.Run("HopCapBlocksLongPath", func(t *testing.T) {
		_, _, ok := shortestPath(0, 3, gridSucc(adj), 2, 1000)
		assert.False(t, ok)
	})

	t.Run("IterationCapAborts", func(t *testing.T) {
		_, _, ok := shortestPath(0, 3, gridSucc(adj), 10, 2)
		assert.False(t, ok)
	})

	t.Run("SameStartAndGoalRejected", func(t *testing.T) {
		_, _, ok := shortestPath(0, 0, gridSucc(adj), 10, 1000)
		assert.False(t, ok)
	})

	t.Run("PrefersCheaperRoute", func(t *testing.T) {
		weighted := func(n int) []nodeCost {
			switch n {
			case 0:
				return []nodeCost{{node: 1, cost: 10}, {node: 2, cost: 1}}
			case 1:
				return []nodeCost{{node: 3, cost: 1}}
			case 2:
				return []nodeCost{{node: 3, cost: 1}}
			}
			return nil
		}
		nodes, cost, ok := shortestPath(0, 3, weighted, 10, 1000)
		require.True(t, ok)
		assert.Equal(t, []int{0, 2, 3}, nodes)
		assert.Equal(t, 2, cost)
	})
}

func TestKShortestPaths(t *testing.T) {
	// diamond: 0-1-3 and 0-2-3, plus direct 0-3
	adj := map[int][]int{
		0: {1, 2, 3},
		1: {0, 3},
		2: {0, 3},
		3: {0, 1, 2},
	}

	t.Run("ReturnsDistinctLooplessPaths", func(t *testing.T) {
		paths := kShortestPaths(0, 3, gridSucc(adj), 3, 10, 1000, time.Time{})
		require.Len(t, paths, 3)
		assert.Equal(t, []int{0, 3}, paths[0], "direct path first")

		seen := make(map[string]bool)
		for _, p := range paths {
			key := routeKey(p)
			assert.False(t, seen[key], "paths must be distinct")
			seen[key] = true
		}
	})

	t.Run("CandidatesPopByCostNotHopCount", func(t *testing.T) {
		// Two round-one candidates: a 2-hop detour costing 101 and a
		// 4-hop route costing 4. With k=2 only one can be kept, and the
		// pick must follow cost, not hop count.
		weighted := func(n int) []nodeCost {
			switch n {
			case 0:
				return []nodeCost{{node: 1, cost: 1}, {node: 2, cost: 1}}
			case 1:
				return []nodeCost{{node: 5, cost: 1}, {node: 3, cost: 1}}
			case 2:
				return []nodeCost{{node: 5, cost: 100}}
			case 3:
				return []nodeCost{{node: 4, cost: 1}}
			case 4:
				return []nodeCost{{node: 5, cost: 1}}
			}
			return nil
		}
		paths := kShortestPaths(0, 5, weighted, 2, 10, 1000, time.Time{})
		require.Len(t, paths, 2)
		assert.Equal(t, []int{0, 1, 5}, paths[0])
		assert.Equal(t, []int{0, 1, 3, 4, 5}, paths[1], "the cheaper long route must win over the expensive short one")
	})

	t.Run("ExpiredDeadlineStillYieldsFirstPath", func(t *testing.T) {
		deadline := time.Now().Add(-time.Second)
		paths := kShortestPaths(0, 3, gridSucc(adj), 3, 10, 1000, deadline)
		require.Len(t, paths, 1, "spur searches are abandoned past the deadline")
		assert.Equal(t, []int{0, 3}, paths[0])
	})

	t.Run("NoPathReturnsNil", func(t *testing.T) {
		disjoint := map[int][]int{0: {1}, 1: {0}, 2: {3}, 3: {2}}
		assert.Nil(t, kShortestPaths(0, 3, gridSucc(disjoint), 3, 10, 1000, time.Time{}))
	})

	t.Run("KOneReturnsSinglePath", func(t *testing.T) {
		paths := kShortestPaths(0, 3, gridSucc(adj), 1, 10, 1000, time.Time{})
		require.Len(t, paths, 1)
	})
}
