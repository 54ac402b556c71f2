package graphs

import (
	"container/heap"
	"fmt"
	"sort"
	"time"
)

// nodeCost is one weighted successor offered to the path search.
type nodeCost struct {
	node int
	cost int
}

// successorsFunc returns the weighted neighbors of a node in insertion
// order, which keeps the search deterministic for a given graph history.
type successorsFunc func(node int) []nodeCost

// pqItem is one frontier entry of the Dijkstra search. parent indexes the
// settled list for path reconstruction.
type pqItem struct {
	cost   int
	hops   int
	node   int
	parent int
}

type itemHeap []pqItem

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].cost != h[j].cost {
		return h[i].cost < h[j].cost
	}
	return h[i].node < h[j].node
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)   { *h = append(*h, x.(pqItem)) }
func (h *itemHeap) Pop() any     { old := *h; n := len(old); x := old[n-1]; *h = old[:n-1]; return x }

// shortestPath runs a hop-capped Dijkstra from start to goal. The hop cap
// bounds worst-case cost on very dense multigraphs; maxIters is a second
// safety net on total pops.
func shortestPath(start, goal int, succ successorsFunc, maxHops, maxIters int) ([]int, int, bool) {
	if start == goal {
		return nil, 0, false
	}

	frontier := &itemHeap{{cost: 0, hops: 0, node: start, parent: -1}}
	best := map[int]int{start: 0}
	done := make(map[int]bool)
	settled := make([]pqItem, 0, 64)

	iters := 0
	for frontier.Len() > 0 {
		iters++
		if iters > maxIters {
			return nil, 0, false
		}

		item := heap.Pop(frontier).(pqItem)
		if done[item.node] {
			continue
		}
		done[item.node] = true

		settledIdx := len(settled)
		settled = append(settled, item)

		if item.node == goal {
			return reconstruct(settled, settledIdx), item.cost, true
		}
		if item.hops >= maxHops {
			continue
		}

		for _, next := range succ(item.node) {
			if done[next.node] {
				continue
			}
			nextCost := item.cost + next.cost
			if prev, ok := best[next.node]; ok && nextCost >= prev {
				continue
			}
			best[next.node] = nextCost
			heap.Push(frontier, pqItem{
				cost:   nextCost,
				hops:   item.hops + 1,
				node:   next.node,
				parent: settledIdx,
			})
		}
	}

	return nil, 0, false
}

func reconstruct(settled []pqItem, idx int) []int {
	var reversed []int
	for i := idx; i >= 0; i = settled[i].parent {
		reversed = append(reversed, settled[i].node)
	}
	nodes := make([]int, len(reversed))
	for i, n := range reversed {
		nodes[len(reversed)-1-i] = n
	}
	return nodes
}

type route struct {
	nodes []int
	cost  int
}

type routeHeap []route

func (h routeHeap) Len() int { return len(h) }
func (h routeHeap) Less(i, j int) bool {
	if h[i].cost != h[j].cost {
		return h[i].cost < h[j].cost
	}
	return len(h[i].nodes) < len(h[j].nodes)
}
func (h routeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *routeHeap) Push(x any)   { *h = append(*h, x.(route)) }
func (h *routeHeap) Pop() any     { old := *h; n := len(old); x := old[n-1]; *h = old[:n-1]; return x }

// kShortestPaths computes up to k loopless shortest paths from start to
// goal using Yen's algorithm over the hop-capped Dijkstra. The deadline
// bounds the spur searches; the first shortest path, if any, is always
// returned even when the deadline has already passed.
func kShortestPaths(
	start, goal int,
	succ successorsFunc,
	k, maxHops, maxIters int,
	deadline time.Time,
) [][]int {
	first, cost, ok := shortestPath(start, goal, succ, maxHops, maxIters)
	if !ok {
		return nil
	}

	routes := []route{{nodes: first, cost: cost}}
	if k <= 1 {
		return [][]int{first}
	}

	seen := map[string]struct{}{routeKey(first): {}}
	candidates := &routeHeap{}

	for ki := 0; ki < k-1; ki++ {
		if ki >= len(routes) || len(routes) >= k {
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}

		previous := routes[ki].nodes
		for i := 0; i < len(previous)-1; i++ {
			spur := previous[i]
			rootPath := previous[:i]

			// Edges leaving the spur node that an accepted route with the
			// same prefix already used must not be reused.
			bannedEdges := make(map[[2]int]struct{})
			for _, r := range routes {
				if len(r.nodes) > i+1 && sameNodes(r.nodes[:i], rootPath) && r.nodes[i] == spur {
					bannedEdges[[2]int{spur, r.nodes[i+1]}] = struct{}{}
				}
			}
			bannedNodes := make(map[int]struct{}, len(rootPath))
			for _, n := range rootPath {
				bannedNodes[n] = struct{}{}
			}

			filtered := func(n int) []nodeCost {
				raw := succ(n)
				out := raw[:0:0]
				for _, nc := range raw {
					if _, banned := bannedNodes[nc.node]; banned {
						continue
					}
					if _, banned := bannedEdges[[2]int{n, nc.node}]; banned {
						continue
					}
					out = append(out, nc)
				}
				return out
			}

			spurPath, _, ok := shortestPath(spur, goal, filtered, maxHops-i, maxIters)
			if !ok {
				continue
			}

			nodes := make([]int, 0, i+len(spurPath))
			nodes = append(nodes, rootPath...)
			nodes = append(nodes, spurPath...)

			key := routeKey(nodes)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			heap.Push(candidates, route{nodes: nodes, cost: pathCost(nodes, succ)})
		}

		if candidates.Len() == 0 {
			break
		}
		routes = append(routes, heap.Pop(candidates).(route))
	}

	sort.Slice(routes, func(i, j int) bool {
		if routes[i].cost != routes[j].cost {
			return routes[i].cost < routes[j].cost
		}
		return len(routes[i].nodes) < len(routes[j].nodes)
	})

	out := make([][]int, len(routes))
	for i, r := range routes {
		out[i] = r.nodes
	}
	return out
}

func sameNodes(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// pathCost recomputes a path's total cost; Yen's spur paths do not carry
// the cost of their recycled prefix.
func pathCost(nodes []int, succ successorsFunc) int {
	total := 0
	for i := 0; i+1 < len(nodes); i++ {
		for _, nc := range succ(nodes[i]) {
			if nc.node == nodes[i+1] {
				total += nc.cost
				break
			}
		}
	}
	return total
}

func routeKey(nodes []int) string {
	return fmt.Sprint(nodes)
}
