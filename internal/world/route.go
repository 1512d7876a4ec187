package world

import (
	"container/heap"
	"fmt"
	"math"
)

const costEpsilon = 1e-9

// ShortestPath returns the cheapest sequence of nodes from one location to
// another, excluding the start and including the destination, along with its
// total cost. Equal-cost alternatives resolve toward lower node IDs so the
// same query always yields the same route.
func (g *Graph) ShortestPath(from, to NodeID) ([]NodeID, float64, error) {
	if _, ok := g.nodes[from]; !ok {
		return nil, 0, fmt.Errorf("%w: %d", ErrUnknownNode, from)
	}
	if _, ok := g.nodes[to]; !ok {
		return nil, 0, fmt.Errorf("%w: %d", ErrUnknownNode, to)
	}
	if from == to {
		return nil, 0, nil
	}

	dist := map[NodeID]float64{from: 0}
	prev := make(map[NodeID]NodeID)
	done := make(map[NodeID]bool)

	pq := &routeQueue{{id: from, cost: 0}}
	for pq.Len() > 0 {
		cur := heap.Pop(pq).(routeItem)
		if done[cur.id] {
			continue
		}
		done[cur.id] = true
		if cur.id == to {
			break
		}
		for _, e := range g.adj[cur.id] {
			if done[e.To] {
				continue
			}
			nd := cur.cost + e.Cost
			old, seen := dist[e.To]
			switch {
			case !seen || nd < old-costEpsilon:
			case math.Abs(nd-old) <= costEpsilon && cur.id < prev[e.To]:
			default:
				continue
			}
			dist[e.To] = nd
			prev[e.To] = cur.id
			heap.Push(pq, routeItem{id: e.To, cost: nd})
		}
	}

	if !done[to] {
		return nil, 0, fmt.Errorf("%w: %d -> %d", ErrNoRoute, from, to)
	}

	var path []NodeID
	for n := to; n != from; n = prev[n] {
		path = append(path, n)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, dist[to], nil
}

type routeItem struct {
	id   NodeID
	cost float64
}

// routeQueue is a min-heap on cost, then node ID.
type routeQueue []routeItem

func (q routeQueue) Len() int { return len(q) }
func (q routeQueue) Less(i, j int) bool {
	if math.Abs(q[i].cost-q[j].cost) > costEpsilon {
		return q[i].cost < q[j].cost
	}
	return q[i].id < q[j].id
}
func (q routeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *routeQueue) Push(x any)   { *q = append(*q, x.(routeItem)) }
func (q *routeQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}
