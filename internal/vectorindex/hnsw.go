package vectorindex

import "sort"

// graph is a simplified single-layer HNSW variant: each node keeps up to M
// nearest neighbors by cosine similarity, built greedily by scanning
// existing nodes at insert time (no multi-layer skip structure, since the
// index sizes this cascade deals with — per-scope decision counts, not a
// corpus-scale embedding collection — never justify the extra complexity
// of true multi-layer HNSW). Search is a greedy best-first walk from an
// entry point, expanded breadth-first up to ef candidates.
type graph struct {
	M        int
	ef       int
	nodes    []node
	entry    int // index of the entry-point node, -1 if empty
}

type node struct {
	vec       Embedding
	neighbors []int
}

func newGraph(m, ef int) *graph {
	if m <= 0 {
		m = 16
	}
	if ef <= 0 {
		ef = 64
	}
	return &graph{M: m, ef: ef, entry: -1}
}

// insert adds vec to the graph and wires it to its M nearest existing
// neighbors (and them back to it, trimming each neighbor list to M by
// similarity).
func (g *graph) insert(vec Embedding) int {
	id := len(g.nodes)
	g.nodes = append(g.nodes, node{vec: vec})
	if g.entry == -1 {
		g.entry = id
		return id
	}

	candidates := g.searchCandidates(vec, g.ef, -1)
	limit := g.M
	if limit > len(candidates) {
		limit = len(candidates)
	}
	for i := 0; i < limit; i++ {
		nb := candidates[i].id
		g.nodes[id].neighbors = append(g.nodes[id].neighbors, nb)
		g.nodes[nb].neighbors = append(g.nodes[nb].neighbors, id)
		g.trimNeighbors(nb)
	}
	return id
}

func (g *graph) trimNeighbors(id int) {
	if len(g.nodes[id].neighbors) <= g.M {
		return
	}
	vec := g.nodes[id].vec
	type scored struct {
		id  int
		sim float32
	}
	scoredList := make([]scored, 0, len(g.nodes[id].neighbors))
	for _, nb := range g.nodes[id].neighbors {
		scoredList = append(scoredList, scored{nb, Cosine(vec, g.nodes[nb].vec)})
	}
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].sim > scoredList[j].sim })
	if len(scoredList) > g.M {
		scoredList = scoredList[:g.M]
	}
	trimmed := make([]int, len(scoredList))
	for i, s := range scoredList {
		trimmed[i] = s.id
	}
	g.nodes[id].neighbors = trimmed
}

type candidate struct {
	id  int
	sim float32
}

// searchCandidates performs a greedy best-first expansion from the entry
// point, visiting up to ef nodes, and returns them sorted by descending
// similarity to query. excludeID skips a node entirely (used when the
// caller wants to exclude the queried vector's own future slot — unused
// today but kept for symmetry with insert's candidate scan).
func (g *graph) searchCandidates(query Embedding, ef int, excludeID int) []candidate {
	if g.entry == -1 {
		return nil
	}
	visited := map[int]bool{g.entry: true}
	frontier := []int{g.entry}
	var results []candidate
	results = append(results, candidate{g.entry, Cosine(query, g.nodes[g.entry].vec)})

	for len(frontier) > 0 && len(visited) < ef {
		next := frontier[0]
		frontier = frontier[1:]
		for _, nb := range g.nodes[next].neighbors {
			if visited[nb] || nb == excludeID {
				continue
			}
			visited[nb] = true
			results = append(results, candidate{nb, Cosine(query, g.nodes[nb].vec)})
			frontier = append(frontier, nb)
			if len(visited) >= ef {
				break
			}
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].sim > results[j].sim })
	return results
}

// nearest returns the single closest node to query, or ok=false if the
// graph is empty.
func (g *graph) nearest(query Embedding) (id int, sim float32, ok bool) {
	if g.entry == -1 {
		return 0, 0, false
	}
	cands := g.searchCandidates(query, g.ef, -1)
	if len(cands) == 0 {
		return 0, 0, false
	}
	return cands[0].id, cands[0].sim, true
}
