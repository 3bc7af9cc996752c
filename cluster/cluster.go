// Package cluster groups embeddings by cosine similarity for the
// consolidation pass.
//
// Two strategies: hierarchical agglomerative clustering (average
// linkage) for chunk-sized inputs, and graph clustering over a scratch
// vector index for large corpora where the quadratic distance matrix
// would not fit.
package cluster

import (
	"context"
	"fmt"

	"github.com/becomeliminal/tiermem-go/codec"
	"github.com/becomeliminal/tiermem-go/index/hnsw"
)

// Cluster holds the input positions of one group's members.
type Cluster struct {
	Members []int
}

// Centroid returns the component-wise mean of the member embeddings.
func (c Cluster) Centroid(vectors [][]float32) []float32 {
	if len(c.Members) == 0 {
		return nil
	}
	dim := len(vectors[c.Members[0]])
	centroid := make([]float32, dim)
	for _, m := range c.Members {
		for i, f := range vectors[m] {
			centroid[i] += f
		}
	}
	inv := 1 / float32(len(c.Members))
	for i := range centroid {
		centroid[i] *= inv
	}
	return centroid
}

// Agglomerative clusters vectors with average-linkage hierarchical
// agglomerative clustering over cosine distance. Merging stops once the
// closest pair of clusters is farther apart than diameter.
func Agglomerative(vectors [][]float32, diameter float64) ([]Cluster, error) {
	n := len(vectors)
	if n == 0 {
		return nil, nil
	}

	// Pairwise cosine distance matrix.
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sim, err := codec.CosineSimilarity(vectors[i], vectors[j])
			if err != nil {
				return nil, fmt.Errorf("cluster: distance %d/%d: %w", i, j, err)
			}
			d := 1 - sim
			dist[i][j] = d
			dist[j][i] = d
		}
	}

	members := make([][]int, n)
	active := make([]bool, n)
	for i := range members {
		members[i] = []int{i}
		active[i] = true
	}

	// Lance-Williams average-linkage updates keep each merge O(n).
	for {
		bestI, bestJ := -1, -1
		bestD := diameter
		for i := 0; i < n; i++ {
			if !active[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if !active[j] {
					continue
				}
				if dist[i][j] <= bestD {
					bestD = dist[i][j]
					bestI, bestJ = i, j
				}
			}
		}
		if bestI < 0 {
			break
		}

		sizeI := float64(len(members[bestI]))
		sizeJ := float64(len(members[bestJ]))
		for k := 0; k < n; k++ {
			if !active[k] || k == bestI || k == bestJ {
				continue
			}
			d := (sizeI*dist[bestI][k] + sizeJ*dist[bestJ][k]) / (sizeI + sizeJ)
			dist[bestI][k] = d
			dist[k][bestI] = d
		}
		members[bestI] = append(members[bestI], members[bestJ]...)
		active[bestJ] = false
	}

	var out []Cluster
	for i := 0; i < n; i++ {
		if active[i] {
			out = append(out, Cluster{Members: members[i]})
		}
	}
	return out, nil
}

// GraphOptions bounds the graph clustering pass.
type GraphOptions struct {
	MaxNeighbors int // neighbours considered per seed (default 50)
	MaxClusters  int // clusters formed per pass (default 100)
}

// Graph clusters vectors through a scratch graph index: each
// unprocessed vector seeds a cluster of its nearest unprocessed
// neighbours with similarity at least 1-diameter. The pass stops after
// MaxClusters seeds so a single run stays bounded.
func Graph(ctx context.Context, vectors [][]float32, diameter float64, opts GraphOptions) ([]Cluster, error) {
	n := len(vectors)
	if n == 0 {
		return nil, nil
	}
	if opts.MaxNeighbors <= 0 {
		opts.MaxNeighbors = 50
	}
	if opts.MaxClusters <= 0 {
		opts.MaxClusters = 100
	}

	scratch := hnsw.New(len(vectors[0]))
	handleToPos := make(map[string]int, n)
	for i, v := range vectors {
		h, err := scratch.InsertWithMetadata(ctx, v, nil)
		if err != nil {
			return nil, fmt.Errorf("cluster: scratch insert %d: %w", i, err)
		}
		handleToPos[h] = i
	}

	minSim := 1 - diameter
	processed := make([]bool, n)
	var out []Cluster

	for i := 0; i < n && len(out) < opts.MaxClusters; i++ {
		if processed[i] {
			continue
		}
		processed[i] = true

		neighbors, err := scratch.Search(ctx, vectors[i], opts.MaxNeighbors+1)
		if err != nil {
			return nil, fmt.Errorf("cluster: scratch search %d: %w", i, err)
		}

		c := Cluster{Members: []int{i}}
		for _, nb := range neighbors {
			pos, ok := handleToPos[nb.Handle]
			if !ok || pos == i || processed[pos] {
				continue
			}
			if nb.Score < minSim {
				continue
			}
			processed[pos] = true
			c.Members = append(c.Members, pos)
		}
		out = append(out, c)
	}
	return out, nil
}
