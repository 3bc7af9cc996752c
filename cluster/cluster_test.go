package cluster

import (
	"context"
	"math"
	"math/rand"
	"testing"
)

// threeGroups builds vectors around three well-separated unit anchors.
func threeGroups(r *rand.Rand, perGroup int) ([][]float32, []int) {
	anchors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}
	var vectors [][]float32
	var labels []int
	for g, anchor := range anchors {
		for i := 0; i < perGroup; i++ {
			v := make([]float32, len(anchor))
			var norm float64
			for j := range v {
				v[j] = anchor[j] + float32(r.NormFloat64())*0.05
				norm += float64(v[j]) * float64(v[j])
			}
			inv := float32(1 / math.Sqrt(norm))
			for j := range v {
				v[j] *= inv
			}
			vectors = append(vectors, v)
			labels = append(labels, g)
		}
	}
	return vectors, labels
}

func checkPurity(t *testing.T, clusters []Cluster, labels []int) {
	t.Helper()
	for _, c := range clusters {
		first := labels[c.Members[0]]
		for _, m := range c.Members {
			if labels[m] != first {
				t.Errorf("cluster mixes groups %d and %d", first, labels[m])
			}
		}
	}
}

func TestAgglomerative(t *testing.T) {
	r := rand.New(rand.NewSource(6))
	vectors, labels := threeGroups(r, 5)

	clusters, err := Agglomerative(vectors, 0.3)
	if err != nil {
		t.Fatalf("agglomerative: %v", err)
	}
	if len(clusters) != 3 {
		t.Fatalf("expected 3 clusters, got %d", len(clusters))
	}
	checkPurity(t, clusters, labels)

	var total int
	for _, c := range clusters {
		total += len(c.Members)
	}
	if total != len(vectors) {
		t.Errorf("members lost: %d of %d", total, len(vectors))
	}
}

func TestAgglomerativeEmptyAndSingle(t *testing.T) {
	if clusters, err := Agglomerative(nil, 0.3); err != nil || clusters != nil {
		t.Errorf("empty input: %v %v", clusters, err)
	}
	clusters, err := Agglomerative([][]float32{{1, 0}}, 0.3)
	if err != nil || len(clusters) != 1 || len(clusters[0].Members) != 1 {
		t.Errorf("single input: %v %v", clusters, err)
	}
}

func TestGraph(t *testing.T) {
	r := rand.New(rand.NewSource(8))
	vectors, labels := threeGroups(r, 8)

	clusters, err := Graph(context.Background(), vectors, 0.3, GraphOptions{})
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	if len(clusters) == 0 {
		t.Fatal("no clusters formed")
	}
	checkPurity(t, clusters, labels)

	// Every vector is assigned exactly once.
	seen := make(map[int]bool)
	for _, c := range clusters {
		for _, m := range c.Members {
			if seen[m] {
				t.Errorf("member %d assigned twice", m)
			}
			seen[m] = true
		}
	}
}

func TestGraphMaxClusters(t *testing.T) {
	r := rand.New(rand.NewSource(9))
	vectors, _ := threeGroups(r, 4)

	clusters, err := Graph(context.Background(), vectors, 0.3, GraphOptions{MaxClusters: 1})
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	if len(clusters) != 1 {
		t.Errorf("pass not bounded: %d clusters", len(clusters))
	}
}

func TestCentroid(t *testing.T) {
	vectors := [][]float32{{1, 0}, {0, 1}}
	c := Cluster{Members: []int{0, 1}}
	got := c.Centroid(vectors)
	if got[0] != 0.5 || got[1] != 0.5 {
		t.Errorf("centroid: %v", got)
	}
}
