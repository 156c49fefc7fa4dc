package cluster

import "math"

// partition is one clustering of the feature rows.
type partition struct {
	k         int
	assign    []int
	centroids [][]float64
	score     float64
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func equalRows(a, b []float64) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// distinctRows returns the index of the first occurrence of every distinct
// row.
func distinctRows(rows [][]float64) []int {
	var out []int
	for i, r := range rows {
		dup := false
		for _, j := range out {
			if equalRows(r, rows[j]) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, i)
		}
	}
	return out
}

// seed picks k distinct starting centroids: the densest row first, then
// repeatedly the row farthest from every chosen seed. Ties go to the lower
// index.
func seed(rows [][]float64, candidates []int, k int) [][]float64 {
	densest, best := candidates[0], math.Inf(-1)
	for _, i := range candidates {
		var density float64
		for _, r := range rows {
			density += dot(rows[i], r)
		}
		if density > best {
			densest, best = i, density
		}
	}

	chosen := []int{densest}
	minDist := make(map[int]float64, len(candidates))
	for _, i := range candidates {
		minDist[i] = sqDist(rows[i], rows[densest])
	}
	for len(chosen) < k {
		next, far := -1, -1.0
		for _, i := range candidates {
			if minDist[i] > far {
				next, far = i, minDist[i]
			}
		}
		if next < 0 || far <= 0 {
			break
		}
		chosen = append(chosen, next)
		for _, i := range candidates {
			if d := sqDist(rows[i], rows[next]); d < minDist[i] {
				minDist[i] = d
			}
		}
	}

	centroids := make([][]float64, len(chosen))
	for c, i := range chosen {
		centroids[c] = append([]float64(nil), rows[i]...)
	}
	return centroids
}

func nearest(row []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := sqDist(row, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// kmeans runs Lloyd iterations from deterministic seeds and returns a
// partition with cluster ids compacted to 0..k-1 in order of first use.
func kmeans(rows [][]float64, candidates []int, k, maxIter int) partition {
	centroids := seed(rows, candidates, k)
	dim := len(rows[0])
	assign := make([]int, len(rows))
	for i := range assign {
		assign[i] = -1
	}

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, r := range rows {
			if c := nearest(r, centroids); c != assign[i] {
				assign[i] = c
				changed = true
			}
		}
		if !changed {
			break
		}
		sums := make([][]float64, len(centroids))
		sizes := make([]int, len(centroids))
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, r := range rows {
			c := assign[i]
			sizes[c]++
			for j, v := range r {
				sums[c][j] += v
			}
		}
		for c := range centroids {
			if sizes[c] == 0 {
				continue
			}
			for j := range sums[c] {
				sums[c][j] /= float64(sizes[c])
			}
			centroids[c] = sums[c]
		}
	}

	return compact(rows, assign)
}

// compact renumbers assignments and recomputes centroids.
func compact(rows [][]float64, assign []int) partition {
	remap := make(map[int]int)
	out := make([]int, len(assign))
	for i, c := range assign {
		id, ok := remap[c]
		if !ok {
			id = len(remap)
			remap[c] = id
		}
		out[i] = id
	}
	k := len(remap)
	dim := len(rows[0])
	centroids := make([][]float64, k)
	sizes := make([]int, k)
	for c := range centroids {
		centroids[c] = make([]float64, dim)
	}
	for i, r := range rows {
		c := out[i]
		sizes[c]++
		for j, v := range r {
			centroids[c][j] += v
		}
	}
	for c := range centroids {
		for j := range centroids[c] {
			centroids[c][j] /= float64(sizes[c])
		}
	}
	return partition{k: k, assign: out, centroids: centroids}
}

// silhouette is the mean silhouette coefficient using cosine distance on
// the normalized rows. Points alone in their cluster score 0.
func silhouette(rows [][]float64, assign []int, k int) float64 {
	n := len(rows)
	if k < 2 || n < 2 {
		return -1
	}
	sizes := make([]int, k)
	for _, c := range assign {
		sizes[c]++
	}
	var total float64
	sums := make([]float64, k)
	for i := range rows {
		for c := range sums {
			sums[c] = 0
		}
		for j := range rows {
			if i == j {
				continue
			}
			sums[assign[j]] += 1 - dot(rows[i], rows[j])
		}
		own := assign[i]
		if sizes[own] <= 1 {
			continue
		}
		a := sums[own] / float64(sizes[own]-1)
		b := math.Inf(1)
		for c := 0; c < k; c++ {
			if c == own || sizes[c] == 0 {
				continue
			}
			if m := sums[c] / float64(sizes[c]); m < b {
				b = m
			}
		}
		if den := math.Max(a, b); den > 0 && !math.IsInf(b, 1) {
			total += (b - a) / den
		}
	}
	return total / float64(n)
}

func largest(assign []int, k int) int {
	sizes := make([]int, k)
	top := 0
	for _, c := range assign {
		sizes[c]++
		if sizes[c] > top {
			top = sizes[c]
		}
	}
	return top
}
