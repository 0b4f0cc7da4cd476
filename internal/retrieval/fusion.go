package retrieval

import (
	"hash/fnv"
	"math"
	"sort"
)

// hashKey hashes source text to the 64-bit key both sides' score maps are
// keyed by (spec §4.D step 4), grounded on the source's calculate_hash
// (a DefaultHasher over the text). FNV-1a is the idiomatic Go stand-in for a
// generic non-cryptographic string hash.
func hashKey(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// minMaxNormalize maps scores into (0,1), offsetting by a tiny epsilon so the
// extremes never land exactly on 0 or 1, and collapsing every score to 0.5
// when all inputs are equal. Ported from original_source/src/rag.rs's
// min_max_normalize.
func minMaxNormalize(scores map[uint64]float64) map[uint64]float64 {
	out := make(map[uint64]float64, len(scores))
	if len(scores) == 0 {
		return out
	}

	min, max := math.Inf(1), math.Inf(-1)
	for _, s := range scores {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}

	const epsilon = 1e-6
	rng := max - min
	offset := 0.0
	if rng > 0 {
		offset = epsilon
	}

	for k, s := range scores {
		if rng > 0 {
			out[k] = offset + (1.0-2.0*offset)*(s-min)/rng
		} else {
			out[k] = 0.5
		}
	}
	return out
}

// weightedFusion combines normalized keyword and vector scores per key:
// alpha*kw + (1-alpha)*vec when a key has both, else whichever side has it.
// Ported from original_source/src/rag.rs's weighted_fusion.
func weightedFusion(kwScores, vecScores map[uint64]float64, alpha float64) map[uint64]float64 {
	switch {
	case len(kwScores) == 0 && len(vecScores) == 0:
		return map[uint64]float64{}
	case len(vecScores) == 0:
		return minMaxNormalize(kwScores)
	case len(kwScores) == 0:
		return minMaxNormalize(vecScores)
	}

	kwNorm := minMaxNormalize(kwScores)
	vecNorm := minMaxNormalize(vecScores)

	seen := make(map[uint64]struct{}, len(kwNorm)+len(vecNorm))
	for k := range kwNorm {
		seen[k] = struct{}{}
	}
	for k := range vecNorm {
		seen[k] = struct{}{}
	}

	fused := make(map[uint64]float64, len(seen))
	for k := range seen {
		kScore, hasKW := kwNorm[k]
		vScore, hasVec := vecNorm[k]
		switch {
		case hasKW && kScore > 0 && hasVec && vScore > 0:
			fused[k] = alpha*kScore + (1.0-alpha)*vScore
		case hasKW && kScore > 0:
			fused[k] = kScore
		default:
			fused[k] = vScore
		}
	}
	return fused
}

// fuse builds the ordered, deduplicated result list: keyword hits and vector
// points keyed by the hash of their source text, fused per weightedFusion,
// sorted by descending score with ties broken by insertion order (keyword
// side first), matching spec §4.D steps 2 and 4.
func fuse(kwHits []keywordHit, vecPoints []vectorPoint, alpha float64) []Point {
	kwByKey := make(map[uint64]keywordHit)
	kwScores := make(map[uint64]float64)
	var kwOrder []uint64
	for _, hit := range kwHits {
		key := hashKey(hit.Content)
		if _, dup := kwByKey[key]; dup {
			continue // dedup by source-text equality, keep first
		}
		kwByKey[key] = hit
		kwScores[key] = hit.Score
		kwOrder = append(kwOrder, key)
	}

	vecByKey := make(map[uint64]vectorPoint)
	vecScores := make(map[uint64]float64)
	var vecOrder []uint64
	for _, p := range vecPoints {
		key := hashKey(p.Source)
		if _, dup := vecByKey[key]; dup {
			continue
		}
		vecByKey[key] = p
		vecScores[key] = p.Score
		vecOrder = append(vecOrder, key)
	}

	fused := weightedFusion(kwScores, vecScores, alpha)

	order := make(map[uint64]int, len(fused))
	i := 0
	for _, k := range kwOrder {
		if _, ok := order[k]; !ok {
			order[k] = i
			i++
		}
	}
	for _, k := range vecOrder {
		if _, ok := order[k]; !ok {
			order[k] = i
			i++
		}
	}

	points := make([]Point, 0, len(fused))
	for key, score := range fused {
		var point Point
		if hit, ok := kwByKey[key]; ok {
			point = Point{Source: hit.Content, Score: score, Origin: "keyword"}
		} else if vp, ok := vecByKey[key]; ok {
			point = Point{Source: vp.Source, Score: score, Origin: "vector"}
		}
		points = append(points, point)
	}

	sort.SliceStable(points, func(i, j int) bool {
		if points[i].Score != points[j].Score {
			return points[i].Score > points[j].Score
		}
		return order[hashKey(points[i].Source)] < order[hashKey(points[j].Source)]
	})
	return points
}
