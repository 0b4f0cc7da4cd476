package retrieval

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMinMaxNormalizeEqualScoresMapToHalf(t *testing.T) {
	scores := map[uint64]float64{1: 0.7, 2: 0.7, 3: 0.7}
	out := minMaxNormalize(scores)
	for _, v := range out {
		require.Equal(t, 0.5, v)
	}
}

func TestMinMaxNormalizeRangeStaysWithinOpenInterval(t *testing.T) {
	scores := map[uint64]float64{1: 0.0, 2: 5.0, 3: 10.0}
	out := minMaxNormalize(scores)
	for _, v := range out {
		require.Greater(t, v, 0.0)
		require.Less(t, v, 1.0)
	}
	require.Less(t, out[1], out[2])
	require.Less(t, out[2], out[3])
}

func TestWeightedFusionBothEmpty(t *testing.T) {
	out := weightedFusion(map[uint64]float64{}, map[uint64]float64{}, 0.5)
	require.Empty(t, out)
}

func TestWeightedFusionOnlyKeyword(t *testing.T) {
	kw := map[uint64]float64{1: 1.0, 2: 2.0}
	out := weightedFusion(kw, map[uint64]float64{}, 0.5)
	require.Len(t, out, 2)
}

func TestFuseDeduplicatesBySourceText(t *testing.T) {
	kw := []keywordHit{{Content: "same text", Score: 1.0}, {Content: "same text", Score: 2.0}}
	points := fuse(kw, nil, 0.5)
	require.Len(t, points, 1)
}

func TestFuseTieBreaksByInsertionOrderKeywordFirst(t *testing.T) {
	kw := []keywordHit{{Content: "alpha", Score: 1.0}}
	vec := []vectorPoint{{Source: "beta", Score: 1.0}}
	points := fuse(kw, vec, 0.5)
	require.Len(t, points, 2)
	require.Equal(t, "alpha", points[0].Source)
	require.Equal(t, "beta", points[1].Source)
}

func TestAssembleContextFallsBackWhenEmpty(t *testing.T) {
	require.Equal(t, "No context retrieved", AssembleContext(nil))
}

func TestAssembleContextJoinsWithBlankLines(t *testing.T) {
	points := []Point{{Source: "first"}, {Source: "second"}}
	require.Equal(t, "first\n\nsecond", AssembleContext(points))
}
