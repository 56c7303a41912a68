package birdnet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomSigmoid(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.5, customSigmoid(0, 1.0), 1e-9)
	assert.InDelta(t, 1.0/(1.0+1.0/2.718281828459045), customSigmoid(1, 1.0), 1e-9)

	// Higher sensitivity steepens the curve away from the midpoint.
	assert.Greater(t, customSigmoid(1, 1.5), customSigmoid(1, 1.0))
	assert.Less(t, customSigmoid(-1, 1.5), customSigmoid(-1, 1.0))
}

func TestApplySigmoidToPredictions(t *testing.T) {
	t.Parallel()

	got := applySigmoidToPredictions([]float32{0, 10, -10}, 1.0)
	require.Len(t, got, 3)
	assert.InDelta(t, 0.5, got[0], 1e-6)
	assert.Greater(t, got[1], float32(0.99))
	assert.Less(t, got[2], float32(0.01))
}

func TestPairLabelsAndConfidence(t *testing.T) {
	t.Parallel()

	labels := []string{"a", "b"}
	results, err := pairLabelsAndConfidence(labels, []float32{0.1, 0.9})
	require.NoError(t, err)
	assert.Equal(t, []Result{{Species: "a", Confidence: 0.1}, {Species: "b", Confidence: 0.9}}, results)

	_, err = pairLabelsAndConfidence(labels, []float32{0.1})
	assert.Error(t, err, "label and prediction counts must match")
}

func TestSortAndTrimResults(t *testing.T) {
	t.Parallel()

	results := []Result{
		{Species: "low", Confidence: 0.1},
		{Species: "high", Confidence: 0.9},
		{Species: "mid", Confidence: 0.5},
	}
	sortResults(results)
	assert.Equal(t, "high", results[0].Species)
	assert.Equal(t, "mid", results[1].Species)
	assert.Equal(t, "low", results[2].Species)

	trimmed := trimResultsToMax(results, 2)
	assert.Len(t, trimmed, 2)

	// Trimming never grows the slice.
	assert.Len(t, trimResultsToMax(results, 10), 3)
}

func TestParseSpeciesString(t *testing.T) {
	t.Parallel()

	sci, common := ParseSpeciesString("Turdus merula_Eurasian Blackbird")
	assert.Equal(t, "Turdus merula", sci)
	assert.Equal(t, "Eurasian Blackbird", common)

	// Labels without a separator fall back to the whole string.
	sci, common = ParseSpeciesString("Engine")
	assert.Equal(t, "Engine", sci)
	assert.Equal(t, "Engine", common)

	// Only the first underscore splits, common names may contain more.
	sci, common = ParseSpeciesString("Genus species_Common_Name")
	assert.Equal(t, "Genus species", sci)
	assert.Equal(t, "Common_Name", common)
}

func TestResultsCopyIsDeep(t *testing.T) {
	t.Parallel()

	orig := Results{
		Sequence:    7,
		StartTime:   time.Now(),
		ElapsedTime: 42 * time.Millisecond,
		PCMdata:     []byte{1, 2, 3},
		Results:     []Result{{Species: "a", Confidence: 0.5}},
		Source:      "card-0",
	}

	cp := orig.Copy()
	cp.PCMdata[0] = 99
	cp.Results[0].Confidence = 0.9

	assert.Equal(t, byte(1), orig.PCMdata[0])
	assert.Equal(t, float32(0.5), orig.Results[0].Confidence)
	assert.Equal(t, orig.Sequence, cp.Sequence)
	assert.Equal(t, orig.Source, cp.Source)
}

func TestEnqueueResultsEvictsOldest(t *testing.T) {
	// Note: Cannot run in parallel, uses the shared results queue
	for {
		select {
		case <-ResultsQueue:
			continue
		default:
		}
		break
	}

	// Fill the queue to capacity, then push two more.
	for i := 0; i < DefaultQueueSize; i++ {
		assert.Zero(t, EnqueueResults(Results{Sequence: uint64(i + 1)}))
	}
	dropped := EnqueueResults(Results{Sequence: DefaultQueueSize + 1})
	assert.Equal(t, 1, dropped)
	dropped = EnqueueResults(Results{Sequence: DefaultQueueSize + 2})
	assert.Equal(t, 1, dropped)

	// The two oldest windows were evicted, the head is now sequence 3.
	item := <-ResultsQueue
	assert.Equal(t, uint64(3), item.Sequence)

	for {
		select {
		case <-ResultsQueue:
			continue
		default:
		}
		break
	}
}
