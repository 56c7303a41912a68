package birdnet

import (
	"time"
)

// Result is a single per-species confidence score from one prediction.
type Result struct {
	Species    string  // label in "ScientificName_Common Name" form
	Confidence float32 // raw sigmoid confidence, 0..1
}

// Results carries the outcome of one analysis window through the pipeline.
type Results struct {
	Sequence    uint64        // monotonically increasing window sequence number
	StartTime   time.Time     // wall-clock start of the analysis window
	PCMdata     []byte        // raw PCM audio data of the window
	Results     []Result      // ranked candidates, descending confidence
	ElapsedTime time.Duration // time taken for analysis
	Source      string        // audio source the window was captured from
}

// Copy creates a deep copy of the Results struct. The PCM data is a slice
// into capture memory, detections held past the current call must not alias it.
func (r *Results) Copy() Results {
	newCopy := Results{
		Sequence:    r.Sequence,
		StartTime:   r.StartTime,
		ElapsedTime: r.ElapsedTime,
		Source:      r.Source,
	}

	if r.PCMdata != nil {
		newCopy.PCMdata = make([]byte, len(r.PCMdata))
		copy(newCopy.PCMdata, r.PCMdata)
	}
	if r.Results != nil {
		newCopy.Results = make([]Result, len(r.Results))
		copy(newCopy.Results, r.Results)
	}

	return newCopy
}

// DefaultQueueSize is the default buffer size for the results queue.
const DefaultQueueSize = 100

// ResultsQueue is the bounded handoff between inference and the detection
// policy. Producers must use EnqueueResults rather than sending directly.
var ResultsQueue = make(chan Results, DefaultQueueSize)

// EnqueueResults offers a results message to the queue without ever blocking
// the producer. When the queue is full the oldest pending message is evicted
// so capture never stalls; the caller is told how many were dropped.
func EnqueueResults(r Results) (dropped int) {
	for {
		select {
		case ResultsQueue <- r:
			return dropped
		default:
			// Queue full, evict the oldest pending message and retry.
			select {
			case <-ResultsQueue:
				dropped++
			default:
			}
		}
	}
}
