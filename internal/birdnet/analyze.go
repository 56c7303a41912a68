package birdnet

import (
	"fmt"
	"math"
	"sort"
	"strings"

	tflite "github.com/tphakala/go-tflite"
)

// Predict performs inference on a single analysis window using the TensorFlow
// Lite interpreter. The returned results are the raw sigmoid confidences,
// sorted in descending order and trimmed to the top candidates. They are
// candidates only, acceptance is decided by the detection policy.
func (bn *BirdNET) Predict(sample [][]float32) ([]Result, error) {
	bn.mu.Lock()
	defer bn.mu.Unlock()

	if bn.AnalysisInterpreter == nil {
		return nil, fmt.Errorf("interpreter not initialized")
	}

	inputTensor := bn.AnalysisInterpreter.GetInputTensor(0)
	if inputTensor == nil {
		return nil, fmt.Errorf("cannot get input tensor")
	}

	copy(inputTensor.Float32s(), sample[0])

	if status := bn.AnalysisInterpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("tensor invoke failed: %v", status)
	}

	outputTensor := bn.AnalysisInterpreter.GetOutputTensor(0)
	predictions := extractPredictions(outputTensor)

	confidence := applySigmoidToPredictions(predictions, bn.Settings.BirdNET.Sensitivity)

	results, err := pairLabelsAndConfidence(bn.Labels, confidence)
	if err != nil {
		return nil, err
	}

	sortResults(results)

	return trimResultsToMax(results, topResults), nil
}

// customSigmoid applies a sigmoid function with sensitivity adjustment to a value.
func customSigmoid(x, sensitivity float64) float64 {
	return 1.0 / (1.0 + math.Exp(-sensitivity*x))
}

// applySigmoidToPredictions applies the sigmoid function to a slice of predictions.
func applySigmoidToPredictions(predictions []float32, sensitivity float64) []float32 {
	confidence := make([]float32, len(predictions))
	for i, pred := range predictions {
		confidence[i] = float32(customSigmoid(float64(pred), sensitivity))
	}
	return confidence
}

// extractPredictions extracts prediction results from a TensorFlow Lite tensor.
func extractPredictions(tensor *tflite.Tensor) []float32 {
	predSize := tensor.Dim(tensor.NumDims() - 1)
	predictions := make([]float32, predSize)
	copy(predictions, tensor.Float32s())
	return predictions
}

// pairLabelsAndConfidence pairs labels with their corresponding confidence values.
func pairLabelsAndConfidence(labels []string, preds []float32) ([]Result, error) {
	if len(labels) != len(preds) {
		return nil, fmt.Errorf("mismatched labels and predictions lengths: %d vs %d", len(labels), len(preds))
	}

	results := make([]Result, 0, len(labels))
	for i, label := range labels {
		results = append(results, Result{Species: label, Confidence: preds[i]})
	}
	return results, nil
}

// sortResults sorts a slice of Result by their confidence in descending order.
func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})
}

// trimResultsToMax trims the results to a maximum specified count.
func trimResultsToMax(results []Result, maxResults int) []Result {
	if len(results) > maxResults {
		return results[:maxResults]
	}
	return results
}

// ParseSpeciesString splits a model label of the form
// "ScientificName_Common Name" into its scientific and common name parts.
func ParseSpeciesString(species string) (scientificName, commonName string) {
	parts := strings.SplitN(species, "_", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return species, species
}
