// birdnet.go BirdNET model specific code
package birdnet

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	tflite "github.com/tphakala/go-tflite"

	"github.com/mverteuil/BirdNET-Pi-sub001/internal/conf"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/errors"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/logging"
)

// topResults is the number of ranked candidates returned per prediction.
const topResults = 10

// BirdNET represents the classifier with its interpreter and label set.
type BirdNET struct {
	AnalysisInterpreter *tflite.Interpreter
	Settings            *conf.Settings
	Labels              []string

	// the interpreter is not safe for concurrent invocation
	mu sync.Mutex
}

// NewBirdNET initializes a new BirdNET instance with the given settings.
func NewBirdNET(settings *conf.Settings) (*BirdNET, error) {
	bn := &BirdNET{
		Settings: settings,
	}

	if err := bn.initializeModel(); err != nil {
		return nil, errors.New(fmt.Errorf("failed to initialize analysis model: %w", err)).
			Component("birdnet").
			Category(errors.CategoryModelInit).
			Context("model_path", settings.BirdNET.ModelPath).
			Build()
	}

	if err := bn.loadLabels(); err != nil {
		return nil, errors.New(fmt.Errorf("failed to load species labels: %w", err)).
			Component("birdnet").
			Category(errors.CategoryLabelLoad).
			Context("label_path", settings.BirdNET.LabelPath).
			Context("locale", settings.BirdNET.Locale).
			Build()
	}

	logging.ForService("birdnet").Info("model initialized",
		"model_path", settings.BirdNET.ModelPath,
		"labels", len(bn.Labels),
		"locale", settings.BirdNET.Locale,
	)

	return bn, nil
}

// initializeModel loads the model from disk and creates the interpreter.
func (bn *BirdNET) initializeModel() error {
	start := time.Now()

	modelData, err := os.ReadFile(bn.Settings.BirdNET.ModelPath)
	if err != nil {
		return errors.New(err).
			Component("birdnet").
			Category(errors.CategoryModelLoad).
			Context("model_path", bn.Settings.BirdNET.ModelPath).
			Timing("model-load", time.Since(start)).
			Build()
	}

	model := tflite.NewModel(modelData)
	if model == nil {
		return fmt.Errorf("cannot load TensorFlow Lite model from %s", bn.Settings.BirdNET.ModelPath)
	}

	threads := bn.determineThreadCount(bn.Settings.BirdNET.Threads)

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, userData any) {
		logging.ForService("birdnet").Error("tflite error", "message", msg)
	}, nil)

	bn.AnalysisInterpreter = tflite.NewInterpreter(model, options)
	if bn.AnalysisInterpreter == nil {
		return fmt.Errorf("cannot create interpreter")
	}
	if status := bn.AnalysisInterpreter.AllocateTensors(); status != tflite.OK {
		return fmt.Errorf("tensor allocation failed")
	}

	// Model data is no longer needed, TFLite keeps its own internal copy.
	runtime.GC()

	return nil
}

// determineThreadCount returns the number of interpreter threads to use.
func (bn *BirdNET) determineThreadCount(configured int) int {
	if configured > 0 && configured <= runtime.NumCPU() {
		return configured
	}
	return runtime.NumCPU()
}

// loadLabels reads the label file for the configured locale. Each line holds
// one label in "ScientificName_Common Name" form, line order matching the
// model output tensor.
func (bn *BirdNET) loadLabels() error {
	labelPath := bn.resolveLabelPath()

	data, err := os.ReadFile(labelPath)
	if err != nil {
		return fmt.Errorf("reading label file %s: %w", labelPath, err)
	}

	bn.Labels = bn.Labels[:0]
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			bn.Labels = append(bn.Labels, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanning label file %s: %w", labelPath, err)
	}
	if len(bn.Labels) == 0 {
		return fmt.Errorf("label file %s contains no labels", labelPath)
	}

	return nil
}

// resolveLabelPath picks a locale specific label file when one exists next to
// the configured one, e.g. labels_de.txt for locale "de".
func (bn *BirdNET) resolveLabelPath() string {
	labelPath := bn.Settings.BirdNET.LabelPath
	locale := strings.ToLower(bn.Settings.BirdNET.Locale)
	if locale == "" || locale == "en" {
		return labelPath
	}

	ext := filepath.Ext(labelPath)
	localized := strings.TrimSuffix(labelPath, ext) + "_" + locale + ext
	if _, err := os.Stat(localized); err == nil {
		return localized
	}
	return labelPath
}

// Delete releases the interpreter resources.
func (bn *BirdNET) Delete() {
	bn.mu.Lock()
	defer bn.mu.Unlock()
	if bn.AnalysisInterpreter != nil {
		bn.AnalysisInterpreter.Delete()
		bn.AnalysisInterpreter = nil
	}
}
