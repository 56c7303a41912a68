// Package processor consumes ranked inference results, applies the
// detection policy and dispatches accepted detections to persistence,
// fan-out and notification actions.
package processor

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mverteuil/BirdNET-Pi-sub001/internal/birdnet"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/conf"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/datastore"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/events"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/logging"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/mqtt"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/observability"
)

const defaultTaskQueueSize = 100

// Processor wires the detection policy to its downstream actions.
type Processor struct {
	Settings   *conf.Settings
	Ds         datastore.Interface
	Bus        *events.EventBus
	MqttClient mqtt.Client
	Policy     *DetectionPolicy
	Metrics    *observability.Metrics

	workerQueue chan Task
	fatalChan   chan<- error
	logger      *slog.Logger
}

// Detections bundles everything downstream actions need for one
// accepted detection.
type Detections struct {
	pcmData []byte
	Note    datastore.Note
	Results []datastore.Results
	Event   DetectionEvent
}

// DetectionEvent is the wire form of a detection for the event bus and
// the display notifier.
type DetectionEvent struct {
	DetectionID    uint64    `json:"detection_id"`
	SourceNode     string    `json:"source_node"`
	ScientificName string    `json:"scientific_name"`
	CommonName     string    `json:"common_name"`
	Confidence     float64   `json:"confidence"`
	Time           time.Time `json:"time"`
	ClipName       string    `json:"clip_name,omitempty"`
}

// New creates a processor. fatalChan receives unrecoverable errors,
// currently only persistence retry exhaustion.
func New(settings *conf.Settings, ds datastore.Interface, bus *events.EventBus, mqttClient mqtt.Client, metrics *observability.Metrics, fatalChan chan<- error) *Processor {
	return &Processor{
		Settings:    settings,
		Ds:          ds,
		Bus:         bus,
		MqttClient:  mqttClient,
		Policy:      NewDetectionPolicy(settings, metrics),
		Metrics:     metrics,
		workerQueue: make(chan Task, defaultTaskQueueSize),
		fatalChan:   fatalChan,
		logger:      logging.ForService("processor"),
	}
}

// Start launches the results consumer and the action worker pool.
// On quit the consumer drains pending inference results before closing
// the task queue, and the workers finish queued actions before exiting.
func (p *Processor) Start(wg *sync.WaitGroup, quitChan chan struct{}, numWorkers int) {
	p.startWorkerPool(wg, numWorkers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(p.workerQueue)
		for {
			select {
			case <-quitChan:
				p.drainResults()
				return
			case item := <-birdnet.ResultsQueue:
				p.processResults(&item)
			}
		}
	}()
}

// drainResults processes inference results still queued at shutdown so
// in-flight windows are not lost.
func (p *Processor) drainResults() {
	for {
		select {
		case item := <-birdnet.ResultsQueue:
			p.processResults(&item)
		default:
			return
		}
	}
}

// processResults evaluates every candidate of one analysis window.
// Candidates for different species are independent; a window may yield
// multiple detections.
func (p *Processor) processResults(item *birdnet.Results) {
	for i := range item.Results {
		result := &item.Results[i]
		scientificName, commonName := birdnet.ParseSpeciesString(result.Species)

		decision := p.Policy.Evaluate(scientificName, commonName, float64(result.Confidence), item.StartTime)
		switch decision.Verdict {
		case VerdictAccepted:
			p.dispatch(p.newDetection(item, result, scientificName, commonName, decision))
		case VerdictSuppressed:
			p.logger.Debug("detection suppressed by cooldown",
				"species", commonName,
				"confidence", result.Confidence,
				"count_in_window", decision.CountInWindow)
		case VerdictDenied:
			if p.Settings.Debug {
				p.logger.Debug("species not allowed by list", "species", scientificName)
			}
		case VerdictBelowThreshold:
			// common case, not worth logging
		}
	}
}

// newDetection builds the detection record and its associated data from
// an accepted candidate.
func (p *Processor) newDetection(item *birdnet.Results, result *birdnet.Result, scientificName, commonName string, decision Decision) Detections {
	clipName := ""
	if p.Settings.Realtime.Audio.Export.Enabled {
		clipName = p.generateClipName(scientificName, result.Confidence, item.StartTime)
	}

	note := datastore.Note{
		DetectionID:    decision.DetectionID,
		SourceNode:     p.Settings.Main.Name,
		Date:           item.StartTime.Format("2006-01-02"),
		Time:           item.StartTime.Format("15:04:05"),
		Source:         item.Source,
		BeginTime:      item.StartTime,
		EndTime:        item.StartTime.Add(conf.CaptureLength * time.Second),
		ScientificName: scientificName,
		CommonName:     commonName,
		Confidence:     float64(result.Confidence),
		Threshold:      p.Settings.BirdNET.Threshold,
		Sensitivity:    p.Settings.BirdNET.Sensitivity,
		CountInWindow:  decision.CountInWindow,
		ClipName:       clipName,
		ProcessingTime: item.ElapsedTime,
	}

	results := make([]datastore.Results, 0, len(item.Results))
	for _, r := range item.Results {
		results = append(results, datastore.Results{Species: r.Species, Confidence: r.Confidence})
	}

	var pcmData []byte
	if item.PCMdata != nil {
		pcmData = make([]byte, len(item.PCMdata))
		copy(pcmData, item.PCMdata)
	}

	p.logger.Info("detection accepted",
		"detection_id", decision.DetectionID,
		"species", commonName,
		"confidence", result.Confidence,
		"source", item.Source)

	return Detections{
		pcmData: pcmData,
		Note:    note,
		Results: results,
		Event: DetectionEvent{
			DetectionID:    decision.DetectionID,
			SourceNode:     note.SourceNode,
			ScientificName: scientificName,
			CommonName:     commonName,
			Confidence:     note.Confidence,
			Time:           note.BeginTime,
			ClipName:       clipName,
		},
	}
}

// dispatch hands the detection's actions to the worker pool. The task
// queue is bounded but enqueueing blocks rather than drops: an accepted
// detection must never be silently discarded.
func (p *Processor) dispatch(detection Detections) {
	for _, action := range p.getActionsForDetection() {
		p.workerQueue <- Task{Type: TaskTypeAction, Detection: detection, Action: action}
	}
}

// getActionsForDetection returns the actions to run for an accepted
// detection, persistence first.
func (p *Processor) getActionsForDetection() []Action {
	var actions []Action
	if p.Ds != nil {
		actions = append(actions, &DatabaseAction{Settings: p.Settings, Ds: p.Ds})
	}
	if p.Bus != nil {
		actions = append(actions, &PublishAction{Bus: p.Bus})
	}
	if p.Settings.Realtime.MQTT.Enabled && p.MqttClient != nil {
		actions = append(actions, &MqttAction{Settings: p.Settings, Client: p.MqttClient})
	}
	return actions
}

// generateClipName derives the export path for a detection's audio
// clip, grouped in year/month subdirectories.
func (p *Processor) generateClipName(scientificName string, confidence float32, t time.Time) string {
	basePath := conf.GetBasePath(p.Settings.Realtime.Audio.Export.Path)
	formattedName := strings.ToLower(strings.ReplaceAll(scientificName, " ", "_"))
	formattedConfidence := fmt.Sprintf("%.0fp", confidence*100)
	timestamp := t.Format("20060102T150405Z")

	return fmt.Sprintf("%s/%s/%s/%s_%s_%s.wav",
		basePath, t.Format("2006"), t.Format("01"),
		formattedName, formattedConfidence, timestamp)
}
