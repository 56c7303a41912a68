// workers.go contains the action worker pool.
package processor

import (
	"sync"

	"github.com/mverteuil/BirdNET-Pi-sub001/internal/errors"
)

// TaskType defines types of tasks handled by the workers.
type TaskType int

const (
	TaskTypeAction TaskType = iota
)

// Task is a unit of work, pairing a detection with one action.
type Task struct {
	Type      TaskType
	Detection Detections
	Action    Action
}

// startWorkerPool launches the action workers. They exit when the task
// queue is closed, after finishing all queued work.
func (p *Processor) startWorkerPool(wg *sync.WaitGroup, numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go p.actionWorker(wg)
	}
}

func (p *Processor) actionWorker(wg *sync.WaitGroup) {
	defer wg.Done()
	for task := range p.workerQueue {
		err := task.Action.Execute(&task.Detection)
		if err == nil {
			continue
		}

		p.logger.Error("action failed",
			"action", task.Action.GetDescription(),
			"detection_id", task.Detection.Note.DetectionID,
			"error", err)

		// Persistence failures have already exhausted their retries
		// inside the datastore. Losing an accepted detection is not
		// acceptable, so the pipeline is told to stop.
		if errors.IsCategory(err, errors.CategoryDatabase) && p.fatalChan != nil {
			select {
			case p.fatalChan <- err:
			default:
			}
		}
	}
}
