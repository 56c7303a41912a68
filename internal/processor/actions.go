// actions.go defines the downstream actions executed for accepted detections.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mverteuil/BirdNET-Pi-sub001/internal/conf"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/datastore"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/errors"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/events"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/logging"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/mqtt"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/myaudio"
)

// mqttPublishTimeout bounds a single notifier publish.
const mqttPublishTimeout = 10 * time.Second

// Action is the interface for work performed on an accepted detection.
type Action interface {
	Execute(detection *Detections) error
	GetDescription() string
}

// DatabaseAction persists the detection record and, independently, its
// audio clip. A failed clip export does not invalidate the record; the
// note is stored without a clip reference instead.
type DatabaseAction struct {
	Settings *conf.Settings
	Ds       datastore.Interface
}

func (a *DatabaseAction) Execute(detection *Detections) error {
	note := detection.Note

	if a.Settings.Realtime.Audio.Export.Enabled && note.ClipName != "" {
		if err := a.saveClip(detection); err != nil {
			logging.ForService("processor").Warn("failed to export audio clip, saving detection without clip",
				"detection_id", note.DetectionID,
				"clip", note.ClipName,
				"error", err)
			note.ClipName = ""
		}
	}

	if err := a.Ds.Save(&note, detection.Results); err != nil {
		return err
	}
	return nil
}

// saveClip writes the detection's audio to a WAV file. The capture
// buffer is preferred so the clip aligns with the detection begin time;
// the analysis window PCM is the fallback when no capture buffer exists
// for the source.
func (a *DatabaseAction) saveClip(detection *Detections) error {
	pcmData, err := myaudio.ReadSegmentFromCaptureBuffer(detection.Note.Source, detection.Note.BeginTime, conf.CaptureLength)
	if err != nil {
		pcmData = detection.pcmData
	}
	if len(pcmData) == 0 {
		return fmt.Errorf("no audio data available for clip")
	}
	return myaudio.SavePCMDataToWAV(detection.Note.ClipName, pcmData)
}

func (a *DatabaseAction) GetDescription() string {
	return "Save detection to database"
}

// PublishAction fans the detection out to live event bus subscribers.
type PublishAction struct {
	Bus *events.EventBus
}

func (a *PublishAction) Execute(detection *Detections) error {
	a.Bus.Publish(events.KindDetection, detection.Event)
	return nil
}

func (a *PublishAction) GetDescription() string {
	return "Publish detection to event bus"
}

// MqttAction publishes the latest detection to the display topic.
type MqttAction struct {
	Settings *conf.Settings
	Client   mqtt.Client
}

func (a *MqttAction) Execute(detection *Detections) error {
	if !a.Client.IsConnected() {
		return errors.Newf("MQTT client is not connected").
			Component("processor").
			Category(errors.CategoryMQTTPublish).
			Build()
	}

	payload, err := json.Marshal(detection.Event)
	if err != nil {
		return errors.New(err).
			Component("processor").
			Category(errors.CategoryMQTTPublish).
			Context("operation", "marshal_detection").
			Build()
	}

	ctx, cancel := context.WithTimeout(context.Background(), mqttPublishTimeout)
	defer cancel()

	return a.Client.Publish(ctx, a.Settings.Realtime.MQTT.Topic, string(payload))
}

func (a *MqttAction) GetDescription() string {
	return "Publish detection to MQTT topic"
}
