// Package analysis owns the lifecycle of the realtime detection
// pipeline: it wires capture, inference, policy, persistence and
// fan-out together, supervises their goroutines and performs an
// ordered drain on shutdown.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/mverteuil/BirdNET-Pi-sub001/internal/birdnet"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/conf"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/datastore"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/events"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/logging"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/mqtt"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/myaudio"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/observability"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/processor"
)

const (
	// actionWorkers is the size of the detection action worker pool.
	actionWorkers = 10

	// busShutdownTimeout bounds the event bus drain on shutdown.
	busShutdownTimeout = 5 * time.Second

	// deviceEventQueueSize buffers device events between capture and
	// the supervisor.
	deviceEventQueueSize = 16
)

// RealtimeAnalysis starts the realtime detection pipeline and blocks
// until a termination signal arrives or an unrecoverable error forces
// a shutdown.
func RealtimeAnalysis(settings *conf.Settings) error {
	logger := logging.ForService("analysis")

	bn, err := birdnet.NewBirdNET(settings)
	if err != nil {
		return fmt.Errorf("failed to initialize classifier: %w", err)
	}
	defer bn.Delete()

	logHostInfo(logger)
	logger.Info("starting realtime analysis",
		"threshold", settings.BirdNET.Threshold,
		"overlap", settings.BirdNET.Overlap,
		"sensitivity", settings.BirdNET.Sensitivity,
		"cooldown_interval", settings.Realtime.Cooldown.Interval,
		"cooldown_reset", settings.Realtime.Cooldown.Reset)

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("error initializing metrics: %w", err)
	}

	dataStore := datastore.New(settings, metrics)
	if dataStore != nil {
		if err := dataStore.Open(); err != nil {
			return err
		}
		defer closeDataStore(dataStore, logger)
	} else {
		logger.Warn("no database output enabled, detections will not be persisted")
	}

	// Buffers are keyed by the capture backend name, not the configured
	// device: the capture callback writes under the same key regardless
	// of which hardware device is opened.
	sources, err := initializeBuffers(settings)
	if err != nil {
		return err
	}

	bus := events.New(events.Config{
		SubscriberQueue: settings.Realtime.EventBus.SubscriberQueue,
		ReplaySize:      settings.Realtime.EventBus.ReplaySize,
		ReplayMaxAge:    time.Duration(settings.Realtime.EventBus.ReplayMinutes) * time.Minute,
	}, metrics)

	var mqttClient mqtt.Client
	if settings.Realtime.MQTT.Enabled {
		mqttClient = mqtt.New(settings)
		go connectMQTT(mqttClient, logger)
	}

	// fatalChan receives unrecoverable errors: inference failure past
	// the consecutive-failure limit, or persistence retry exhaustion.
	fatalChan := make(chan error, 1)
	quitChan := make(chan struct{})
	deviceEventChan := make(chan myaudio.DeviceEvent, deviceEventQueueSize)
	var wg sync.WaitGroup

	proc := processor.New(settings, dataStore, bus, mqttClient, metrics, fatalChan)
	proc.Start(&wg, quitChan, actionWorkers)

	startDeviceEventMonitor(&wg, deviceEventChan, bus, quitChan, logger)

	for _, src := range sources {
		myaudio.AnalysisBufferMonitor(&wg, bn, quitChan, fatalChan, src, metrics)
	}
	myaudio.CaptureAudio(settings, &wg, quitChan, deviceEventChan, metrics)

	startTelemetryEndpoint(&wg, settings, metrics, quitChan, logger)
	monitorShutdownSignals(quitChan, logger)

	var runErr error
	select {
	case <-quitChan:
	case err := <-fatalChan:
		logger.Error("unrecoverable pipeline error, shutting down", "error", err)
		runErr = err
		close(quitChan)
	}

	// Ordered drain: capture stops first, the buffer monitor finishes
	// in-flight windows, the processor drains queued results and its
	// workers complete pending actions, then the bus and outputs close.
	wg.Wait()

	if err := bus.Shutdown(busShutdownTimeout); err != nil {
		logger.Warn("event bus did not drain cleanly", "error", err)
	}
	if mqttClient != nil {
		mqttClient.Disconnect()
	}

	logger.Info("realtime analysis stopped")
	return runErr
}

// initializeBuffers allocates the analysis and capture buffers and
// returns the buffer keys they were allocated under. The keys must match
// what the capture callback writes, so they come from the capture
// backend, not from the configured device name.
func initializeBuffers(settings *conf.Settings) ([]string, error) {
	sources := []string{myaudio.MalgoSourceName}

	capacity := conf.BufferSize * 3
	if settings.Realtime.Audio.BufferSeconds > 0 {
		capacity = myaudio.SecondsToBytes(float64(settings.Realtime.Audio.BufferSeconds))
	}
	if err := myaudio.InitAnalysisBuffers(capacity, sources); err != nil {
		return nil, fmt.Errorf("failed to initialize analysis buffers: %w", err)
	}
	myaudio.InitCaptureBuffers(60, conf.SampleRate, conf.BitDepth/8, sources)
	return sources, nil
}

// startDeviceEventMonitor forwards capture device events to the event
// bus so subscribers can surface device health.
func startDeviceEventMonitor(wg *sync.WaitGroup, eventChan <-chan myaudio.DeviceEvent, bus *events.EventBus, quitChan chan struct{}, logger *slog.Logger) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-quitChan:
				return
			case ev := <-eventChan:
				switch ev.Kind {
				case myaudio.DeviceError:
					logger.Warn("audio device error",
						"source", ev.Source,
						"attempt", ev.Attempt,
						"error", ev.Err)
					bus.Publish(events.KindDeviceError, ev)
				case myaudio.DeviceRecovered:
					logger.Info("audio device recovered",
						"source", ev.Source,
						"attempt", ev.Attempt)
					bus.Publish(events.KindDeviceRecovered, ev)
				}
			}
		}
	}()
}

// connectMQTT dials the display notifier broker with bounded retries.
// The client keeps reconnecting on its own once the first connection
// succeeds.
func connectMQTT(client mqtt.Client, logger *slog.Logger) {
	const maxRetries = 5
	retryDelay := time.Second

	for i := 0; i < maxRetries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := client.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		logger.Warn("failed to connect to MQTT broker",
			"attempt", i+1,
			"max_attempts", maxRetries,
			"error", err)

		if i < maxRetries-1 {
			time.Sleep(retryDelay)
			retryDelay *= 2
		}
	}

	logger.Error("giving up on MQTT broker connection after maximum retries")
}

func startTelemetryEndpoint(wg *sync.WaitGroup, settings *conf.Settings, metrics *observability.Metrics, quitChan chan struct{}, logger *slog.Logger) {
	if !settings.Realtime.Telemetry.Enabled {
		return
	}
	endpoint, err := observability.NewEndpoint(settings, metrics)
	if err != nil {
		logger.Error("error initializing telemetry endpoint", "error", err)
		return
	}
	endpoint.Start(wg, quitChan)
}

// monitorShutdownSignals closes quitChan on SIGINT or SIGTERM.
func monitorShutdownSignals(quitChan chan struct{}, logger *slog.Logger) {
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		<-sigChan
		logger.Info("received shutdown signal")
		close(quitChan)
	}()
}

func closeDataStore(store datastore.Interface, logger *slog.Logger) {
	if err := store.Close(); err != nil {
		logger.Error("failed to close database", "error", err)
	}
}

// logHostInfo logs platform details at startup.
func logHostInfo(logger *slog.Logger) {
	info, err := host.Info()
	if err != nil {
		logger.Warn("error retrieving host info", "error", err)
		return
	}
	logger.Info("system details",
		"os", info.OS,
		"platform", info.Platform,
		"platform_version", info.PlatformVersion,
		"hostname", info.Hostname)
}
