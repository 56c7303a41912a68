// config.go: settings struct and functions to load and save the settings.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed config.yaml
var configFiles embed.FS

// LogConfig contains settings for application logging output.
type LogConfig struct {
	Enabled bool   // true to enable logging to file
	Path    string // path to log file
	MaxSize int    // maximum log file size in megabytes before rotation
	MaxAge  int    // maximum age of rotated log files in days
}

// MainSettings contains top level application settings.
type MainSettings struct {
	Name string    // name of this node, used to identify the source of detections
	Log  LogConfig // application log settings
}

// BirdNETSettings contains settings for the classifier.
type BirdNETSettings struct {
	Sensitivity         float64 // sigmoid sensitivity, 0.1 to 1.5
	Threshold           float64 // minimum confidence to accept a detection
	Overlap             float64 // analysis window overlap in seconds, 0.0 to 2.9
	Threads             int     // tflite interpreter threads, 0 to use all cores
	Locale              string  // language of common names in label file
	ModelPath           string  // path to the tflite model file
	LabelPath           string  // path to the species label file
	MaxConsecutiveFails int     // consecutive inference failures before the pipeline gives up
}

// AudioSettings contains settings for audio capture and clip export.
type AudioSettings struct {
	Source        string // capture device to use for analysis
	BufferSeconds int    // capacity of the analysis ring buffer in seconds
	Export        struct {
		Enabled bool   // export audio clips of accepted detections
		Path    string // path to audio clip export directory
		Type    string // audio file type, only wav is supported
	}
}

// CooldownSettings control per species detection suppression.
type CooldownSettings struct {
	Interval int    // suppression interval in seconds
	Reset    string // "first-accept" or "sliding", see consts.go
}

// SpeciesSettings holds the species allow and deny lists.
type SpeciesSettings struct {
	Include   []string           // when non-empty only these scientific names are accepted
	Exclude   []string           // these scientific names are never accepted
	Threshold map[string]float64 // per species confidence threshold, keyed by scientific name
}

// MQTTSettings contains settings for the display notifier.
type MQTTSettings struct {
	Enabled  bool   // true to enable MQTT publishing of latest detections
	Broker   string // MQTT broker URL
	Topic    string // topic to publish detections to
	Username string // MQTT username
	Password string // MQTT password
}

// TelemetrySettings contains settings for the Prometheus endpoint.
type TelemetrySettings struct {
	Enabled bool   // true to expose /metrics
	Listen  string // listen address, e.g. "localhost:8090"
}

// EventBusSettings control the live detection fan-out.
type EventBusSettings struct {
	SubscriberQueue int // pending events buffered per subscriber
	ReplaySize      int // events kept for reconnect replay
	ReplayMinutes   int // replay horizon in minutes
}

// RealtimeSettings contains all settings for the realtime analysis pipeline.
type RealtimeSettings struct {
	Audio     AudioSettings     // audio capture and export settings
	Cooldown  CooldownSettings  // per species suppression settings
	Species   SpeciesSettings   // allow and deny lists
	MQTT      MQTTSettings      // display notifier settings
	Telemetry TelemetrySettings // prometheus endpoint settings
	EventBus  EventBusSettings  // live fan-out settings
}

// OutputSettings contains settings for detection persistence.
type OutputSettings struct {
	SQLite struct {
		Enabled bool   // true to enable sqlite output
		Path    string // path to sqlite database
	}
	MySQL struct {
		Enabled  bool   // true to enable mysql output
		Username string // mysql database username
		Password string // mysql database user password
		Database string // mysql database name
		Host     string // mysql database host
		Port     string // mysql database port
	}
}

// Settings is the root configuration object, supplied to the pipeline at startup.
type Settings struct {
	Debug    bool // true to enable debug mode
	Main     MainSettings
	BirdNET  BirdNETSettings
	Realtime RealtimeSettings
	Output   OutputSettings
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration into the global settings instance.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// defaults defined in defaults.go
	setDefaultConfig()

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, create config with defaults
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig creates a default config file and writes it to the default config path
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(getDefaultConfig()), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading embedded config file: %v", err)
	}
	return string(data)
}

// Setting returns the current settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveSettings writes the given settings to the config file as YAML.
func SaveSettings(settings *Settings, path string) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing settings to %s: %w", path, err)
	}
	return nil
}
