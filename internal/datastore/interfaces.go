// interfaces.go defines the interface for database operations
package datastore

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mverteuil/BirdNET-Pi-sub001/internal/conf"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/errors"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/logging"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/observability"
	"gorm.io/gorm"
)

const (
	// maxSaveAttempts bounds the retry loop for transient write failures.
	maxSaveAttempts = 3

	// saveRetryBaseDelay is the initial backoff between save attempts,
	// doubled on each retry.
	saveRetryBaseDelay = 500 * time.Millisecond
)

// Interface abstracts the underlying database implementation and defines
// the operations the rest of the application performs against it.
type Interface interface {
	Open() error
	Save(note *Note, results []Results) error
	Get(id string) (Note, error)
	Delete(id string) error
	Close() error
	GetLastDetections(numDetections int) ([]Note, error)
	GetAllDetectedSpecies() ([]Note, error)
	SpeciesDetections(species, date, hour string, sortAscending bool, limit, offset int) ([]Note, error)
	SearchNotes(query string, sortAscending bool, limit, offset int) ([]Note, error)
	GetNoteClipPath(noteID string) (string, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB      *gorm.DB
	metrics *observability.Metrics
	logger  *slog.Logger
}

// New creates a store backed by whichever database output is enabled
// in the settings. Returns nil when no output is enabled.
func New(settings *conf.Settings, metrics *observability.Metrics) Interface {
	ds := DataStore{
		metrics: metrics,
		logger:  logging.ForService("datastore"),
	}

	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			DataStore: ds,
			Settings:  settings,
		}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			DataStore: ds,
			Settings:  settings,
		}
	default:
		return nil
	}
}

// Save stores a note and its associated results as a single transaction,
// retrying transient failures with exponential backoff. The note is not
// considered durable until the transaction commits.
func (ds *DataStore) Save(note *Note, results []Results) error {
	if ds.DB == nil {
		return errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}

	var lastErr error
	delay := saveRetryBaseDelay

	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		lastErr = ds.saveInTransaction(note, results)
		if lastErr == nil {
			return nil
		}

		if attempt < maxSaveAttempts {
			if ds.metrics != nil {
				ds.metrics.PersistRetries.Inc()
			}
			ds.logger.Warn("detection save failed, retrying",
				"detection_id", note.DetectionID,
				"attempt", attempt,
				"retry_in", delay,
				"error", lastErr)
			time.Sleep(delay)
			delay *= 2
		}
	}

	if ds.metrics != nil {
		ds.metrics.PersistFailures.Inc()
	}

	return errors.New(lastErr).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("detection_id", strconv.FormatUint(note.DetectionID, 10)).
		Context("attempts", strconv.Itoa(maxSaveAttempts)).
		Build()
}

// saveInTransaction performs a single save attempt.
func (ds *DataStore) saveInTransaction(note *Note, results []Results) error {
	tx := ds.DB.Begin()
	if tx.Error != nil {
		return fmt.Errorf("starting transaction: %w", tx.Error)
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(note).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("saving note: %w", err)
	}

	for _, result := range results {
		result.NoteID = note.ID
		if err := tx.Create(&result).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("saving result: %w", err)
		}
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Get retrieves a note by its ID from the database.
func (ds *DataStore) Get(id string) (Note, error) {
	noteID, err := strconv.Atoi(id)
	if err != nil {
		return Note{}, fmt.Errorf("converting ID to integer: %w", err)
	}

	var note Note
	if err := ds.DB.Preload("Results").First(&note, noteID).Error; err != nil {
		return Note{}, fmt.Errorf("getting note with ID %d: %w", noteID, err)
	}
	return note, nil
}

// Delete removes a note and its associated results from the database.
func (ds *DataStore) Delete(id string) error {
	noteID, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return fmt.Errorf("converting ID to integer: %w", err)
	}

	return ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("note_id = ?", noteID).Delete(&Results{}).Error; err != nil {
			return fmt.Errorf("deleting results for note ID %d: %w", noteID, err)
		}
		if err := tx.Delete(&Note{}, noteID).Error; err != nil {
			return fmt.Errorf("deleting note with ID %d: %w", noteID, err)
		}
		return nil
	})
}

// GetLastDetections retrieves the most recent detections.
func (ds *DataStore) GetLastDetections(numDetections int) ([]Note, error) {
	var notes []Note
	if result := ds.DB.Order("date DESC, time DESC").Limit(numDetections).Find(&notes); result.Error != nil {
		return nil, fmt.Errorf("error getting last detections: %w", result.Error)
	}
	return notes, nil
}

// GetAllDetectedSpecies retrieves one row per distinct detected species.
func (ds *DataStore) GetAllDetectedSpecies() ([]Note, error) {
	var results []Note
	if err := ds.DB.Select("scientific_name").Distinct().Find(&results).Error; err != nil {
		return nil, fmt.Errorf("error getting detected species: %w", err)
	}
	return results, nil
}

// SpeciesDetections retrieves detections of a species filtered by the
// provided date and hour, both optional.
func (ds *DataStore) SpeciesDetections(species, date, hour string, sortAscending bool, limit, offset int) ([]Note, error) {
	sortOrder := sortAscendingString(sortAscending)

	query := ds.DB.Where("common_name = ? OR scientific_name = ?", species, species)
	if date != "" {
		query = query.Where("date = ?", date)
	}
	if hour != "" {
		startTime, endTime := getHourRange(hour)
		query = query.Where("time >= ? AND time < ?", startTime, endTime)
	}

	query = query.Order("id " + sortOrder).
		Limit(limit).
		Offset(offset)

	var detections []Note
	err := query.Find(&detections).Error
	if err != nil {
		return nil, fmt.Errorf("error getting species detections: %w", err)
	}
	return detections, nil
}

// SearchNotes performs a substring search on common and scientific names.
func (ds *DataStore) SearchNotes(query string, sortAscending bool, limit, offset int) ([]Note, error) {
	var notes []Note
	sortOrder := sortAscendingString(sortAscending)

	err := ds.DB.Where("common_name LIKE ? OR scientific_name LIKE ?", "%"+query+"%", "%"+query+"%").
		Order("id " + sortOrder).
		Limit(limit).
		Offset(offset).
		Find(&notes).Error
	if err != nil {
		return nil, fmt.Errorf("error searching notes: %w", err)
	}
	return notes, nil
}

// GetNoteClipPath retrieves the path to the audio clip associated with a note.
func (ds *DataStore) GetNoteClipPath(noteID string) (string, error) {
	var clipPath struct {
		ClipName string
	}

	err := ds.DB.Model(&Note{}).
		Where("id = ?", noteID).
		Select("clip_name").
		First(&clipPath).Error
	if err != nil {
		return "", fmt.Errorf("failed to get clip path: %w", err)
	}

	return clipPath.ClipName, nil
}

func sortAscendingString(asc bool) string {
	if asc {
		return "ASC"
	}
	return "DESC"
}

func getHourRange(hour string) (startTime, endTime string) {
	startTime = fmt.Sprintf("%s:00", hour)
	endTime = fmt.Sprintf("%s:59", hour)
	return startTime, endTime
}
