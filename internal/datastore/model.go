// model.go defines the data model for stored detections
package datastore

import "time"

// Note represents a single accepted detection.
type Note struct {
	ID             uint   `gorm:"primaryKey"`
	DetectionID    uint64 `gorm:"uniqueIndex:idx_notes_detection_id"`
	SourceNode     string
	Date           string `gorm:"index:idx_notes_date;index:idx_notes_date_commonname_confidence"`
	Time           string `gorm:"index:idx_notes_time"`
	Source         string
	BeginTime      time.Time
	EndTime        time.Time
	SpeciesCode    string
	ScientificName string  `gorm:"index:idx_notes_sciname"`
	CommonName     string  `gorm:"index:idx_notes_comname;index:idx_notes_date_commonname_confidence"`
	Confidence     float64 `gorm:"index:idx_notes_date_commonname_confidence"`
	Threshold      float64
	Sensitivity    float64
	CountInWindow  int
	ClipName       string
	ProcessingTime time.Duration
	Results        []Results `gorm:"foreignKey:NoteID;constraint:OnDelete:CASCADE"`
}

// Results holds one ranked candidate from the window that produced a Note.
type Results struct {
	ID         uint `gorm:"primaryKey"`
	NoteID     uint `gorm:"index;not null;constraint:OnDelete:CASCADE,OnUpdate:CASCADE;foreignKey:NoteID;references:ID"`
	Species    string
	Confidence float32
}

// Copy creates a deep copy of the Results struct
func (r Results) Copy() Results {
	return Results{
		ID:         r.ID,
		NoteID:     r.NoteID,
		Species:    r.Species,
		Confidence: r.Confidence,
	}
}
