package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// KnowledgeRow is the relational form of a knowledge record.
// Seq preserves insertion order for tie-breaking.
type KnowledgeRow struct {
	Seq        uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	ID         string    `gorm:"uniqueIndex;size:36" json:"id"`
	Collection string    `gorm:"index;size:128" json:"collection"`
	Text       string    `gorm:"type:text" json:"text"`
	Source     string    `gorm:"size:128" json:"source"`
	Vector     string    `gorm:"type:mediumtext" json:"-"` // JSON-encoded []float32
	Dimension  int       `json:"dimension"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName overrides the gorm default
func (KnowledgeRow) TableName() string {
	return "knowledge_records"
}

// SetVector encodes the vector into the row
func (r *KnowledgeRow) SetVector(vector []float32) error {
	data, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to encode vector: %w", err)
	}
	r.Vector = string(data)
	r.Dimension = len(vector)
	return nil
}

// GetVector decodes the stored vector
func (r *KnowledgeRow) GetVector() ([]float32, error) {
	var vector []float32
	if err := json.Unmarshal([]byte(r.Vector), &vector); err != nil {
		return nil, fmt.Errorf("failed to decode vector: %w", err)
	}
	return vector, nil
}
