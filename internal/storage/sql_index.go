package storage

import (
	"context"
	"fmt"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"RAG-Telebot/server/internal/apperr"
	"RAG-Telebot/server/internal/interfaces"
	"RAG-Telebot/server/internal/models"
	"RAG-Telebot/server/internal/rag"
)

const searchBatchSize = 500

var _ interfaces.VectorIndex = (*SQLIndex)(nil)

// SQLIndex keeps knowledge records in a relational table and ranks them
// with brute-force cosine similarity.
type SQLIndex struct {
	store      *MySQLStore
	collection string
	dimension  int
}

func NewSQLIndex(store *MySQLStore, collection string, dimension int) *SQLIndex {
	return &SQLIndex{
		store:      store,
		collection: collection,
		dimension:  dimension,
	}
}

// EnsureCollection migrates the table and checks stored rows share the configured dimension
func (s *SQLIndex) EnsureCollection(ctx context.Context) error {
	if err := s.store.Migrate(); err != nil {
		return err
	}

	var mismatched int64
	err := s.store.GetDB().WithContext(ctx).
		Model(&models.KnowledgeRow{}).
		Where("collection = ? AND dimension <> ?", s.collection, s.dimension).
		Count(&mismatched).Error
	if err != nil {
		return fmt.Errorf("failed to inspect collection: %w", err)
	}
	if mismatched > 0 {
		return fmt.Errorf("%w: %d rows in %s differ from dimension %d",
			apperr.ErrDimensionMismatch, mismatched, s.collection, s.dimension)
	}
	return nil
}

func (s *SQLIndex) Upsert(ctx context.Context, record interfaces.KnowledgeRecord) error {
	if len(record.Vector) != s.dimension {
		return fmt.Errorf("%w: got %d, want %d", apperr.ErrDimensionMismatch, len(record.Vector), s.dimension)
	}

	row := models.KnowledgeRow{
		ID:         record.ID,
		Collection: s.collection,
		Text:       record.Text,
		Source:     record.Source,
		CreatedAt:  record.CreatedAt,
	}
	if err := row.SetVector(record.Vector); err != nil {
		return err
	}

	err := s.store.GetDB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"text", "source", "vector", "dimension"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to insert knowledge row: %w", apperr.New("sql.upsert", err))
	}
	return nil
}

func (s *SQLIndex) Search(ctx context.Context, vector []float32, limit int, minScore float32) ([]interfaces.ScoredRecord, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", apperr.ErrDimensionMismatch, len(vector), s.dimension)
	}
	if limit <= 0 {
		return nil, nil
	}

	var (
		rows    []models.KnowledgeRow
		results []interfaces.ScoredRecord
	)
	err := s.store.GetDB().WithContext(ctx).
		Where("collection = ?", s.collection).
		Order("seq").
		FindInBatches(&rows, searchBatchSize, func(tx *gorm.DB, batch int) error {
			results = append(results, scoreRows(rows, vector, minScore)...)
			return nil
		}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan knowledge rows: %w", apperr.New("sql.search", err))
	}

	return rankResults(results, limit), nil
}

// scoreRows keeps rows scoring at least minScore, in row order
func scoreRows(rows []models.KnowledgeRow, query []float32, minScore float32) []interfaces.ScoredRecord {
	out := make([]interfaces.ScoredRecord, 0)
	for i := range rows {
		vec, err := rows[i].GetVector()
		if err != nil {
			continue
		}
		score, err := rag.CosineSimilarity(query, vec)
		if err != nil || score < minScore {
			continue
		}
		out = append(out, interfaces.ScoredRecord{
			Record: interfaces.KnowledgeRecord{
				ID:        rows[i].ID,
				Text:      rows[i].Text,
				Source:    rows[i].Source,
				CreatedAt: rows[i].CreatedAt,
			},
			Score: score,
		})
	}
	return out
}

// rankResults orders by descending score, stable on input order, and truncates to limit
func rankResults(results []interfaces.ScoredRecord, limit int) []interfaces.ScoredRecord {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func (s *SQLIndex) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.store.GetDB().WithContext(ctx).
		Model(&models.KnowledgeRow{}).
		Where("collection = ?", s.collection).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count knowledge rows: %w", err)
	}
	return n, nil
}

func (s *SQLIndex) Dimension() int {
	return s.dimension
}

func (s *SQLIndex) Close() error {
	return s.store.Close()
}
