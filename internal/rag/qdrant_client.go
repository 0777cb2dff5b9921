package rag

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"RAG-Telebot/server/internal/apperr"
	"RAG-Telebot/server/internal/config"
	"RAG-Telebot/server/internal/interfaces"
	"RAG-Telebot/server/internal/logging"
)

const (
	defaultGRPCPort = 6334
	restPort        = 6333

	payloadText      = "text"
	payloadSource    = "source"
	payloadCreatedAt = "created_at"
)

var _ interfaces.VectorIndex = (*QdrantIndex)(nil)

// QdrantIndex stores knowledge records in a Qdrant collection over gRPC
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dimension  int
	logger     *slog.Logger
}

// CollectionInfo summarizes a collection for diagnostics
type CollectionInfo struct {
	Name       string
	VectorSize uint64
	PointCount uint64
}

// NewQdrantIndex connects to the Qdrant instance named by cfg.URL
func NewQdrantIndex(cfg config.QdrantConfig, dimension int, logger *slog.Logger) (*QdrantIndex, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL, cfg.GRPCPort)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		dimension:  dimension,
		logger:     logging.Component(logger, "Qdrant"),
	}, nil
}

// parseQdrantURL maps a Qdrant URL to gRPC connection parameters.
// The REST port 6333 in a URL is translated to the gRPC port.
func parseQdrantURL(raw string, grpcPort int) (host string, port int, useTLS bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0, false, fmt.Errorf("qdrant: %w QDRANT_URL", apperr.ErrMissingConfig)
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, fmt.Errorf("qdrant: invalid url: %w", err)
	}
	if u.Hostname() == "" {
		return "", 0, false, fmt.Errorf("qdrant: url %q has no host", raw)
	}

	if grpcPort <= 0 {
		grpcPort = defaultGRPCPort
	}
	port = grpcPort
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, false, fmt.Errorf("qdrant: invalid port %q", p)
		}
		if n != restPort {
			port = n
		}
	}

	return u.Hostname(), port, u.Scheme == "https", nil
}

// EnsureCollection creates the collection with cosine distance if it is missing,
// and verifies the vector size of an existing one.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", apperr.New("qdrant.exists", err))
	}

	if !exists {
		err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(q.dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", apperr.New("qdrant.create", err))
		}
		q.logger.Info("collection created", "collection", q.collection, "dimension", q.dimension)
		return nil
	}

	info, err := q.Info(ctx)
	if err != nil {
		return err
	}
	if info.VectorSize != 0 && info.VectorSize != uint64(q.dimension) {
		return fmt.Errorf("%w: collection %s has size %d, want %d",
			apperr.ErrDimensionMismatch, q.collection, info.VectorSize, q.dimension)
	}
	return nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, record interfaces.KnowledgeRecord) error {
	if len(record.Vector) != q.dimension {
		return fmt.Errorf("%w: got %d, want %d", apperr.ErrDimensionMismatch, len(record.Vector), q.dimension)
	}

	payload, err := qdrant.TryValueMap(recordPayload(record))
	if err != nil {
		return fmt.Errorf("failed to build payload: %w", err)
	}

	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewID(record.ID),
				Vectors: qdrant.NewVectors(record.Vector...),
				Payload: payload,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", apperr.New("qdrant.upsert", err))
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, vector []float32, limit int, minScore float32) ([]interfaces.ScoredRecord, error) {
	if len(vector) != q.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", apperr.ErrDimensionMismatch, len(vector), q.dimension)
	}
	if limit <= 0 {
		return nil, nil
	}

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		ScoreThreshold: qdrant.PtrOf(minScore),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query points: %w", apperr.New("qdrant.query", err))
	}

	return scoredRecords(points, limit, minScore), nil
}

// scoredRecords converts query hits, enforcing threshold and limit.
// Equal scores are ordered by creation time.
func scoredRecords(points []*qdrant.ScoredPoint, limit int, minScore float32) []interfaces.ScoredRecord {
	results := make([]interfaces.ScoredRecord, 0, len(points))
	for _, p := range points {
		if p.GetScore() < minScore {
			continue
		}
		results = append(results, interfaces.ScoredRecord{
			Record: payloadRecord(p.GetId().GetUuid(), p.GetPayload()),
			Score:  p.GetScore(),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.CreatedAt.Before(results[j].Record.CreatedAt)
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func recordPayload(record interfaces.KnowledgeRecord) map[string]any {
	return map[string]any{
		payloadText:      record.Text,
		payloadSource:    record.Source,
		payloadCreatedAt: record.CreatedAt.UnixNano(),
	}
}

func payloadRecord(id string, payload map[string]*qdrant.Value) interfaces.KnowledgeRecord {
	rec := interfaces.KnowledgeRecord{ID: id}
	if v, ok := payload[payloadText]; ok {
		rec.Text = v.GetStringValue()
	}
	if v, ok := payload[payloadSource]; ok {
		rec.Source = v.GetStringValue()
	}
	if v, ok := payload[payloadCreatedAt]; ok {
		rec.CreatedAt = time.Unix(0, v.GetIntegerValue())
	}
	return rec
}

// Info returns point count and vector size of the collection
func (q *QdrantIndex) Info(ctx context.Context) (*CollectionInfo, error) {
	info, err := q.client.GetCollectionInfo(ctx, q.collection)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection info: %w", apperr.New("qdrant.info", err))
	}
	return &CollectionInfo{
		Name:       q.collection,
		VectorSize: info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize(),
		PointCount: info.GetPointsCount(),
	}, nil
}

func (q *QdrantIndex) Count(ctx context.Context) (int64, error) {
	info, err := q.Info(ctx)
	if err != nil {
		return 0, err
	}
	return int64(info.PointCount), nil
}

// HealthCheck returns the server version
func (q *QdrantIndex) HealthCheck(ctx context.Context) (string, error) {
	reply, err := q.client.HealthCheck(ctx)
	if err != nil {
		return "", fmt.Errorf("qdrant health check failed: %w", err)
	}
	return reply.GetVersion(), nil
}

// ListCollections returns all collection names on the server
func (q *QdrantIndex) ListCollections(ctx context.Context) ([]string, error) {
	names, err := q.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	return names, nil
}

func (q *QdrantIndex) Dimension() int {
	return q.dimension
}

func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
