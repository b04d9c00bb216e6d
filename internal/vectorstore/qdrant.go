package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var qdrantTracer = otel.Tracer("minutes.vectorstore.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC backend.
type QdrantConfig struct {
	Host       string
	Port       int
	Collection string
	UseTLS     bool
	APIKey     string

	// MaxRetries bounds retries of transient gRPC failures. Default: 3.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per attempt. Default: 200ms.
	RetryBackoff time.Duration

	// DialTimeout bounds the construction health check. Default: 5s.
	DialTimeout time.Duration

	// MaxMessageSize caps gRPC messages in bytes. Default: 50MB.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "minutes_passages"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantIndex is the remote accelerated backend. Points carry the caller id
// and an insertion sequence in their payload; Qdrant assigns random point ids
// so re-upserted ids append rather than overwrite.
type QdrantIndex struct {
	client  *qdrant.Client
	config  QdrantConfig
	dim     int
	seqBase uint64
	seq     atomic.Uint64
	logger  *zap.Logger
}

var _ Index = (*QdrantIndex)(nil)

// NewQdrantIndex connects, health-checks, and ensures the collection exists.
func NewQdrantIndex(ctx context.Context, config QdrantConfig, dim int, logger *zap.Logger) (*QdrantIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	if dim <= 0 {
		return nil, fmt.Errorf("%w: qdrant requires a configured dimension", ErrBackendUnavailable)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		APIKey: config.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating qdrant client: %v", ErrBackendUnavailable, err)
	}

	q := &QdrantIndex{
		client:  client,
		config:  config,
		dim:     dim,
		seqBase: uint64(time.Now().UnixNano()),
		logger:  logger,
	}

	checkCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
	defer cancel()

	if _, err := client.HealthCheck(checkCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: qdrant health check at %s:%d: %v", ErrBackendUnavailable, config.Host, config.Port, err)
	}
	if err := q.ensureCollection(checkCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	logger.Info("qdrant index initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection),
		zap.Int("dimension", dim),
	)
	return q, nil
}

// Backend returns "qdrant".
func (q *QdrantIndex) Backend() string { return "qdrant" }

// Close releases the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	_, err := q.client.GetCollectionInfo(ctx, q.config.Collection)
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); !ok || st.Code() != grpccodes.NotFound {
		return fmt.Errorf("checking collection %s: %w", q.config.Collection, err)
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dim),
			Distance: qdrant.Distance_Dot,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", q.config.Collection, err)
	}
	return nil
}

func (q *QdrantIndex) retry(ctx context.Context, op string, fn func() error) error {
	backoff := q.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", op, err)
		}
		if attempt >= q.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", op, q.config.MaxRetries, err)
		}
		q.logger.Debug("retrying qdrant operation", zap.String("op", op), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", op, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// Upsert appends points in a single waited request.
func (q *QdrantIndex) Upsert(ctx context.Context, ids []string, vectors [][]float32, metadatas []Metadata) (err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Upsert")
	defer span.End()
	defer observe("qdrant", "upsert", time.Now(), &err)

	span.SetAttributes(attribute.Int("count", len(ids)))

	normalized, err := validateUpsert(q.dim, ids, vectors, metadatas)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	// Reserve a contiguous sequence range for the batch.
	last := q.seq.Add(uint64(len(ids)))
	first := q.seqBase + last - uint64(len(ids))

	points := make([]*qdrant.PointStruct, len(ids))
	for i, id := range ids {
		payload := encodePayload(metadatas[i])
		payload[reservedIDKey] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: id}}
		payload[reservedSeqKey] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(first + uint64(i))}}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuid.New().String()),
			Vectors: qdrant.NewVectors(normalized[i]...),
			Payload: payload,
		}
	}

	err = q.retry(ctx, "upsert", func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.config.Collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting to %s: %w", q.config.Collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query runs an exact search and re-ranks ties by insertion order.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, k int, filters Metadata) (hits []Hit, err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Query")
	defer span.End()
	defer observe("qdrant", "query", time.Now(), &err)

	span.SetAttributes(attribute.Int("k", k), attribute.Int("filters", len(filters)))

	if k <= 0 {
		return nil, nil
	}
	vec, err := validateQuery(q.dim, vector)
	if err != nil {
		return nil, err
	}
	filter, ok := buildFilter(filters)
	if !ok {
		return nil, nil
	}

	hits, err = collectTopK(ctx, k, 0, func(ctx context.Context, n int) ([]candidate, error) {
		var points []*qdrant.ScoredPoint
		err := q.retry(ctx, "query", func() error {
			res, err := q.client.Query(ctx, &qdrant.QueryPoints{
				CollectionName: q.config.Collection,
				Query:          qdrant.NewQuery(vec...),
				Limit:          qdrant.PtrOf(uint64(n)),
				WithPayload:    qdrant.NewWithPayload(true),
				Filter:         filter,
				Params: &qdrant.SearchParams{
					Exact: qdrant.PtrOf(true),
				},
			})
			if err != nil {
				return err
			}
			points = res
			return nil
		})
		if err != nil {
			return nil, err
		}

		cands := make([]candidate, 0, len(points))
		for _, p := range points {
			id, seq, md := decodePayload(p.GetPayload())
			cands = append(cands, candidate{
				hit: Hit{ID: id, Score: p.GetScore(), Metadata: md},
				seq: seq,
			})
		}
		return cands, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying %s: %w", q.config.Collection, err)
	}

	span.SetAttributes(attribute.Int("results", len(hits)))
	return hits, nil
}

// Persist is a no-op; Qdrant acknowledges upserts durably with Wait set.
func (q *QdrantIndex) Persist(ctx context.Context) error {
	return nil
}

func scalarValue(v any) (*qdrant.Value, bool) {
	c, ok := canonical(v)
	if !ok {
		return nil, false
	}
	switch x := c.(type) {
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: x}}, true
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: x}}, true
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(x)}}, true
		}
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: x}}, true
	}
	return nil, false
}

func encodePayload(md Metadata) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(md)+2)
	for k, v := range md {
		if val, ok := scalarValue(v); ok {
			payload[k] = val
		}
	}
	return payload
}

func decodePayload(payload map[string]*qdrant.Value) (string, uint64, Metadata) {
	var (
		id  string
		seq uint64
	)
	md := make(Metadata, len(payload))
	for k, v := range payload {
		switch k {
		case reservedIDKey:
			id = v.GetStringValue()
			continue
		case reservedSeqKey:
			seq = uint64(v.GetIntegerValue())
			continue
		}
		switch kind := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			md[k] = kind.StringValue
		case *qdrant.Value_IntegerValue:
			md[k] = kind.IntegerValue
		case *qdrant.Value_DoubleValue:
			md[k] = kind.DoubleValue
		case *qdrant.Value_BoolValue:
			md[k] = kind.BoolValue
		}
	}
	return id, seq, md
}

// buildFilter translates exact-match filters into Qdrant must-conditions.
// Non-integral numbers match through a degenerate range.
func buildFilter(filters Metadata) (*qdrant.Filter, bool) {
	if len(filters) == 0 {
		return nil, true
	}
	conditions := make([]*qdrant.Condition, 0, len(filters))
	for key, want := range filters {
		val, ok := scalarValue(want)
		if !ok {
			return nil, false
		}
		field := &qdrant.FieldCondition{Key: key}
		switch kind := val.GetKind().(type) {
		case *qdrant.Value_StringValue:
			field.Match = &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: kind.StringValue}}
		case *qdrant.Value_BoolValue:
			field.Match = &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: kind.BoolValue}}
		case *qdrant.Value_IntegerValue:
			field.Match = &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: kind.IntegerValue}}
		case *qdrant.Value_DoubleValue:
			f := kind.DoubleValue
			field.Range = &qdrant.Range{Gte: &f, Lte: &f}
		}
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{Field: field},
		})
	}
	return &qdrant.Filter{Must: conditions}, true
}
