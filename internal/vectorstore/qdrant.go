package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/fyrsmithlabs/ragmemory/internal/pool"
	"github.com/fyrsmithlabs/ragmemory/internal/ragerr"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var tracer = otel.Tracer("ragmemory.vectorstore.qdrant")

// collectionNamePattern validates collection names.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name against security
// rules. Pattern: ^[a-z0-9_]{1,64}$. Rejects uppercase, special
// characters, path traversal, and spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// isTransientError reports whether err is a transport-level failure
// worth retrying once (network blips, deadline exceeded) as opposed to
// a permanent rejection (bad argument, not found, permission denied).
func isTransientError(err error) bool {
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

// QdrantStore is the C3 Store implementation, backed by Qdrant's native
// gRPC client via a bounded internal/pool.Pool.
type QdrantStore struct {
	pool           *pool.Pool
	acquireTimeout time.Duration
	distance       qdrant.Distance

	schemaMu       sync.RWMutex
	schemaVersions map[string]int // collection -> last-observed schema_version
}

// NewQdrantStore wraps an already-constructed connection pool.
// Composition of the pool itself (dialer, timeouts, size) is the
// caller's responsibility: the store adapter only consumes a pool, it
// never builds one.
func NewQdrantStore(p *pool.Pool, acquireTimeout time.Duration) *QdrantStore {
	if acquireTimeout <= 0 {
		acquireTimeout = 5 * time.Second
	}
	return &QdrantStore{
		pool:           p,
		acquireTimeout: acquireTimeout,
		distance:       qdrant.Distance_Cosine,
		schemaVersions: make(map[string]int),
	}
}

func (s *QdrantStore) acquire(ctx context.Context) (*pool.Handle, error) {
	return s.pool.Acquire(ctx, s.acquireTimeout)
}

// withClient runs fn with a leased client, marking the handle failed
// (so the pool recycles it) on a transient transport error, and
// retrying exactly once more on a fresh handle before giving up.
func (s *QdrantStore) withClient(ctx context.Context, fn func(c *qdrant.Client) error) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		h, err := s.acquire(ctx)
		if err != nil {
			return err
		}
		err = fn(h.Client)
		if err == nil {
			h.Release()
			return nil
		}
		if isTransientError(err) {
			h.MarkFailed()
			h.Release()
			lastErr = err
			continue
		}
		h.Release()
		return err
	}
	return lastErr
}

// EnsureCollection creates spec's collection if absent, or verifies an
// existing one's dimension and schema version. Never re-creates on
// mismatch.
func (s *QdrantStore) EnsureCollection(ctx context.Context, spec CollectionSpec) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.EnsureCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", spec.Name))

	if err := ValidateCollectionName(spec.Name); err != nil {
		return ragerr.Wrap(ragerr.KindInvalidInput, err, "invalid collection name")
	}

	info, err := s.CollectionInfo(ctx, spec.Name)
	if err != nil && !errors.Is(err, ErrCollectionNotFound) {
		span.RecordError(err)
		return err
	}

	if info != nil {
		if info.VectorDim != int(spec.VectorDim) {
			return ragerr.New(ragerr.KindSchemaMismatch,
				fmt.Sprintf("collection %s has dimension %d, spec requires %d", spec.Name, info.VectorDim, spec.VectorDim))
		}
		if spec.PayloadSchemaVersion > 0 {
			existing, err := s.observedSchemaVersion(ctx, spec.Name)
			if err != nil {
				span.RecordError(err)
				return err
			}
			if err := validateSchemaVersion(spec.Name, existing, spec.PayloadSchemaVersion); err != nil {
				return err
			}
		}
		return nil
	}

	distance := s.distance
	if spec.Distance == "euclid" {
		distance = qdrant.Distance_Euclid
	} else if spec.Distance == "dot" {
		distance = qdrant.Distance_Dot
	}

	err = s.withClient(ctx, func(c *qdrant.Client) error {
		return c.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: spec.Name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     spec.VectorDim,
				Distance: distance,
			}),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ragerr.Wrap(ragerr.KindTransportError, err, "creating collection "+spec.Name)
	}
	span.SetStatus(codes.Ok, "created")
	return nil
}

// observedSchemaVersion reports the schema_version carried by an
// arbitrary point in collection, caching the result so repeated calls
// (e.g. from Search) don't each pay for a scroll round-trip. Returns 0
// for an empty collection: there is nothing written yet to disagree
// with.
func (s *QdrantStore) observedSchemaVersion(ctx context.Context, collection string) (int, error) {
	s.schemaMu.RLock()
	if v, ok := s.schemaVersions[collection]; ok {
		s.schemaMu.RUnlock()
		return v, nil
	}
	s.schemaMu.RUnlock()

	page, err := s.Scroll(ctx, collection, nil, "", 1)
	if err != nil {
		return 0, err
	}
	if len(page.Points) == 0 {
		return 0, nil
	}

	version := schemaVersionFromPayload(page.Points[0].Payload)

	s.schemaMu.Lock()
	s.schemaVersions[collection] = version
	s.schemaMu.Unlock()
	return version, nil
}

// schemaVersionFromPayload reads the reserved schema_version field,
// tolerating the int64/float64/int shapes a payload round-trip may
// produce. Returns 0 if the field is absent or of an unexpected type.
func schemaVersionFromPayload(payload map[string]any) int {
	switch v := payload["schema_version"].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// validateSchemaVersion rejects an existing collection whose observed
// schema version exceeds maxUnderstood.
func validateSchemaVersion(collection string, existing, maxUnderstood int) error {
	if existing > maxUnderstood {
		return ragerr.New(ragerr.KindSchemaMismatch,
			fmt.Sprintf("collection %s has schema version %d, this adapter understands up to %d", collection, existing, maxUnderstood))
	}
	return nil
}

// checkSchemaVersion refuses to operate against a collection whose
// observed schema_version exceeds what this adapter understands.
func (s *QdrantStore) checkSchemaVersion(ctx context.Context, collection string) error {
	existing, err := s.observedSchemaVersion(ctx, collection)
	if err != nil {
		return err
	}
	return validateSchemaVersion(collection, existing, CurrentSchemaVersion)
}

// Upsert stores points atomically per point, waiting for the write to
// be index-visible before returning.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("point_count", len(points)))

	if len(points) == 0 {
		return nil
	}
	if err := ValidateCollectionName(collection); err != nil {
		return ragerr.Wrap(ragerr.KindInvalidInput, err, "invalid collection name")
	}

	qPoints := make([]*qdrant.PointStruct, len(points))
	for i, pt := range points {
		id := pt.ID
		if id == "" {
			id = uuid.New().String()
		}
		qPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(pt.Vector...),
			Payload: payloadToValues(pt.Payload),
		}
	}

	wait := true
	err := s.withClient(ctx, func(c *qdrant.Client) error {
		_, err := c.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         qPoints,
			Wait:           &wait,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ragerr.Wrap(ragerr.KindTransportError, err, "upserting to "+collection)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Delete removes points by id. Deleting a non-existent id succeeds.
func (s *QdrantStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.DeleteByFilter(ctx, collection, Filter{"id": ids})
}

// DeleteByFilter removes every point matching f. An empty filter is
// rejected to prevent an accidental full-collection wipe.
func (s *QdrantStore) DeleteByFilter(ctx context.Context, collection string, f Filter) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.DeleteByFilter")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	if len(f) == 0 {
		return ragerr.New(ragerr.KindInvalidInput, "delete_by_filter requires a non-empty filter")
	}
	qf := buildQdrantFilter(f)

	err := s.withClient(ctx, func(c *qdrant.Client) error {
		_, err := c.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: qf},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ragerr.Wrap(ragerr.KindTransportError, err, "delete_by_filter on "+collection)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search returns up to k matches ordered by score descending. Score is
// read exclusively from the scored point, never from its payload.
func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, k int, f Filter) ([]SearchResult, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Search")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("k", k))

	if k <= 0 {
		return nil, ragerr.New(ragerr.KindInvalidInput, "k must be positive")
	}
	const maxK = 10000
	if k > maxK {
		k = maxK
	}

	if err := s.checkSchemaVersion(ctx, collection); err != nil {
		span.RecordError(err)
		return nil, err
	}

	var points []*qdrant.ScoredPoint
	err := s.withClient(ctx, func(c *qdrant.Client) error {
		res, err := c.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         buildQdrantFilter(f),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, ragerr.Wrap(ragerr.KindTransportError, err, "searching "+collection)
	}

	results := make([]SearchResult, len(points))
	for i, p := range points {
		results[i] = scoredPointToResult(p)
	}
	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// Scroll returns one cursor-stable page, ordered by point id so
// concurrent mutation of other points never shifts the cursor.
func (s *QdrantStore) Scroll(ctx context.Context, collection string, f Filter, cursor string, limit int) (ScrollPage, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Scroll")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	if limit <= 0 {
		limit = 100
	}

	req := &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         buildQdrantFilter(f),
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	}
	if cursor != "" {
		req.Offset = qdrant.NewIDUUID(cursor)
	}

	var page ScrollPage
	err := s.withClient(ctx, func(c *qdrant.Client) error {
		res, nextOffset, err := c.ScrollAndOffset(ctx, req)
		if err != nil {
			return err
		}
		page.Points = make([]Point, len(res))
		for i, p := range res {
			page.Points[i] = retrievedPointToPoint(p)
		}
		if nextOffset != nil {
			page.NextCursor = pointIDString(nextOffset)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ScrollPage{}, ragerr.Wrap(ragerr.KindTransportError, err, "scrolling "+collection)
	}
	span.SetStatus(codes.Ok, "success")
	return page, nil
}

// Count returns the exact number of points matching f.
func (s *QdrantStore) Count(ctx context.Context, collection string, f Filter) (int, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Count")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	var count uint64
	err := s.withClient(ctx, func(c *qdrant.Client) error {
		exact := true
		res, err := c.Count(ctx, &qdrant.CountPoints{
			CollectionName: collection,
			Filter:         buildQdrantFilter(f),
			Exact:          &exact,
		})
		if err != nil {
			return err
		}
		count = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, ragerr.Wrap(ragerr.KindTransportError, err, "counting "+collection)
	}
	span.SetStatus(codes.Ok, "success")
	return int(count), nil
}

// RenameProject rewrites project_name from old to new across every
// matching point: scroll the old scope, overwrite the payload field on
// each point, upsert, then verify old is empty.
func (s *QdrantStore) RenameProject(ctx context.Context, collection, oldName, newName string) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.RenameProject")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.String("old", oldName), attribute.String("new", newName))

	cursor := ""
	for {
		page, err := s.Scroll(ctx, collection, ProjectFilter(oldName), cursor, 500)
		if err != nil {
			return err
		}
		if len(page.Points) == 0 {
			break
		}
		for i := range page.Points {
			page.Points[i].Payload["project_name"] = newName
		}
		if err := s.Upsert(ctx, collection, page.Points); err != nil {
			return err
		}
		cursor = page.NextCursor
		if cursor == "" {
			break
		}
	}
	if oldName != newName {
		remaining, err := s.Count(ctx, collection, ProjectFilter(oldName))
		if err != nil {
			return err
		}
		if remaining != 0 {
			return ragerr.New(ragerr.KindConflict, fmt.Sprintf("project %s still has %d points after rename", oldName, remaining)).WithProject(oldName)
		}
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteProject deletes every point scoped to name and verifies via a
// post-count that none remain.
func (s *QdrantStore) DeleteProject(ctx context.Context, collection, name string) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.DeleteProject")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.String("project", name))

	if err := s.DeleteByFilter(ctx, collection, ProjectFilter(name)); err != nil {
		return err
	}
	remaining, err := s.Count(ctx, collection, ProjectFilter(name))
	if err != nil {
		return err
	}
	if remaining != 0 {
		return ragerr.New(ragerr.KindConflict, fmt.Sprintf("project %s still has %d points after delete", name, remaining)).WithProject(name)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// CollectionInfo returns point count and vector dimension, or
// ErrCollectionNotFound if the collection doesn't exist.
func (s *QdrantStore) CollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.CollectionInfo")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	var info *CollectionInfo
	err := s.withClient(ctx, func(c *qdrant.Client) error {
		collInfo, err := c.GetCollectionInfo(ctx, collection)
		if err != nil {
			st, ok := status.FromError(err)
			if ok && st.Code() == grpccodes.NotFound {
				return ErrCollectionNotFound
			}
			return err
		}
		pointCount := int(collInfo.GetPointsCount())
		dim := int(collInfo.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
		info = &CollectionInfo{Name: collection, PointCount: pointCount, VectorDim: dim}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrCollectionNotFound) {
			return nil, ErrCollectionNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, ragerr.Wrap(ragerr.KindTransportError, err, "getting collection info for "+collection)
	}
	span.SetStatus(codes.Ok, "success")
	return info, nil
}

// Close releases the connection pool.
func (s *QdrantStore) Close() error {
	return s.pool.Close()
}

func payloadToValues(payload map[string]any) map[string]*qdrant.Value {
	values := make(map[string]*qdrant.Value, len(payload))
	for k, v := range payload {
		if val := toQdrantValue(v); val != nil {
			values[k] = val
		}
	}
	return values
}

func toQdrantValue(v any) *qdrant.Value {
	switch val := v.(type) {
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
	case []string:
		list := make([]*qdrant.Value, len(val))
		for i, s := range val {
			list[i] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
		}
		return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: list}}}
	case map[string]any:
		return &qdrant.Value{Kind: &qdrant.Value_StructValue{StructValue: &qdrant.Struct{Fields: payloadToValues(val)}}}
	default:
		return nil
	}
}

func valuesToPayload(values map[string]*qdrant.Value) map[string]any {
	payload := make(map[string]any, len(values))
	for k, v := range values {
		payload[k] = fromQdrantValue(v)
	}
	return payload
}

func fromQdrantValue(v *qdrant.Value) any {
	switch val := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	case *qdrant.Value_ListValue:
		out := make([]any, len(val.ListValue.Values))
		for i, item := range val.ListValue.Values {
			out[i] = fromQdrantValue(item)
		}
		return out
	case *qdrant.Value_StructValue:
		return valuesToPayload(val.StructValue.Fields)
	default:
		return nil
	}
}

// scoredPointToResult converts a ScoredPoint to a SearchResult. Score
// comes only from point.Score: the historical defect of reading it back
// out of a payload field ("score" leaking in from an earlier indexer
// run) must never happen here.
func scoredPointToResult(p *qdrant.ScoredPoint) SearchResult {
	result := SearchResult{Score: p.Score}
	if p.Id != nil {
		result.ID = pointIDString(p.Id)
	}
	if p.Payload != nil {
		result.Payload = valuesToPayload(p.Payload)
	}
	return result
}

func retrievedPointToPoint(p *qdrant.RetrievedPoint) Point {
	pt := Point{}
	if p.Id != nil {
		pt.ID = pointIDString(p.Id)
	}
	if p.Payload != nil {
		pt.Payload = valuesToPayload(p.Payload)
	}
	if vectors := p.GetVectors(); vectors != nil {
		if dense := vectors.GetVector(); dense != nil {
			pt.Vector = dense.GetData()
		}
	}
	return pt
}

func pointIDString(id *qdrant.PointId) string {
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	default:
		return ""
	}
}
