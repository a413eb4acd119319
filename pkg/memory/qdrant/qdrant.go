// Package qdrant implements memory.VectorStore over the Qdrant gRPC API.
package qdrant

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jllopis/kopl/pkg/memory"
)

// Store is a Qdrant-backed vector store.
type Store struct {
	conn        *grpc.ClientConn
	client      pb.PointsClient
	collections pb.CollectionsClient
}

// New connects to the Qdrant gRPC endpoint at addr (host:6334).
func New(addr string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("did not connect: %w", err)
	}
	return &Store{
		conn:        conn,
		client:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

// Close releases the connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// CreateCollection creates a cosine collection unless it already exists.
func (s *Store) CreateCollection(ctx context.Context, name string, vectorSize uint64) error {
	exists, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: name})
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists.GetResult().GetExists() {
		return nil
	}
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     vectorSize,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// Upsert stores points. Ids must be UUIDs.
func (s *Store) Upsert(ctx context.Context, collection string, points []memory.Point) error {
	qPoints := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		qPoints[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: p.Vector},
				},
			},
			Payload: toPayload(p.Payload),
		}
	}

	wait := true
	_, err := s.client.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         qPoints,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Search returns the nearest points with their payloads.
func (s *Store) Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float32) ([]memory.SearchResult, error) {
	resp, err := s.client.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(limit),
		ScoreThreshold: &scoreThreshold,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	results := make([]memory.SearchResult, len(resp.Result))
	for i, r := range resp.Result {
		id := r.Id.GetUuid()
		if id == "" {
			id = fmt.Sprintf("%d", r.Id.GetNum())
		}
		results[i] = memory.SearchResult{
			ID:    id,
			Score: r.Score,
			Point: memory.Point{
				ID:      id,
				Payload: fromPayload(r.Payload),
			},
		}
	}
	return results, nil
}

func toPayload(in map[string]any) map[string]*pb.Value {
	payload := make(map[string]*pb.Value, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: val}}
		case bool:
			payload[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: val}}
		case int:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: val}}
		case float64:
			payload[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: val}}
		}
	}
	return payload
}

func fromPayload(in map[string]*pb.Value) map[string]any {
	payload := make(map[string]any, len(in))
	for k, v := range in {
		switch knd := v.GetKind().(type) {
		case *pb.Value_StringValue:
			payload[k] = knd.StringValue
		case *pb.Value_BoolValue:
			payload[k] = knd.BoolValue
		case *pb.Value_IntegerValue:
			payload[k] = knd.IntegerValue
		case *pb.Value_DoubleValue:
			payload[k] = knd.DoubleValue
		}
	}
	return payload
}
