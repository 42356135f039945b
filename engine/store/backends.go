package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/storyboard/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// NodeLabel is the label of storyboard nodes in Neo4j.
const NodeLabel = "Storyboard"

// NewFileStore stores blobs as JSON files under dir.
func NewFileStore(dir, key string, logger *slog.Logger) (*Store, error) {
	r, err := repo.NewFileRepo[Record](dir)
	if err != nil {
		return nil, err
	}
	return New(r, key, logger), nil
}

// NewNeo4jRepo returns a repository of (:Storyboard {key, blob, updated_at}) nodes.
func NewNeo4jRepo(driver neo4j.DriverWithContext) *repo.Neo4jRepo[Record, string] {
	return repo.NewNeo4jRepo[Record, string](driver, NodeLabel, recordToMap, recordFromNeo4j,
		repo.WithIDKey[Record, string]("key"))
}

// NewNeo4jStore stores blobs as Storyboard nodes.
func NewNeo4jStore(ctx context.Context, driver neo4j.DriverWithContext, key string, logger *slog.Logger) (*Store, error) {
	r := NewNeo4jRepo(driver)
	if err := r.EnsureConstraint(ctx); err != nil {
		return nil, err
	}
	return New(r, key, logger), nil
}

func recordToMap(r Record) map[string]any {
	return map[string]any{
		"key":        r.Key,
		"blob":       r.Blob,
		"updated_at": r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func recordFromNeo4j(rec *neo4j.Record) (Record, error) {
	if len(rec.Values) == 0 {
		return Record{}, fmt.Errorf("store: empty record")
	}
	m, ok := rec.Values[0].(map[string]any)
	if !ok {
		return Record{}, fmt.Errorf("store: unexpected record type %T", rec.Values[0])
	}
	var out Record
	out.Key, _ = m["key"].(string)
	out.Blob, _ = m["blob"].(string)
	if ts, ok := m["updated_at"].(string); ok {
		out.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return out, nil
}
