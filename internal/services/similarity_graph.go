package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"
)

// SimilarityEdge is one directed user-to-user neighbour link.
type SimilarityEdge struct {
	From  int64
	To    int64
	Score float64
}

// SimilarityEdges lists each user's top-k positive-similarity neighbours in row order.
func SimilarityEdges(snap *ModelSnapshot, topK int) []SimilarityEdge {
	users, _ := snap.Ratings.Dims()
	edges := make([]SimilarityEdge, 0, users*topK)
	for row := 0; row < users; row++ {
		from := snap.Ratings.Users.Key(row)
		for _, n := range nearestNeighbours(snap, row, topK) {
			edges = append(edges, SimilarityEdge{From: from, To: n.userID, Score: round(n.sim, 4)})
		}
	}
	return edges
}

const (
	upsertEdgesCypher = `
		UNWIND $edges AS edge
		MERGE (a:User {id: edge.from})
		MERGE (b:User {id: edge.to})
		MERGE (a)-[r:SIMILAR_TO]->(b)
		SET r.score = edge.score, r.version = $version, r.export = $export, r.updated_at = datetime()`

	// Versions restart with the process, so staleness is judged by export tag.
	pruneEdgesCypher = `MATCH ()-[r:SIMILAR_TO]->() WHERE r.export IS NULL OR r.export <> $export DELETE r`
)

// SimilarityGraph mirrors the neighbour structure of each published snapshot into Neo4j as
// (:User)-[:SIMILAR_TO {score, version, export}]->(:User) relationships.
type SimilarityGraph struct {
	driver    neo4j.DriverWithContext
	topK      int
	batchSize int
	timeout   time.Duration
	logger    *logrus.Logger

	// mu serializes exports. latest is the newest published snapshot; older ones are skipped.
	mu     sync.Mutex
	latest atomic.Pointer[ModelSnapshot]
	export func(ctx context.Context, snap *ModelSnapshot) error
}

func NewSimilarityGraph(driver neo4j.DriverWithContext, topK, batchSize int, logger *logrus.Logger) *SimilarityGraph {
	if topK <= 0 {
		topK = 10
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	g := &SimilarityGraph{
		driver:    driver,
		topK:      topK,
		batchSize: batchSize,
		timeout:   10 * time.Minute,
		logger:    logger,
	}
	g.export = g.Export
	return g
}

// Attach exports snapshots the manager publishes. Exports run in the background one at a time,
// and a snapshot superseded before its turn comes is skipped.
func (g *SimilarityGraph) Attach(sm *SnapshotManager) {
	sm.OnPublish(func(snap *ModelSnapshot) {
		g.latest.Store(snap)
		go g.exportIfLatest(snap)
	})
}

func (g *SimilarityGraph) exportIfLatest(snap *ModelSnapshot) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.latest.Load() != snap {
		g.logger.WithField("version", snap.Version).Debug("Skipping export of superseded snapshot")
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	if err := g.export(ctx, snap); err != nil {
		g.logger.WithError(err).WithField("version", snap.Version).Error("Failed to export similarity graph")
	}
	return true
}

// exportTag identifies one export across process restarts.
func exportTag(snap *ModelSnapshot) int64 {
	return snap.BuiltAt.UnixNano()
}

// Export writes the snapshot's edges then removes every edge this export did not write.
func (g *SimilarityGraph) Export(ctx context.Context, snap *ModelSnapshot) error {
	start := time.Now()
	edges := SimilarityEdges(snap, g.topK)
	tag := exportTag(snap)

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	for offset := 0; offset < len(edges); offset += g.batchSize {
		end := min(offset+g.batchSize, len(edges))
		batch := make([]map[string]interface{}, 0, end-offset)
		for _, e := range edges[offset:end] {
			batch = append(batch, map[string]interface{}{
				"from":  e.From,
				"to":    e.To,
				"score": e.Score,
			})
		}

		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
			result, err := tx.Run(ctx, upsertEdgesCypher, map[string]interface{}{
				"edges":   batch,
				"version": snap.Version,
				"export":  tag,
			})
			if err != nil {
				return nil, err
			}
			return result.Consume(ctx)
		})
		if err != nil {
			return fmt.Errorf("failed to write similarity edges: %w", err)
		}
	}

	removed, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		result, err := tx.Run(ctx, pruneEdgesCypher, map[string]interface{}{"export": tag})
		if err != nil {
			return nil, err
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return nil, err
		}
		return summary.Counters().RelationshipsDeleted(), nil
	})
	if err != nil {
		return fmt.Errorf("failed to prune stale similarity edges: %w", err)
	}

	g.logger.WithFields(logrus.Fields{
		"version":  snap.Version,
		"edges":    len(edges),
		"removed":  removed,
		"duration": time.Since(start),
	}).Info("Similarity graph exported")

	return nil
}
