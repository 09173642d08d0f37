package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// cypherResult is the subset of a neo4j result the graph catalog reads.
type cypherResult interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// cypherRunner runs a single statement, in a session or a transaction.
type cypherRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (cypherResult, error)
}

// cypherSession is the subset of a neo4j session the graph catalog uses.
type cypherSession interface {
	cypherRunner
	ExecuteWrite(ctx context.Context, work func(tx cypherRunner) error) error
	Close(ctx context.Context) error
}

type sessionOpener interface {
	OpenSession(ctx context.Context) cypherSession
}

type driverOpener struct{ driver neo4j.DriverWithContext }

func (o driverOpener) OpenSession(ctx context.Context) cypherSession {
	return &driverSession{sess: o.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

type driverSession struct{ sess neo4j.SessionWithContext }

func (s *driverSession) Run(ctx context.Context, cypher string, params map[string]any) (cypherResult, error) {
	return s.sess.Run(ctx, cypher, params)
}

func (s *driverSession) ExecuteWrite(ctx context.Context, work func(tx cypherRunner) error) error {
	_, err := s.sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, work(txRunner{tx: tx})
	})
	return err
}

func (s *driverSession) Close(ctx context.Context) error { return s.sess.Close(ctx) }

type txRunner struct{ tx neo4j.ManagedTransaction }

func (r txRunner) Run(ctx context.Context, cypher string, params map[string]any) (cypherResult, error) {
	return r.tx.Run(ctx, cypher, params)
}

// Graph is a Catalog backed by Make and VehicleModel nodes in Neo4j:
//
//	(:Make {id, name})-[:HAS_MODEL]->(:VehicleModel {id, name, make_id})
//
// Reads are served from a snapshot loaded on first use and replaced by Refresh.
// A failed Refresh keeps the previous snapshot.
type Graph struct {
	opener sessionOpener
	log    *slog.Logger

	mu   sync.RWMutex
	snap *Static
}

// NewGraph creates a graph catalog on top of a neo4j driver.
func NewGraph(driver neo4j.DriverWithContext, log *slog.Logger) *Graph {
	return newGraphWithOpener(driverOpener{driver: driver}, log)
}

func newGraphWithOpener(o sessionOpener, log *slog.Logger) *Graph {
	if log == nil {
		log = slog.Default()
	}
	return &Graph{opener: o, log: log}
}

const listEntriesCypher = `MATCH (mk:Make)-[:HAS_MODEL]->(m:VehicleModel)
RETURN mk.id AS brand_id, mk.name AS brand_name, m.id AS model_id, m.name AS model_name
ORDER BY model_id`

// Refresh reloads the snapshot from the graph.
func (g *Graph) Refresh(ctx context.Context) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, listEntriesCypher, nil)
	if err != nil {
		return fmt.Errorf("catalog: list entries: %w", err)
	}
	var entries []Entry
	for result.Next(ctx) {
		rec := result.Record()
		entries = append(entries, Entry{
			BrandID:   recString(rec, "brand_id"),
			BrandName: recString(rec, "brand_name"),
			ModelID:   recString(rec, "model_id"),
			ModelName: recString(rec, "model_name"),
		})
	}
	if err := result.Err(); err != nil {
		return fmt.Errorf("catalog: list entries: %w", err)
	}
	snap := NewStatic(entries)

	g.mu.Lock()
	g.snap = snap
	g.mu.Unlock()
	g.log.Info("catalog: refreshed", "entries", snap.Len())
	return nil
}

func (g *Graph) snapshot(ctx context.Context) (*Static, error) {
	g.mu.RLock()
	snap := g.snap
	g.mu.RUnlock()
	if snap != nil {
		return snap, nil
	}
	if err := g.Refresh(ctx); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.snap, nil
}

// Resolve implements Catalog.
func (g *Graph) Resolve(ctx context.Context, brandText, modelText string) (Entry, bool, error) {
	snap, err := g.snapshot(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	return snap.Resolve(ctx, brandText, modelText)
}

// Entries implements Catalog.
func (g *Graph) Entries(ctx context.Context) ([]Entry, error) {
	snap, err := g.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Entries(ctx)
}

// Lookup implements Catalog.
func (g *Graph) Lookup(ctx context.Context, brandID, modelID string) (Entry, bool, error) {
	snap, err := g.snapshot(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	return snap.Lookup(ctx, brandID, modelID)
}

const mergeEntryCypher = `MERGE (mk:Make {id: $brandID}) SET mk.name = $brandName
WITH mk
MERGE (m:VehicleModel {id: $modelID}) SET m.name = $modelName, m.make_id = $brandID
MERGE (mk)-[:HAS_MODEL]->(m)`

// Seed merges entries into the graph in one write transaction and refreshes
// the snapshot.
func (g *Graph) Seed(ctx context.Context, entries []Entry) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	err := sess.ExecuteWrite(ctx, func(tx cypherRunner) error {
		for _, e := range entries {
			res, err := tx.Run(ctx, mergeEntryCypher, map[string]any{
				"brandID":   e.BrandID,
				"brandName": e.BrandName,
				"modelID":   e.ModelID,
				"modelName": e.ModelName,
			})
			if err != nil {
				return fmt.Errorf("seed %s: %w", e.ModelID, err)
			}
			for res.Next(ctx) {
			}
			if err := res.Err(); err != nil {
				return fmt.Errorf("seed %s: %w", e.ModelID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	g.log.Info("catalog: seeded", "entries", len(entries))
	return g.Refresh(ctx)
}

func recString(rec *neo4j.Record, key string) string {
	if rec == nil {
		return ""
	}
	v, ok := rec.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
