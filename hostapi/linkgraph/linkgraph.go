// Package linkgraph maintains the bidirectional link graph between vault
// entities: forward links parsed from an entity's metadata/body, and the
// reverse backlink index derived from them (spec.md §3 invariant "for every
// A.links ∋ B, the reverse link graph records B ← A").
//
// The graph is held in memory as plain maps (an arena of IDs, not owning
// pointers between entities) and snapshotted to a bbolt database so it
// survives restarts without replaying the entire vault.
package linkgraph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	bolt "go.etcd.io/bbolt"
)

var bucketLinks = []byte("links")

// Graph holds forward and backward adjacency for every known entity ID.
type Graph struct {
	db *bolt.DB

	mu       sync.RWMutex
	forward  map[string]map[string]struct{}
	backward map[string]map[string]struct{}
}

// Open loads (or creates) the bbolt snapshot at <vaultRoot>/.kira/linkgraph.db
// and rebuilds the in-memory adjacency maps from it.
func Open(vaultRoot string) (*Graph, error) {
	dir := filepath.Join(vaultRoot, ".kira")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("linkgraph: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, "linkgraph.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("linkgraph: open %s: %w", path, err)
	}

	g := &Graph{db: db, forward: make(map[string]map[string]struct{}), backward: make(map[string]map[string]struct{})}

	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketLinks)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			var targets []string
			if err := json.Unmarshal(v, &targets); err != nil {
				return fmt.Errorf("decode links for %s: %w", k, err)
			}
			g.setForwardLocked(string(k), targets)
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("linkgraph: load snapshot: %w", err)
	}
	return g, nil
}

// Close releases the underlying bbolt handle.
func (g *Graph) Close() error { return g.db.Close() }

// SetLinks replaces entityID's forward link set with targets, updates the
// backlink index accordingly, and persists the change. Passing an empty
// slice clears the entity's outgoing links (e.g. on delete).
func (g *Graph) SetLinks(entityID string, targets []string) error {
	g.mu.Lock()
	g.setForwardLocked(entityID, targets)
	g.mu.Unlock()

	return g.persist(entityID, targets)
}

// Remove deletes entityID entirely: its forward links and any backlinks
// pointing to it.
func (g *Graph) Remove(entityID string) error {
	g.mu.Lock()
	for target := range g.forward[entityID] {
		if back, ok := g.backward[target]; ok {
			delete(back, entityID)
		}
	}
	delete(g.forward, entityID)
	g.mu.Unlock()

	return g.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLinks).Delete([]byte(entityID))
	})
}

// Forward returns the sorted list of IDs entityID links to.
func (g *Graph) Forward(entityID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.forward[entityID])
}

// Backlinks returns the sorted list of IDs that link to entityID.
func (g *Graph) Backlinks(entityID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.backward[entityID])
}

func (g *Graph) setForwardLocked(entityID string, targets []string) {
	for old := range g.forward[entityID] {
		if back, ok := g.backward[old]; ok {
			delete(back, entityID)
		}
	}
	set := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		set[t] = struct{}{}
		if g.backward[t] == nil {
			g.backward[t] = make(map[string]struct{})
		}
		g.backward[t][entityID] = struct{}{}
	}
	g.forward[entityID] = set
}

func (g *Graph) persist(entityID string, targets []string) error {
	sorted := append([]string(nil), targets...)
	sort.Strings(sorted)
	data, err := json.Marshal(sorted)
	if err != nil {
		return fmt.Errorf("linkgraph: marshal links for %s: %w", entityID, err)
	}
	return g.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLinks).Put([]byte(entityID), data)
	})
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
