package geometry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"github.com/Faultbox/hapticore/internal/logger"
	"github.com/Faultbox/hapticore/pkg/mesh"
)

// Index hands an immutable BVH from a rebuilding goroutine to any number of
// readers. Readers load the current snapshot with one atomic read and never
// see a partially built tree; writers are serialized.
type Index struct {
	current atomic.Pointer[BVH]
	gen     atomic.Uint64
	mu      sync.Mutex // serializes Rebuild
	opts    []Option
	log     *zap.Logger
}

// NewIndex builds the first tree over m.
func NewIndex(m *mesh.Mesh, opts ...Option) (*Index, error) {
	ix := &Index{opts: opts, log: logger.Named("geometry")}
	if err := ix.Rebuild(m); err != nil {
		return nil, err
	}
	return ix, nil
}

// Snapshot returns the tree currently in use.
func (ix *Index) Snapshot() *BVH {
	return ix.current.Load()
}

// Generation returns the number of successful builds so far.
func (ix *Index) Generation() uint64 {
	return ix.gen.Load()
}

// Rebuild discards the current tree and builds a new one over m. On failure
// the previous tree stays in place. Required after any vertex or topology edit.
func (ix *Index) Rebuild(m *mesh.Mesh) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	start := time.Now()
	b, err := Build(m, ix.opts...)
	if err != nil {
		ix.log.Warn("index rebuild failed, keeping previous tree", zap.Error(err))
		return err
	}
	ix.current.Store(b)
	gen := ix.gen.Add(1)

	s := b.Stats()
	ix.log.Debug("index rebuilt",
		zap.Uint64("generation", gen),
		zap.Int("triangles", s.Triangles),
		zap.Int("nodes", s.Nodes),
		zap.Int("depth", s.Depth),
		zap.Duration("took", time.Since(start)),
	)
	if s.Degenerate > 0 {
		ix.log.Warn("mesh has degenerate triangles", zap.Int("count", s.Degenerate))
	}
	return nil
}

// RebuildAsync runs Rebuild on a new goroutine. The returned channel receives
// the result once and is then closed. A cancelled context skips the build.
func (ix *Index) RebuildAsync(ctx context.Context, m *mesh.Mesh) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		if err := ctx.Err(); err != nil {
			done <- err
			return
		}
		done <- ix.Rebuild(m)
	}()
	return done
}

// Query runs BVH.Query on the current snapshot.
func (ix *Index) Query(p mgl64.Vec3, maxRadius float64) []Candidate {
	return ix.Snapshot().Query(p, maxRadius)
}

// Nearest runs BVH.Nearest on the current snapshot.
func (ix *Index) Nearest(p mgl64.Vec3, maxRadius float64) (Candidate, bool) {
	return ix.Snapshot().Nearest(p, maxRadius)
}

// Raycast runs BVH.Raycast on the current snapshot.
func (ix *Index) Raycast(r Ray, maxT float64) (Hit, bool) {
	return ix.Snapshot().Raycast(r, maxT)
}
