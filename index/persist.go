package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/go-crypt/x/blake2b"
	"github.com/poiesic/reviewmill/core"
	"github.com/poiesic/reviewmill/storage"
	"github.com/vmihailenco/msgpack/v5"
)

// snapshotVersion changes whenever the persisted layout does.
const snapshotVersion = 1

type envelope struct {
	Version  int    `msgpack:"v"`
	Checksum []byte `msgpack:"c"`
	Payload  []byte `msgpack:"p"`
}

type payload struct {
	Dimension int         `msgpack:"d"`
	IDs       []core.ID   `msgpack:"i"`
	Vectors   [][]float32 `msgpack:"x"`
}

func checksum(data []byte) []byte {
	h, _ := blake2b.New(32, nil)
	h.Write(data)
	return h.Sum(nil)
}

// Persist writes the current snapshot to the snapshot store.
func (ix *Index) Persist(ctx context.Context) error {
	snap := ix.current.Load()
	body, err := msgpack.Marshal(&payload{
		Dimension: ix.dimension,
		IDs:       snap.ids,
		Vectors:   snap.vectors,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	data, err := msgpack.Marshal(&envelope{
		Version:  snapshotVersion,
		Checksum: checksum(body),
		Payload:  body,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	if err := ix.snapshots.SaveSnapshot(ctx, ix.name, data); err != nil {
		return err
	}
	ix.logger.Info("index persisted", "vectors", len(snap.ids), "bytes", len(data))
	return nil
}

// Load replaces the index with the persisted snapshot. A missing snapshot
// loads as empty. A snapshot that cannot be used also loads as empty but
// sets RebuildNeeded; only snapshot store failures are returned.
func (ix *Index) Load(ctx context.Context) error {
	data, err := ix.snapshots.LoadSnapshot(ctx, ix.name)
	if errors.Is(err, storage.ErrNotFound) {
		ix.replace(emptySnapshot())
		ix.rebuildNeeded.Store(false)
		ix.logger.Info("no persisted index, starting empty")
		return nil
	}
	if err != nil {
		return err
	}

	snap, err := ix.decode(data)
	if err != nil {
		ix.replace(emptySnapshot())
		ix.rebuildNeeded.Store(true)
		ix.logger.Warn("persisted index unusable, rebuild needed", "err", err)
		return nil
	}

	ix.replace(snap)
	ix.rebuildNeeded.Store(false)
	ix.logger.Info("index loaded", "vectors", len(snap.ids))
	return nil
}

func (ix *Index) decode(data []byte) (*snapshot, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrIndexLoad, err)
	}
	if env.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: snapshot version %d, want %d", core.ErrIndexLoad, env.Version, snapshotVersion)
	}
	if !bytes.Equal(env.Checksum, checksum(env.Payload)) {
		return nil, fmt.Errorf("%w: checksum mismatch", core.ErrIndexLoad)
	}

	var p payload
	if err := msgpack.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrIndexLoad, err)
	}
	if p.Dimension != ix.dimension {
		return nil, fmt.Errorf("%w: %w: snapshot has %d, want %d", core.ErrIndexLoad, ErrDimensionMismatch, p.Dimension, ix.dimension)
	}
	if len(p.IDs) != len(p.Vectors) {
		return nil, fmt.Errorf("%w: %d ids for %d vectors", core.ErrIndexLoad, len(p.IDs), len(p.Vectors))
	}

	snap := emptySnapshot()
	for i, id := range p.IDs {
		if len(p.Vectors[i]) != ix.dimension {
			return nil, fmt.Errorf("%w: %w: vector %d", core.ErrIndexLoad, ErrDimensionMismatch, i)
		}
		if _, dup := snap.slots[id]; dup || id == 0 {
			return nil, fmt.Errorf("%w: invalid review id %d", core.ErrIndexLoad, id)
		}
		snap.put(id, p.Vectors[i])
	}
	return snap, nil
}

func (ix *Index) replace(snap *snapshot) {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()
	ix.current.Store(snap)
	ix.metrics.SetIndexVectors(len(snap.ids))
}
