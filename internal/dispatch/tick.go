package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/talgya/omniworld/internal/engine"
	"github.com/talgya/omniworld/internal/entropy"
	"github.com/talgya/omniworld/internal/store"
	"github.com/talgya/omniworld/internal/world"
)

// RunTicks drives the passive simulation until ctx is cancelled. Each
// interval every active region cell is resolved under its own scope lock,
// exactly like a player action, so ticks and actions serialize cleanly.
func (d *Dispatcher) RunTicks(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.TickAll(ctx)
		}
	}
}

// TickAll runs one passive pass over every active cell.
func (d *Dispatcher) TickAll(ctx context.Context) {
	start := time.Now()
	cells := d.store.ActiveCellIDs()
	for _, cellID := range cells {
		if ctx.Err() != nil {
			return
		}
		if err := d.tickCell(ctx, cellID); err != nil {
			d.log.Warn("cell tick failed", "cell", cellID, "error", err)
		}
	}
	d.metrics.TickSeconds.Observe(time.Since(start).Seconds())
	d.log.Debug("tick complete", "cells", len(cells))
}

// tickCell resolves passive engines for one cell and its unheld objects.
// Actors tick through their own actions; an idle actor's catch-up happens
// on their next command.
func (d *Dispatcher) tickCell(ctx context.Context, cellID world.EntityID) error {
	ids := append([]world.EntityID{cellID}, d.store.ObjectIDsInCell(cellID)...)
	scope, err := d.locks.Acquire(ctx, ids)
	if err != nil {
		return err
	}
	defer scope.Release()

	snap, err := d.store.Read(scope.IDs)
	if err != nil {
		return err
	}

	now := time.Now()
	var pos world.Coord
	if snap.Cell != nil {
		pos = world.Coord{X: snap.Cell.CX * world.CellSize, Y: snap.Cell.CY * world.CellSize}
	}
	ectx := &engine.Context{
		Snap:     snap,
		Now:      now,
		Weather:  d.met.At(pos, snap.Biome, now),
		Time:     world.TimeAt(pos.X, now, 0),
		Rand:     entropy.NewRand(),
		Activity: float64(d.store.ActionRateSince(now.Add(-time.Hour))),
		Moisture: d.biomes.Moisture(pos.X, pos.Y),
		Materials: func(id string) (world.MaterialProps, bool) {
			m, ok := d.reg.Material(id)
			if !ok {
				return world.MaterialProps{}, false
			}
			return m.Props, true
		},
	}
	delta := d.engines.Resolve(ectx)
	if delta.Empty() {
		return nil
	}
	_, err = d.store.Commit(delta, snap.Versions)
	if errors.Is(err, store.ErrInvariant) {
		// A crumbled object may race its own destruction across ticks.
		d.log.Debug("tick delta rejected", "cell", cellID, "error", err)
		return nil
	}
	return err
}
