package lock

import (
	"context"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
)

// maxZoneDepth bounds the zone chain walked by Controls.
const maxZoneDepth = 20

// perms answers privilege questions from object snapshots.
type perms struct {
	store gamedb.Store
}

func (p perms) object(ctx context.Context, ref gamedb.DBRef) (*gamedb.Object, error) {
	obj, err := p.store.Object(ctx, ref)
	if gamedb.IsNotFound(err) {
		return nil, nil
	}
	return obj, err
}

// inherits reports whether obj carries its owner's privileges: players
// always do, other objects when they or their owner have INHERIT.
func (p perms) inherits(ctx context.Context, o *gamedb.Object) (bool, error) {
	if o.Type == gamedb.TypePlayer || o.HasFlag("INHERIT") || o.Owner == o.DBRef {
		return true, nil
	}
	owner, err := p.object(ctx, o.Owner)
	if err != nil || owner == nil {
		return false, err
	}
	return owner.HasFlag("INHERIT"), nil
}

// wizard reports an effective wizard: the WIZARD flag itself, or a wizard
// owner when the object inherits.
func (p perms) wizard(ctx context.Context, o *gamedb.Object) (bool, error) {
	if o.IsWizard() {
		return true, nil
	}
	owner, err := p.object(ctx, o.Owner)
	if err != nil || owner == nil || !owner.IsWizard() {
		return false, err
	}
	return p.inherits(ctx, o)
}

// passesAll reports the lock bypass: effective wizards and PASS_LOCKS.
func (p perms) passesAll(ctx context.Context, ref gamedb.DBRef) (bool, error) {
	o, err := p.object(ctx, ref)
	if err != nil || o == nil {
		return false, err
	}
	if o.HasPower("PASS_LOCKS") {
		return true, nil
	}
	return p.wizard(ctx, o)
}

// controls implements the control rule: identity, effective wizards and
// CONTROL_ALL, a shared owner when who inherits or what does not, and
// finally zone control.
func (p perms) controls(ctx context.Context, who, what gamedb.DBRef, zoneLock func(ctx context.Context, zone gamedb.DBRef) (bool, error)) (bool, error) {
	if who == what {
		return true, nil
	}
	w, err := p.object(ctx, who)
	if err != nil || w == nil {
		return false, err
	}
	t, err := p.object(ctx, what)
	if err != nil || t == nil {
		return false, err
	}
	if w.HasPower("CONTROL_ALL") {
		return true, nil
	}
	if ok, err := p.wizard(ctx, w); err != nil || ok {
		return ok, err
	}
	if ok, err := p.wizard(ctx, t); err != nil || ok {
		return false, err
	}
	if t.Owner == who {
		return true, nil
	}
	if w.Owner == t.Owner {
		wi, err := p.inherits(ctx, w)
		if err != nil {
			return false, err
		}
		ti, err := p.inherits(ctx, t)
		if err != nil {
			return false, err
		}
		if wi || !ti {
			return true, nil
		}
	}
	return p.zoneControl(ctx, t, zoneLock)
}

// zoneControl walks the zone chain of a CONTROL_OK non-player: passing the
// control lock of any zone master grants control.
func (p perms) zoneControl(ctx context.Context, t *gamedb.Object, zoneLock func(context.Context, gamedb.DBRef) (bool, error)) (bool, error) {
	if t.Type == gamedb.TypePlayer || !t.HasFlag("CONTROL_OK") {
		return false, nil
	}
	zone := t.Zone
	for depth := 0; depth < maxZoneDepth && zone != gamedb.Nothing; depth++ {
		ok, err := zoneLock(ctx, zone)
		if err != nil || ok {
			return ok, err
		}
		z, err := p.object(ctx, zone)
		if err != nil || z == nil {
			return false, err
		}
		zone = z.Zone
	}
	return false, nil
}
