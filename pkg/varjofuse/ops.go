package varjofuse

import (
	"context"
	"time"

	"github.com/function61/varjo/pkg/lowerfs"
	"github.com/function61/varjo/pkg/varjoalias"
	"github.com/robfig/cron/v3"
)

// our side of the alias layer's callbacks
type hostOps struct {
	fsys *shadowFS
}

// nodes are not torn down right away, because reclaiming needs the lower object's lock
// exclusively and we might be called with it held shared
func (h hostOps) Inactive(n *varjoalias.Node) {
	h.fsys.idleMu.Lock()
	defer h.fsys.idleMu.Unlock()

	h.fsys.idle[n] = struct{}{}
}

func (h hostOps) Reclaim(n *varjoalias.Node) {
	h.fsys.attrs.forget(n.Identity())

	if node, ok := n.Data().(*shadowNode); ok && node.parent != nil {
		node.parent.Release()
	}
}

func (f *shadowFS) idleLen() int {
	f.idleMu.Lock()
	defer f.idleMu.Unlock()

	return len(f.idle)
}

func (f *shadowFS) takeIdle() []*varjoalias.Node {
	f.idleMu.Lock()
	defer f.idleMu.Unlock()

	idle := make([]*varjoalias.Node, 0, len(f.idle))
	for n := range f.idle {
		idle = append(idle, n)
	}

	f.idle = map[*varjoalias.Node]struct{}{}

	return idle
}

// reclaims idle nodes until there are none. reclaiming a node can make its parent idle,
// so this goes on in rounds. returns how many were reclaimed.
func (f *shadowFS) reap() int {
	f.reapMu.Lock()
	defer f.reapMu.Unlock()

	reclaimed := 0

	for {
		idle := f.takeIdle()
		if len(idle) == 0 {
			break
		}

		for _, n := range idle {
			vnode, ok := n.Lower().(*lowerfs.Vnode)
			if !ok { // already reclaimed
				continue
			}

			vnode.Lock()
			if f.mount.Reclaim(n) { // false if someone looked it up again in the meantime
				reclaimed++
			}
			vnode.Unlock()
		}
	}

	f.metrics.reaped.Add(float64(reclaimed))

	return reclaimed
}

func (f *shadowFS) reaperTask(schedule cron.Schedule) func(context.Context) error {
	return func(ctx context.Context) error {
		for {
			timer := time.NewTimer(time.Until(schedule.Next(time.Now())))

			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
				if reclaimed := f.reap(); reclaimed > 0 {
					f.logl.Debug.Printf("reaped %d node(s)", reclaimed)
				}
			}
		}
	}
}
