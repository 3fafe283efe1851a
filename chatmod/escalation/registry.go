package escalation

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// Registry is the process-wide map from incident id to live incident. The
// workflow that owns an incident is the only writer for its key: insert on
// creation, remove on resolution. Nothing is persisted; a process restart
// loses in-flight incidents (and any restriction already applied on the
// platform is not auto-lifted).
type Registry struct {
	entries *xsync.MapOf[string, *Incident]
}

func NewRegistry() *Registry {
	return &Registry{
		entries: xsync.NewMapOf[string, *Incident](),
	}
}

func (r *Registry) Register(id string, inc *Incident) {
	r.entries.Store(id, inc)
}

func (r *Registry) Deregister(id string) {
	r.entries.Delete(id)
}

func (r *Registry) Lookup(id string) (*Incident, bool) {
	return r.entries.Load(id)
}

func (r *Registry) Size() int {
	return r.entries.Size()
}
