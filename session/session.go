package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/goliatone/go-object-graph/internal/logging"
	"github.com/goliatone/go-object-graph/internal/rowcodec"
	"github.com/goliatone/go-object-graph/mapping"
	"github.com/goliatone/go-object-graph/oid"
	"github.com/goliatone/go-object-graph/querycache"
	"github.com/goliatone/go-object-graph/rowstore"
	"github.com/goliatone/go-object-graph/snapshot"
)

// message is a cross goroutine input to a session: a snapshot event from a
// peer, or an id rename from a committing parent.
type message struct {
	event    snapshot.Event
	isEvent  bool
	from, to oid.ID
}

type inbox struct {
	mu    sync.Mutex
	items []message
}

func (b *inbox) push(m message) {
	b.mu.Lock()
	b.items = append(b.items, m)
	b.mu.Unlock()
}

func (b *inbox) take() []message {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.items
	b.items = nil
	return items
}

// Session is an identity map of objects plus the changes made to them since
// the last commit or rollback. A child session overlays its parent: objects
// it does not hold are read from the parent, and its commits go to the
// parent instead of the row store.
//
// A Session must not be used from more than one goroutine at a time.
type Session struct {
	domain *Domain
	parent *Session
	logger *slog.Logger

	objects map[oid.ID]*Object
	aliases map[oid.ID]oid.ID

	// dirty keeps objects in the order they first changed. Entries may
	// have become clean since.
	dirty    []*Object
	dirtySet map[*Object]struct{}

	local    *querycache.LocalCacheStore
	listener snapshot.ListenerID
	inbox    inbox

	childMu  sync.Mutex
	children map[*Session]struct{}

	committing bool
	closed     bool
}

func newSession(d *Domain, parent *Session) *Session {
	s := &Session{
		domain:   d,
		parent:   parent,
		logger:   d.logger,
		objects:  make(map[oid.ID]*Object),
		aliases:  make(map[oid.ID]oid.ID),
		dirtySet: make(map[*Object]struct{}),
		local:    querycache.NewLocalCacheStore(),
		children: make(map[*Session]struct{}),
	}
	s.listener = d.snapshots.Subscribe(func(ev snapshot.Event) {
		s.inbox.push(message{event: ev, isEvent: true})
	})
	if parent != nil {
		parent.childMu.Lock()
		parent.children[s] = struct{}{}
		parent.childMu.Unlock()
	}
	return s
}

// NewChild returns a session nested in s.
func (s *Session) NewChild() *Session {
	return newSession(s.domain, s)
}

// Parent returns the parent session, nil for root sessions.
func (s *Session) Parent() *Session { return s.parent }

// Domain returns the root scope.
func (s *Session) Domain() *Domain { return s.domain }

// LocalCache returns the session private query cache.
func (s *Session) LocalCache() *querycache.LocalCacheStore { return s.local }

// Entity resolves an entity by name.
func (s *Session) Entity(name string) (mapping.Entity, error) {
	return s.domain.resolver.Entity(name)
}

// Close releases the session: it stops listening for changes and drops its
// local cache. Uncommitted changes are discarded.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.domain.snapshots.Unsubscribe(s.listener)
	s.local.Clear()
	s.inbox.take()
	if s.parent != nil {
		s.parent.childMu.Lock()
		delete(s.parent.children, s)
		s.parent.childMu.Unlock()
	}
}

// enter prepares s for an operation.
func (s *Session) enter() error {
	if s.closed {
		return newSessionClosed()
	}
	s.drain()
	return nil
}

func (s *Session) drain() {
	for _, m := range s.inbox.take() {
		if m.isEvent {
			s.applyEvent(m.event)
			continue
		}
		s.rename(m.from, m.to)
	}
}

func (s *Session) applyEvent(ev snapshot.Event) {
	o := s.lookupLocal(ev.ID)
	if o == nil {
		return
	}
	switch o.state {
	case Committed, Hollow:
		if ev.Kind == snapshot.Updated && o.base != nil {
			if current, ok := s.domain.snapshots.Get(o.id); ok && current == o.base {
				return
			}
		}
		o.state = Hollow
		o.base = nil
		o.baseRefs = nil
	case Modified:
		o.stale = true
	}
}

// rename moves an object from a temporary id to its permanent id and
// rewrites every reference to it held by s.
func (s *Session) rename(from, to oid.ID) {
	if o := s.objects[from]; o != nil {
		delete(s.objects, from)
		o.id = to
		if o.base != nil {
			o.base = o.base.Rekey(to)
		}
		s.objects[to] = o
	}
	s.aliases[from] = to

	for _, o := range s.objects {
		for name, ref := range o.baseRefs {
			if ref == from {
				o.baseRefs[name] = to
			}
		}
	}
	for _, o := range s.dirty {
		for name, ref := range o.refs {
			if ref == from {
				o.refs[name] = to
			}
		}
	}
}

// propagateRename queues a rename for every descendant of s.
func (s *Session) propagateRename(from, to oid.ID) {
	s.childMu.Lock()
	children := make([]*Session, 0, len(s.children))
	for child := range s.children {
		children = append(children, child)
	}
	s.childMu.Unlock()

	for _, child := range children {
		child.inbox.push(message{from: from, to: to})
		child.propagateRename(from, to)
	}
}

func (s *Session) resolve(id oid.ID) oid.ID {
	if to, ok := s.aliases[id]; ok {
		return to
	}
	return id
}

func (s *Session) lookupLocal(id oid.ID) *Object {
	return s.objects[s.resolve(id)]
}

// fromParents returns the nearest ancestor object registered as id.
func (s *Session) fromParents(id oid.ID) *Object {
	for p := s.parent; p != nil; p = p.parent {
		if o := p.lookupLocal(id); o != nil {
			return o
		}
	}
	return nil
}

func (s *Session) markDirty(o *Object) {
	if _, ok := s.dirtySet[o]; ok {
		return
	}
	s.dirtySet[o] = struct{}{}
	s.dirty = append(s.dirty, o)
}

func (s *Session) unregister(o *Object) {
	if s.objects[o.id] == o {
		delete(s.objects, o.id)
	}
	delete(s.dirtySet, o)
}

// pendingObjects returns the objects with work for the next commit, in the
// order they first changed.
func (s *Session) pendingObjects() []*Object {
	var out []*Object
	for _, o := range s.dirty {
		if o.session == s && s.objects[o.id] == o && o.pending() {
			out = append(out, o)
		}
	}
	return out
}

// resetDirty drops clean and unregistered objects from the change order.
func (s *Session) resetDirty() {
	kept := s.dirty[:0]
	for _, o := range s.dirty {
		if s.objects[o.id] == o && (o.pending() || o.hasDiff()) {
			kept = append(kept, o)
			continue
		}
		delete(s.dirtySet, o)
	}
	for i := len(kept); i < len(s.dirty); i++ {
		s.dirty[i] = nil
	}
	s.dirty = kept
}

// Transient returns an unregistered object of entity owned by s, holding
// values. Register it to make it part of the graph.
func (s *Session) Transient(entity string, values map[string]any) (*Object, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	ent, err := s.domain.resolver.Entity(entity)
	if err != nil {
		return nil, err
	}
	o := newObject(s, ent, oid.ID{}, Transient)
	for k, v := range values {
		if v != nil {
			o.changes[k] = rowcodec.Normalize(v)
		}
	}
	return o, nil
}

// Register adds obj to the identity map under id. state is New for objects
// to insert, Committed for objects whose values match the stored row, or
// Hollow for objects known by id only.
func (s *Session) Register(obj *Object, id oid.ID, state State) error {
	if err := s.enter(); err != nil {
		return err
	}
	if obj == nil || id.IsZero() {
		return newBadInput("register requires an object and an id", nil)
	}
	if obj.session != s {
		return newForeignObject(id)
	}
	if obj.state != Transient {
		return newInvalidState(obj, "register")
	}
	if id.Entity() != obj.entity.Name() {
		return newBadInput("id entity does not match object entity", map[string]any{
			"object": id.String(),
			"entity": obj.entity.Name(),
		})
	}
	if s.lookupLocal(id) != nil {
		return newDuplicateIdentity(id)
	}

	switch state {
	case New:
		if err := s.absorbForeignKeys(obj); err != nil {
			return err
		}
		obj.id = id
		obj.state = New
		s.objects[id] = obj
		s.markDirty(obj)
	case Committed:
		values := rowcodec.Clone(obj.changes)
		for k, v := range id.Values() {
			values[k] = v
		}
		obj.id = id
		obj.base = snapshot.New(id, values)
		obj.clearDiff()
		obj.state = Committed
		if !id.IsTemporary() {
			s.domain.snapshots.Cache(obj.base)
		}
		s.objects[id] = obj
	case Hollow:
		obj.id = id
		obj.clearDiff()
		obj.state = Hollow
		s.objects[id] = obj
	default:
		return newBadInput("objects can only be registered as new, committed or hollow", map[string]any{
			"object": id.String(),
			"state":  state.String(),
		})
	}
	return nil
}

// absorbForeignKeys turns foreign key values of a transient object into
// relationship references.
func (s *Session) absorbForeignKeys(o *Object) error {
	for _, rel := range o.entity.Relationships() {
		if rel.ToMany {
			continue
		}
		v, ok := o.changes[rel.ForeignKey]
		if !ok {
			continue
		}
		delete(o.changes, rel.ForeignKey)
		if v == nil {
			continue
		}
		target, err := s.refFromValue(rel, v)
		if err != nil {
			return err
		}
		o.refs[rel.Name] = target
	}
	return nil
}

// NewObject creates a NEW object of entity with a temporary id.
func (s *Session) NewObject(entity string) (*Object, error) {
	o, err := s.Transient(entity, nil)
	if err != nil {
		return nil, err
	}
	if err := s.Register(o, oid.NewTemporary(entity), New); err != nil {
		return nil, err
	}
	return o, nil
}

// LocalObject returns the object registered as id in s or, failing that, in
// the nearest ancestor. Ancestor objects are read only from s; use
// Materialize to get a copy owned by s. Returns nil when no session holds id.
func (s *Session) LocalObject(id oid.ID) *Object {
	if s.closed {
		return nil
	}
	s.drain()
	if o := s.lookupLocal(id); o != nil {
		return o
	}
	return s.fromParents(id)
}

// Get returns the object for id, loading it when no session in the chain
// holds it. Hollow objects are faulted. Fails with ObjectNotFound when the
// row does not exist.
func (s *Session) Get(ctx context.Context, id oid.ID) (*Object, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	if o := s.lookupLocal(id); o != nil {
		if err := s.fault(ctx, o); err != nil {
			return nil, err
		}
		return o, nil
	}
	return s.materialize(ctx, id)
}

// Materialize returns an object owned by s for id. In a child session this
// copies the parent's current state of the object; the parent object is not
// touched.
func (s *Session) Materialize(ctx context.Context, id oid.ID) (*Object, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	if o := s.lookupLocal(id); o != nil {
		return o, nil
	}
	return s.materialize(ctx, id)
}

func (s *Session) materialize(ctx context.Context, id oid.ID) (*Object, error) {
	l, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.snap == nil {
		return nil, newObjectNotFound(id)
	}
	ent, err := s.domain.resolver.Entity(id.Entity())
	if err != nil {
		return nil, err
	}
	o := newObject(s, ent, l.snap.ID(), Committed)
	o.base = l.snap
	o.baseRefs = l.refs
	s.objects[o.id] = o
	if o.id != id {
		s.aliases[id] = o.id
	}
	return o, nil
}

type loaded struct {
	snap *snapshot.Snapshot
	refs map[string]oid.ID
}

// load returns the committed state of id as seen from s: the current state
// in the nearest ancestor holding it, or the stored row.
func (s *Session) load(ctx context.Context, id oid.ID) (loaded, error) {
	for p := s.parent; p != nil; p = p.parent {
		po := p.lookupLocal(id)
		if po == nil {
			continue
		}
		if po.state == Deleted {
			return loaded{}, nil
		}
		if err := p.fault(ctx, po); err != nil {
			if IsObjectNotFound(err) {
				return loaded{}, nil
			}
			return loaded{}, err
		}
		return loaded{snap: snapshot.New(po.id, po.Values()), refs: pendingRefs(po)}, nil
	}

	if id.IsTemporary() {
		return loaded{}, nil
	}
	snap, err := s.domain.snapshots.Load(ctx, id, func(ctx context.Context) (map[string]any, error) {
		return s.domain.fetchRow(ctx, id)
	})
	if err != nil {
		logging.Error(ctx, s.logger, "load snapshot", err, slog.String("object", id.String()))
		return loaded{}, err
	}
	return loaded{snap: snap}, nil
}

// pendingRefs returns the relationship targets of o that have no key yet.
func pendingRefs(o *Object) map[string]oid.ID {
	var out map[string]oid.ID
	add := func(name string, target oid.ID) {
		if !target.IsTemporary() {
			return
		}
		if out == nil {
			out = make(map[string]oid.ID)
		}
		out[name] = target
	}
	for name, target := range o.baseRefs {
		if _, overridden := o.refs[name]; !overridden {
			add(name, target)
		}
	}
	for name, target := range o.refs {
		add(name, target)
	}
	return out
}

// Fault loads the row of a Hollow object, or reloads the base of a stale
// Modified object. It is the only place reads block on the row store.
// A missing row fails with ObjectNotFound and leaves the object Hollow.
func (s *Session) Fault(ctx context.Context, obj *Object) error {
	if err := s.enter(); err != nil {
		return err
	}
	owner, err := s.reader(obj)
	if err != nil {
		return err
	}
	return owner.fault(ctx, obj)
}

func (s *Session) fault(ctx context.Context, o *Object) error {
	if o.state != Hollow && !o.stale {
		return nil
	}
	l, err := s.load(ctx, o.id)
	if err != nil {
		return err
	}
	if l.snap == nil {
		return newObjectNotFound(o.id)
	}
	o.base = l.snap
	o.baseRefs = l.refs
	if o.state == Hollow {
		o.state = Committed
	}
	if o.stale {
		o.stale = false
		s.prune(o)
	}
	return nil
}

// prune drops changes that match a reloaded base.
func (s *Session) prune(o *Object) {
	for col, v := range o.changes {
		if rowcodec.Equal(o.baseValue(col), v) {
			delete(o.changes, col)
		}
	}
	for name, target := range o.refs {
		if rel, ok := o.entity.Relationship(name); ok && target == s.baseRef(o, rel) {
			delete(o.refs, name)
		}
	}
	o.reconcile()
}

// reader returns the session allowed to read obj from s: s itself or the
// ancestor owning obj.
func (s *Session) reader(obj *Object) (*Session, error) {
	if obj == nil {
		return nil, newBadInput("object is nil", nil)
	}
	for cur := s; cur != nil; cur = cur.parent {
		if obj.session == cur {
			return cur, nil
		}
	}
	return nil, newForeignObject(obj.id)
}

// writable checks that s may change obj.
func (s *Session) writable(obj *Object, action string) error {
	if obj == nil {
		return newBadInput("object is nil", nil)
	}
	if obj.session != s {
		return newForeignObject(obj.id)
	}
	switch obj.state {
	case Deleted:
		return newInvalidState(obj, action)
	case Transient:
		if s.objects[obj.id] != obj && !obj.id.IsZero() {
			return newInvalidState(obj, action)
		}
	}
	return nil
}

// Read returns the current value of column, faulting obj first.
func (s *Session) Read(ctx context.Context, obj *Object, column string) (any, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	owner, err := s.reader(obj)
	if err != nil {
		return nil, err
	}
	if err := owner.fault(ctx, obj); err != nil {
		return nil, err
	}
	v, _ := obj.Get(column)
	return v, nil
}

// Values returns the current row of obj, faulting it first.
func (s *Session) Values(ctx context.Context, obj *Object) (map[string]any, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	owner, err := s.reader(obj)
	if err != nil {
		return nil, err
	}
	if err := owner.fault(ctx, obj); err != nil {
		return nil, err
	}
	return obj.Values(), nil
}

// Set changes one column of obj. Setting a column back to its committed
// value removes the change. Foreign key columns of to-one relationships are
// routed to the relationship.
func (s *Session) Set(ctx context.Context, obj *Object, column string, value any) error {
	if err := s.enter(); err != nil {
		return err
	}
	if err := s.writable(obj, "set "+column+" on"); err != nil {
		return err
	}
	if obj.state == Transient {
		if value == nil {
			delete(obj.changes, column)
		} else {
			obj.changes[column] = rowcodec.Normalize(value)
		}
		return nil
	}
	if err := s.fault(ctx, obj); err != nil {
		return err
	}

	if rel, ok := obj.toOneByColumn(column); ok {
		var target oid.ID
		if value != nil {
			t, err := s.refFromValue(rel, value)
			if err != nil {
				return err
			}
			target = t
		}
		s.setRef(obj, rel, target)
		return nil
	}

	if obj.state != New {
		for _, k := range obj.entity.KeyColumns() {
			if k == column {
				return newInvalidState(obj, "change key column "+column+" of")
			}
		}
	}
	s.setValue(obj, column, value)
	return nil
}

func (s *Session) setValue(o *Object, column string, value any) {
	value = rowcodec.Normalize(value)
	if rowcodec.Equal(o.baseValue(column), value) {
		delete(o.changes, column)
	} else {
		o.changes[column] = value
	}
	o.reconcile()
	if o.pending() {
		s.markDirty(o)
	}
}

func (s *Session) setRef(o *Object, rel mapping.Relationship, target oid.ID) {
	if target == s.baseRef(o, rel) {
		delete(o.refs, rel.Name)
	} else {
		o.refs[rel.Name] = target
	}
	o.reconcile()
	if o.pending() {
		s.markDirty(o)
	}
}

// SetRelated points the to-one relationship rel of obj at target. A nil
// target clears it.
func (s *Session) SetRelated(ctx context.Context, obj *Object, rel string, target *Object) error {
	if err := s.enter(); err != nil {
		return err
	}
	if err := s.writable(obj, "set "+rel+" on"); err != nil {
		return err
	}
	r, err := s.toOne(obj, rel)
	if err != nil {
		return err
	}
	var id oid.ID
	if target != nil {
		if target.session != s {
			return newForeignObject(target.id)
		}
		if target.entity.Name() != r.Target {
			return newBadInput("relationship "+rel+" expects "+r.Target, map[string]any{
				"object": obj.id.String(),
				"target": target.id.String(),
			})
		}
		if target.state == Deleted || target.state == Transient {
			return newInvalidState(target, "relate")
		}
		id = target.id
	}
	if err := s.fault(ctx, obj); err != nil {
		return err
	}
	s.setRef(obj, r, id)
	return nil
}

// AddRelated adds target to the to-many relationship rel of obj by setting
// the reverse to-one of target.
func (s *Session) AddRelated(ctx context.Context, obj *Object, rel string, target *Object) error {
	r, err := s.toMany(obj, rel)
	if err != nil {
		return err
	}
	return s.SetRelated(ctx, target, r.Reverse, obj)
}

// RemoveRelated removes target from the to-many relationship rel of obj.
func (s *Session) RemoveRelated(ctx context.Context, obj *Object, rel string, target *Object) error {
	r, err := s.toMany(obj, rel)
	if err != nil {
		return err
	}
	return s.SetRelated(ctx, target, r.Reverse, nil)
}

func (s *Session) toOne(obj *Object, name string) (mapping.Relationship, error) {
	r, ok := obj.entity.Relationship(name)
	if !ok || r.ToMany {
		return mapping.Relationship{}, newBadInput(obj.entity.Name()+" has no to-one relationship "+name, nil)
	}
	return r, nil
}

func (s *Session) toMany(obj *Object, name string) (mapping.Relationship, error) {
	if obj == nil {
		return mapping.Relationship{}, newBadInput("object is nil", nil)
	}
	r, ok := obj.entity.Relationship(name)
	if !ok || !r.ToMany {
		return mapping.Relationship{}, newBadInput(obj.entity.Name()+" has no to-many relationship "+name, nil)
	}
	return r, nil
}

// Related returns the target of the to-one relationship rel. A target that
// is not loaded yet is returned Hollow.
func (s *Session) Related(ctx context.Context, obj *Object, rel string) (*Object, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, newBadInput("object is nil", nil)
	}
	if obj.session != s {
		return nil, newForeignObject(obj.id)
	}
	r, err := s.toOne(obj, rel)
	if err != nil {
		return nil, err
	}
	if err := s.fault(ctx, obj); err != nil {
		return nil, err
	}
	id := s.currentRef(obj, r)
	if id.IsZero() {
		return nil, nil
	}
	return s.objectFor(ctx, id)
}

// objectFor returns the object owned by s for id without loading its row
// unless an ancestor holds it.
func (s *Session) objectFor(ctx context.Context, id oid.ID) (*Object, error) {
	if o := s.lookupLocal(id); o != nil {
		return o, nil
	}
	if s.fromParents(id) != nil || id.IsTemporary() {
		return s.materialize(ctx, id)
	}
	ent, err := s.domain.resolver.Entity(id.Entity())
	if err != nil {
		return nil, err
	}
	o := newObject(s, ent, id, Hollow)
	s.objects[id] = o
	return o, nil
}

// RelatedMany returns the targets of the to-many relationship rel: stored
// rows pointing at obj plus uncommitted objects now pointing at it, minus
// objects that were moved away or deleted.
func (s *Session) RelatedMany(ctx context.Context, obj *Object, rel string) ([]*Object, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, newBadInput("object is nil", nil)
	}
	if obj.session != s {
		return nil, newForeignObject(obj.id)
	}
	ids, err := s.relatedMany(ctx, obj, rel)
	if err != nil {
		return nil, err
	}
	out := make([]*Object, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.lookupLocal(id))
	}
	return out, nil
}

func (s *Session) relatedMany(ctx context.Context, obj *Object, rel string) ([]oid.ID, error) {
	r, err := s.toMany(obj, rel)
	if err != nil {
		return nil, err
	}
	target, err := s.domain.resolver.Entity(r.Target)
	if err != nil {
		return nil, err
	}
	reverse, ok := target.Relationship(r.Reverse)
	if !ok {
		return nil, newBadInput(r.Target+" has no relationship "+r.Reverse, nil)
	}
	if err := s.fault(ctx, obj); err != nil {
		return nil, err
	}

	var out []oid.ID
	seen := make(map[*Object]bool)
	add := func(o *Object) {
		if o == nil || seen[o] || o.state == Deleted || o.state == Transient {
			return
		}
		if s.currentRef(o, reverse) != obj.id {
			return
		}
		seen[o] = true
		out = append(out, o.id)
	}

	if kv, ok := keyValue(obj.id); ok {
		q := rowstore.Query{
			Entity: target.Name(),
			Table:  target.Table(),
			Filter: []rowstore.Condition{rowstore.Where(r.ForeignKey, kv)},
		}
		rows, err := s.domain.store.Fetch(ctx, q)
		if err != nil {
			return nil, err
		}
		objs, err := s.materializeRows(ctx, target, rows)
		if err != nil {
			return nil, err
		}
		for _, o := range objs {
			add(o)
		}
	}

	for cur := s; cur != nil; cur = cur.parent {
		for _, o := range cur.dirty {
			if o.entity.Name() != target.Name() || cur.objects[o.id] != o {
				continue
			}
			if cur.currentRef(o, reverse) != cur.resolve(obj.id) {
				continue
			}
			local := o
			if cur != s {
				local, err = s.objectFor(ctx, o.id)
				if err != nil {
					return nil, err
				}
			}
			add(local)
		}
	}
	return out, nil
}

// baseRef returns the committed target of a to-one relationship.
func (s *Session) baseRef(o *Object, rel mapping.Relationship) oid.ID {
	if target, ok := o.baseRefs[rel.Name]; ok {
		return target
	}
	v := o.baseValue(rel.ForeignKey)
	if v == nil {
		return oid.ID{}
	}
	target, err := s.refFromValue(rel, v)
	if err != nil {
		return oid.ID{}
	}
	return target
}

// currentRef returns the target of a to-one relationship including
// uncommitted changes.
func (s *Session) currentRef(o *Object, rel mapping.Relationship) oid.ID {
	if target, ok := o.refs[rel.Name]; ok {
		return target
	}
	return s.baseRef(o, rel)
}

func (s *Session) refFromValue(rel mapping.Relationship, v any) (oid.ID, error) {
	target, err := s.domain.resolver.Entity(rel.Target)
	if err != nil {
		return oid.ID{}, err
	}
	keys := target.KeyColumns()
	if len(keys) != 1 {
		return oid.ID{}, newBadInput("relationship "+rel.Name+" targets a composite key", map[string]any{
			"relationship": rel.Name,
			"target":       rel.Target,
		})
	}
	return oid.New(rel.Target, map[string]any{keys[0]: v})
}
