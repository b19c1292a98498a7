package kernel

import (
	"maps"
	"slices"
	"sync"
)

const handleBase = 0xF8000000

type Object interface {
	Handle() uint32
}

type ObjectTable struct {
	mu      sync.Mutex
	next    uint32
	objects map[uint32]Object
}

func NewObjectTable() *ObjectTable {
	return &ObjectTable{next: handleBase, objects: make(map[uint32]Object)}
}

func (t *ObjectTable) Allocate() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	handle := t.next
	t.next += 4
	return handle
}

func (t *ObjectTable) Add(obj Object) {
	t.mu.Lock()
	t.objects[obj.Handle()] = obj
	t.next = max(t.next, obj.Handle()+4)
	t.mu.Unlock()
}

func (t *ObjectTable) Lookup(handle uint32) (Object, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	obj, ok := t.objects[handle]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return obj, nil
}

func (t *ObjectTable) Release(handle uint32) {
	t.mu.Lock()
	delete(t.objects, handle)
	t.mu.Unlock()
}

func (t *ObjectTable) Threads() []*XThread {
	return collect[*XThread](t)
}

func (t *ObjectTable) UserModules() []*UserModule {
	return collect[*UserModule](t)
}

func collect[T Object](t *ObjectTable) []T {
	t.mu.Lock()
	defer t.mu.Unlock()
	var list []T
	for _, handle := range slices.Sorted(maps.Keys(t.objects)) {
		if obj, ok := t.objects[handle].(T); ok {
			list = append(list, obj)
		}
	}
	return list
}
