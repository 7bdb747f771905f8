//go:build debug

package pool

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"
)

// debugState remembers where each stored item was given so a second Give of
// the same pointer can be reported with both stacks.
type debugState struct {
	name   string
	mu     sync.Mutex
	stacks map[uintptr]string
}

func newDebugState(name string) *debugState {
	return &debugState{
		name:   name,
		stacks: make(map[uintptr]string),
	}
}

func (d *debugState) recordStore(obj any) {
	if d == nil {
		return
	}
	key := pointerKey(obj)
	if key == 0 {
		return
	}
	stack := string(debug.Stack())
	d.mu.Lock()
	prev, dup := d.stacks[key]
	if !dup {
		d.stacks[key] = stack
	}
	d.mu.Unlock()
	if dup {
		panic(fmt.Sprintf("pool %s: double Give() detected for %T\nfirst give:\n%s\nsecond give:\n%s", d.name, obj, prev, stack))
	}
}

func (d *debugState) recordRelease(obj any) {
	if d == nil {
		return
	}
	key := pointerKey(obj)
	if key == 0 {
		return
	}
	d.mu.Lock()
	delete(d.stacks, key)
	d.mu.Unlock()
}

func pointerKey(obj any) uintptr {
	if obj == nil {
		return 0
	}
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return 0
	}
	return v.Pointer()
}
