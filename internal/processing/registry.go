// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package processing

import (
	"fmt"
	"sort"
	"sync"
)

// Func is the injected processing capability: it receives the request
// array plus the request's parameter mapping and returns the result
// array or an error. Implementations must not retain the input array
// past their return.
type Func func(a *Array, params map[string]interface{}) (*Array, error)

// Registry maps op names to processing functions.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]Func
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]Func)}
}

// Register adds a named op. Duplicate names are rejected.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" {
		return fmt.Errorf("op name is required")
	}
	if fn == nil {
		return fmt.Errorf("op %q: function is required", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ops[name]; exists {
		return fmt.Errorf("op %q is already registered", name)
	}
	r.ops[name] = fn
	return nil
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.ops[name]
	return fn, ok
}

// Names returns the registered op names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns a registry with the built-in image ops.
func Default() *Registry {
	r := NewRegistry()
	r.Register("identity", Identity)
	r.Register("invert", Invert)
	r.Register("threshold", Threshold)
	r.Register("flip_h", FlipHorizontal)
	r.Register("flip_v", FlipVertical)
	return r
}
