// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package control exposes runtime-adjustable knobs as named string
// variables, grouped by scope.
//
// Components register a scope (one per injector, named after its read
// device) holding the variables they want adjustable at runtime. Operators
// and tools address a knob as (scope, name) and read or write it as text,
// the way a sysfs attribute would be.
package control

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

// Var is a single control knob: a named getter/setter pair operating on
// strings. Get and Set must be safe for concurrent use; they are invoked
// without any registry lock held.
type Var struct {
	Name string
	Get  func() string
	Set  func(value string) error
}

// Sentinel errors, testable with errors.Is.
var (
	ErrScopeExists   = errors.New("control: scope already registered")
	ErrScopeNotFound = errors.New("control: scope not found")
	ErrVarNotFound   = errors.New("control: variable not found")
)

// Registry maintains a map of registered scopes and their variables.
//
// A Registry is safe for concurrent use. Default is the process-wide
// instance that injectors register with unless configured otherwise.
type Registry struct {
	mu     sync.Mutex
	scopes map[string]map[string]Var
}

// Default is the process-wide registry.
var Default = NewRegistry()

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{scopes: make(map[string]map[string]Var)}
}

// Register registers a scope with its variables. The scope must not already
// be registered; a duplicate fails with ErrScopeExists so the caller can
// abort whatever construction the scope belongs to.
func (r *Registry) Register(scope string, vars []Var) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.scopes[scope]; ok {
		return errors.Wrapf(ErrScopeExists, "%q", scope)
	}
	m := make(map[string]Var, len(vars))
	for _, v := range vars {
		if v.Name == "" {
			return errors.Errorf("control: empty variable name in scope %q", scope)
		}
		if _, ok := m[v.Name]; ok {
			return errors.Errorf("control: duplicate variable %q in scope %q", v.Name, scope)
		}
		m[v.Name] = v
	}
	r.scopes[scope] = m
	return nil
}

// Deregister removes a scope and all its variables. Deregistering a scope
// that is not registered is a no-op.
func (r *Registry) Deregister(scope string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.scopes, scope)
}

// Scopes returns the registered scope names, sorted.
func (r *Registry) Scopes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := make([]string, 0, len(r.scopes))
	for scope := range r.scopes {
		s = append(s, scope)
	}
	sort.Strings(s)
	return s
}

// Vars returns the variable names registered under a scope, sorted.
func (r *Registry) Vars(scope string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.scopes[scope]
	if !ok {
		return nil, errors.Wrapf(ErrScopeNotFound, "%q", scope)
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Get reads the current value of a variable.
func (r *Registry) Get(scope, name string) (string, error) {
	v, err := r.lookup(scope, name)
	if err != nil {
		return "", err
	}
	return v.Get(), nil
}

// Set writes a new value to a variable. The error, if any, comes from the
// variable's own setter; variables are free to be lenient and swallow
// unparseable input.
func (r *Registry) Set(scope, name, value string) error {
	v, err := r.lookup(scope, name)
	if err != nil {
		return err
	}
	return v.Set(value)
}

// lookup copies the Var out under the lock so the callback runs without it.
// A Set callback may itself take locks in the component that registered it.
func (r *Registry) lookup(scope, name string) (Var, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.scopes[scope]
	if !ok {
		return Var{}, errors.Wrapf(ErrScopeNotFound, "%q", scope)
	}
	v, ok := m[name]
	if !ok {
		return Var{}, errors.Wrapf(ErrVarNotFound, "%q/%q", scope, name)
	}
	return v, nil
}
