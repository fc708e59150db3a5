// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package control

import (
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func intVar(name string, v *atomic.Int64) Var {
	return Var{
		Name: name,
		Get:  func() string { return strconv.FormatInt(v.Load(), 10) },
		Set: func(s string) error {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return err
			}
			v.Store(n)
			return nil
		},
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	var a, b atomic.Int64
	require.NoError(t, r.Register("vda", []Var{intVar("read_delay", &a), intVar("write_delay", &b)}))

	err := r.Register("vda", []Var{intVar("read_delay", &a)})
	require.True(t, errors.Is(err, ErrScopeExists))

	require.NoError(t, r.Register("vdb", []Var{intVar("read_delay", &a)}))
	require.Equal(t, []string{"vda", "vdb"}, r.Scopes())

	names, err := r.Vars("vda")
	require.NoError(t, err)
	require.Equal(t, []string{"read_delay", "write_delay"}, names)

	_, err = r.Vars("nope")
	require.True(t, errors.Is(err, ErrScopeNotFound))

	require.NoError(t, r.Set("vda", "read_delay", "150"))
	got, err := r.Get("vda", "read_delay")
	require.NoError(t, err)
	require.Equal(t, "150", got)
	require.Equal(t, int64(150), a.Load())

	err = r.Set("vda", "nope", "1")
	require.True(t, errors.Is(err, ErrVarNotFound))
	err = r.Set("nope", "read_delay", "1")
	require.True(t, errors.Is(err, ErrScopeNotFound))

	// Setter errors surface unchanged.
	require.Error(t, r.Set("vda", "read_delay", "not-a-number"))

	r.Deregister("vda")
	r.Deregister("vda") // idempotent
	_, err = r.Get("vda", "read_delay")
	require.True(t, errors.Is(err, ErrScopeNotFound))
	require.Equal(t, []string{"vdb"}, r.Scopes())
}

func TestRegistryBadVars(t *testing.T) {
	r := NewRegistry()
	var v atomic.Int64
	require.Error(t, r.Register("s", []Var{{Name: ""}}))
	require.Error(t, r.Register("s", []Var{intVar("x", &v), intVar("x", &v)}))
	// Failed registrations leave no trace.
	require.Empty(t, r.Scopes())
}

// Concurrent Set against Deregister must not deadlock even when the setter
// grabs an unrelated lock, since callbacks run outside the registry lock.
func TestRegistryConcurrency(t *testing.T) {
	r := NewRegistry()
	var mu sync.Mutex
	var val int64
	v := Var{
		Name: "knob",
		Get: func() string {
			mu.Lock()
			defer mu.Unlock()
			return strconv.FormatInt(val, 10)
		},
		Set: func(s string) error {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			val = n
			return nil
		},
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				scope := "s" + strconv.Itoa(i)
				if err := r.Register(scope, []Var{v}); err != nil {
					continue
				}
				_ = r.Set(scope, "knob", strconv.Itoa(j))
				_, _ = r.Get(scope, "knob")
				r.Deregister(scope)
			}
		}(i)
	}
	wg.Wait()
	require.Empty(t, r.Scopes())
}
