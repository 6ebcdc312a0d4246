package engine_test

import (
	"bytes"
	"testing"

	"github.com/caskforge/caskdb/internal/engine"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestEngineProperties verifies the engine's core guarantees over generated
// inputs rather than hand-picked cases.
func TestEngineProperties(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30

	properties := gopter.NewProperties(parameters)

	newEngine := func() *engine.Engine {
		e, err := engine.Open(t.TempDir(), nil)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		return e
	}

	properties.Property("put then get round-trips", prop.ForAll(
		func(key string, value string) bool {
			e := newEngine()
			defer e.Close()

			if err := e.Put([]byte(key), []byte(value)); err != nil {
				return false
			}
			got, found, err := e.Get([]byte(key))
			return err == nil && found && bytes.Equal(got, []byte(value))
		},
		gen.Identifier(),
		gen.AnyString(),
	))

	properties.Property("last write wins", prop.ForAll(
		func(key string, v1 string, v2 string) bool {
			e := newEngine()
			defer e.Close()

			if err := e.Put([]byte(key), []byte(v1)); err != nil {
				return false
			}
			if err := e.Put([]byte(key), []byte(v2)); err != nil {
				return false
			}
			got, found, err := e.Get([]byte(key))
			return err == nil && found && bytes.Equal(got, []byte(v2))
		},
		gen.Identifier(),
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.Property("delete makes a key absent", prop.ForAll(
		func(key string, value string) bool {
			e := newEngine()
			defer e.Close()

			if err := e.Put([]byte(key), []byte(value)); err != nil {
				return false
			}
			if err := e.Delete([]byte(key)); err != nil {
				return false
			}
			_, found, err := e.Get([]byte(key))
			return err == nil && !found
		},
		gen.Identifier(),
		gen.AnyString(),
	))

	properties.Property("merge preserves the visible state", prop.ForAll(
		func(pairs map[string]string) bool {
			e := newEngine()
			defer e.Close()

			model := make(map[string]string, len(pairs))
			i := 0
			for k, v := range pairs {
				if err := e.Put([]byte(k), []byte(v)); err != nil {
					return false
				}
				model[k] = v
				// Delete a third of the keys so merge has tombstones to drop.
				if i%3 == 0 {
					if err := e.Delete([]byte(k)); err != nil {
						return false
					}
					delete(model, k)
				}
				i++
			}

			if err := e.Merge(); err != nil {
				return false
			}
			if e.Len() != len(model) {
				return false
			}
			for k, want := range model {
				got, found, err := e.Get([]byte(k))
				if err != nil || !found || !bytes.Equal(got, []byte(want)) {
					return false
				}
			}
			for k := range pairs {
				if _, stillWant := model[k]; stillWant {
					continue
				}
				if _, found, err := e.Get([]byte(k)); err != nil || found {
					return false
				}
			}
			return true
		},
		gen.MapOf(gen.Identifier(), gen.AnyString()),
	))

	properties.Property("state survives reopen", prop.ForAll(
		func(key string, value string) bool {
			dir := t.TempDir()
			e, err := engine.Open(dir, nil)
			if err != nil {
				return false
			}
			if err := e.Put([]byte(key), []byte(value)); err != nil {
				return false
			}
			if err := e.Close(); err != nil {
				return false
			}

			reopened, err := engine.Open(dir, nil)
			if err != nil {
				return false
			}
			defer reopened.Close()
			got, found, err := reopened.Get([]byte(key))
			return err == nil && found && bytes.Equal(got, []byte(value))
		},
		gen.Identifier(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
