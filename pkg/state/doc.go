// Package state provides Store, a small live state container that satisfies
// statesync.Container.
//
// A Store holds a tree of named slices. It starts from defaults, accepts a
// single Seed with the hydrated tree, and only then applies updates. Every
// update notifies subscribers synchronously and in order with a copy of the
// new tree, which is what a statesync.Controller listens to.
//
//	store := state.New(statesync.Tree{"counter": map[string]any{"count": 0}})
//	ctl, _ := statesync.New(statesync.WithKeys("counter"))
//	_ = ctl.Start(ctx, store)
//	_ = store.Update(ctx, "counter", increment)
//
// Slices added after start with Register begin from the default they are
// registered with.
package state
