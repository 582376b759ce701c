// Package statesync keeps an in-memory state tree in sync with a key/value
// storage engine.
//
// On Start the Controller reads every configured storage key, deserializes and
// migrates each record, merges the results over the container's defaults and
// seeds the container exactly once. Afterwards every change notification from
// the container is serialized and written back, without blocking the container.
//
//	Start:  Engine.Get -> Serializer.Deserialize -> Migrator.Apply -> layering.Merge -> Container.Seed
//	Change: Container notification -> key selection -> Serializer.Serialize -> Engine.Set
//
// Two persistence modes exist. Global mode stores the whole tree under RootKey.
// Scoped mode stores each configured slice (a top-level name or a dotted path)
// under its own key.
//
// Persistence is best-effort: deserialize, migration and storage failures are
// logged and degrade to "no persisted value"; only configuration errors are
// returned, from New.
package statesync
