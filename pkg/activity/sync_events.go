package activity

import (
	"strings"
	"time"
)

const (
	VerbLoaded   = "statesync.loaded"
	VerbMigrated = "statesync.migrated"
	VerbSaved    = "statesync.saved"
	VerbFailed   = "statesync.failed"

	// ObjectTypeRecord identifies a storage record; ObjectID is its key.
	ObjectTypeRecord = "statesync.record"
)

// RecordEventInput describes the common fields of record lifecycle events.
type RecordEventInput struct {
	ControllerID string
	Key          string
	Unit         string
	Versions     []any
	Bytes        int
	Err          error
	Metadata     map[string]any
	OccurredAt   time.Time
}

// BuildLoadedEvent describes a record read at startup.
func BuildLoadedEvent(input RecordEventInput) Event {
	return buildRecordEvent(VerbLoaded, input)
}

// BuildMigratedEvent describes migrations applied to a record.
func BuildMigratedEvent(input RecordEventInput) Event {
	return buildRecordEvent(VerbMigrated, input)
}

// BuildSavedEvent describes a completed write.
func BuildSavedEvent(input RecordEventInput) Event {
	return buildRecordEvent(VerbSaved, input)
}

// BuildFailedEvent describes a recovered failure on a record.
func BuildFailedEvent(input RecordEventInput) Event {
	return buildRecordEvent(VerbFailed, input)
}

func buildRecordEvent(verb string, input RecordEventInput) Event {
	metadata := cloneMap(input.Metadata)
	if input.Unit != "" {
		metadata = ensureMetadata(metadata)
		metadata["unit"] = input.Unit
	}
	if len(input.Versions) > 0 {
		metadata = ensureMetadata(metadata)
		metadata["versions"] = append([]any{}, input.Versions...)
	}
	if input.Bytes > 0 {
		metadata = ensureMetadata(metadata)
		metadata["bytes"] = input.Bytes
	}
	if input.Err != nil {
		metadata = ensureMetadata(metadata)
		metadata["error"] = input.Err.Error()
	}

	return Event{
		Verb:       verb,
		ActorID:    strings.TrimSpace(input.ControllerID),
		ObjectType: ObjectTypeRecord,
		ObjectID:   strings.TrimSpace(input.Key),
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
