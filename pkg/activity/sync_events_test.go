package activity

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBuildRecordEvents(t *testing.T) {
	tests := []struct {
		name  string
		build func(RecordEventInput) Event
		input RecordEventInput
		want  Event
	}{
		{
			name:  "loaded",
			build: BuildLoadedEvent,
			input: RecordEventInput{ControllerID: " ctl ", Key: "@@STATE", Bytes: 24},
			want: Event{
				Verb:       VerbLoaded,
				ActorID:    "ctl",
				ObjectType: ObjectTypeRecord,
				ObjectID:   "@@STATE",
				Metadata:   map[string]any{"bytes": 24},
			},
		},
		{
			name:  "migrated",
			build: BuildMigratedEvent,
			input: RecordEventInput{Key: "counter", Unit: "counter", Versions: []any{1, 2}},
			want: Event{
				Verb:       VerbMigrated,
				ObjectType: ObjectTypeRecord,
				ObjectID:   "counter",
				Metadata:   map[string]any{"unit": "counter", "versions": []any{1, 2}},
			},
		},
		{
			name:  "saved without metadata",
			build: BuildSavedEvent,
			input: RecordEventInput{Key: "counter"},
			want: Event{
				Verb:       VerbSaved,
				ObjectType: ObjectTypeRecord,
				ObjectID:   "counter",
			},
		},
		{
			name:  "failed",
			build: BuildFailedEvent,
			input: RecordEventInput{Key: "counter", Err: errors.New("disk full"), Metadata: map[string]any{"op": "set"}},
			want: Event{
				Verb:       VerbFailed,
				ObjectType: ObjectTypeRecord,
				ObjectID:   "counter",
				Metadata:   map[string]any{"op": "set", "error": "disk full"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.build(tt.input)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("event mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildRecordEventDoesNotAliasInput(t *testing.T) {
	meta := map[string]any{"op": "set"}
	BuildFailedEvent(RecordEventInput{Key: "counter", Err: errors.New("x"), Metadata: meta})
	if _, ok := meta["error"]; ok {
		t.Fatalf("input metadata mutated: %v", meta)
	}
}
