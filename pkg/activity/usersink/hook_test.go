package usersink_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-statesync/pkg/activity"
	"github.com/goliatone/go-statesync/pkg/activity/usersink"
	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"
)

type recordingSink struct {
	records []usertypes.ActivityRecord
	err     error
}

func (s *recordingSink) Log(_ context.Context, record usertypes.ActivityRecord) error {
	s.records = append(s.records, record)
	return s.err
}

func TestHookNotifyMapsEvent(t *testing.T) {
	sink := &recordingSink{}
	userID := uuid.New()
	tenantID := uuid.New()
	hook := usersink.Hook{Sink: sink, UserID: userID, TenantID: tenantID}

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	controllerID := uuid.New()

	event := activity.BuildMigratedEvent(activity.RecordEventInput{
		ControllerID: controllerID.String(),
		Key:          "counter",
		Unit:         "counter",
		Versions:     []any{1},
		OccurredAt:   now,
	})
	event.Channel = activity.DefaultChannel

	if err := hook.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if len(sink.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(sink.records))
	}
	record := sink.records[0]
	if record.ActorID != controllerID {
		t.Fatalf("expected actor %s got %s", controllerID, record.ActorID)
	}
	if record.UserID != userID || record.TenantID != tenantID {
		t.Fatalf("expected scope %s/%s got %s/%s", userID, tenantID, record.UserID, record.TenantID)
	}
	if record.Verb != activity.VerbMigrated || record.ObjectType != activity.ObjectTypeRecord || record.ObjectID != "counter" {
		t.Fatalf("unexpected record payload: %+v", record)
	}
	if record.Channel != activity.DefaultChannel {
		t.Fatalf("expected channel statesync got %q", record.Channel)
	}
	if !record.OccurredAt.Equal(now) {
		t.Fatalf("expected occurred_at %v got %v", now, record.OccurredAt)
	}
	if record.Data["unit"] != "counter" {
		t.Fatalf("expected metadata passthrough got %v", record.Data)
	}
}

func TestHookNotifyKeepsNonUUIDActor(t *testing.T) {
	sink := &recordingSink{}
	hook := usersink.Hook{Sink: sink}

	err := hook.Notify(context.Background(), activity.Event{
		Verb:       activity.VerbSaved,
		ActorID:    "counter-app",
		ObjectType: activity.ObjectTypeRecord,
		ObjectID:   "@@STATE",
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	record := sink.records[0]
	if record.ActorID != uuid.Nil {
		t.Fatalf("expected nil actor, got %s", record.ActorID)
	}
	if record.Data["actor"] != "counter-app" {
		t.Fatalf("expected actor kept in data, got %v", record.Data)
	}
	if record.OccurredAt.IsZero() {
		t.Fatalf("expected occurred_at to be defaulted")
	}
}

func TestHookNotifySkipsMissingVerb(t *testing.T) {
	sink := &recordingSink{}
	hook := usersink.Hook{Sink: sink}

	_ = hook.Notify(context.Background(), activity.Event{})

	if len(sink.records) != 0 {
		t.Fatalf("expected no records for empty event, got %d", len(sink.records))
	}
}
