package auditlog

import (
	"context"
	"testing"
	"time"

	"github.com/mybrohigh/Xpert/internal/model"
	"github.com/mybrohigh/Xpert/internal/state"
)

func newService(t *testing.T) *Service {
	t.Helper()
	db, err := state.Bootstrap(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewService(ServiceConfig{
		Repo:          NewRepo(db),
		QueueSize:     128,
		FlushBatch:    8,
		FlushInterval: time.Hour, // flush on Stop, not on timer
	})
}

func TestEmitFlushedOnStop(t *testing.T) {
	s := newService(t)
	s.Start()

	adminID := int64(7)
	s.Emit(model.AdminAction{
		AdminID:        &adminID,
		AdminUsername:  "root",
		Action:         model.ActionHWIDReset,
		TargetType:     "user",
		TargetUsername: "alice",
		Meta:           `{"reason":"support"}`,
		RequestID:      "req-1",
	})
	s.Emit(model.AdminAction{
		AdminUsername: "root",
		Action:        model.ActionTrafficLimitSet,
		TargetType:    "admin",
	})
	s.Stop()

	actions, err := s.Repo().List(context.Background(), ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 2 {
		t.Fatalf("got %d actions, want 2", len(actions))
	}

	// Newest first.
	if actions[0].Action != model.ActionTrafficLimitSet {
		t.Errorf("ordering: %+v", actions)
	}
	reset := actions[1]
	if reset.AdminID == nil || *reset.AdminID != 7 {
		t.Errorf("AdminID = %v", reset.AdminID)
	}
	if reset.TargetUsername != "alice" || reset.RequestID != "req-1" {
		t.Errorf("row = %+v", reset)
	}
	if reset.CreatedAt.IsZero() {
		t.Error("CreatedAt must be stamped on emit")
	}
	if actions[0].AdminID != nil {
		t.Error("nullable admin_id must round-trip as nil")
	}
}

func TestListFilterAndPagination(t *testing.T) {
	s := newService(t)
	s.Start()
	for range 3 {
		s.Emit(model.AdminAction{AdminUsername: "root", Action: model.ActionIPLimitSet, TargetUsername: "bob"})
	}
	s.Emit(model.AdminAction{AdminUsername: "root", Action: model.ActionCryptoEncrypt, TargetUsername: "carol"})
	s.Stop()

	ctx := context.Background()
	got, err := s.Repo().List(ctx, ListFilter{Action: model.ActionIPLimitSet})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("action filter: %d rows, want 3", len(got))
	}

	got, _ = s.Repo().List(ctx, ListFilter{TargetUsername: "carol"})
	if len(got) != 1 || got[0].Action != model.ActionCryptoEncrypt {
		t.Errorf("target filter: %+v", got)
	}

	got, _ = s.Repo().List(ctx, ListFilter{Limit: 2, Offset: 2})
	if len(got) != 2 {
		t.Errorf("pagination: %d rows, want 2", len(got))
	}

	count, err := s.Repo().Count(ctx, ListFilter{Action: model.ActionIPLimitSet})
	if err != nil || count != 3 {
		t.Errorf("Count = %d, %v", count, err)
	}
}

func TestEmitDropsOnOverflow(t *testing.T) {
	db, err := state.Bootstrap(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	// Service not started: the queue fills and Emit must not block.
	s := NewService(ServiceConfig{Repo: NewRepo(db), QueueSize: 4, FlushBatch: 4, FlushInterval: time.Hour})
	done := make(chan struct{})
	go func() {
		for range 100 {
			s.Emit(model.AdminAction{Action: model.ActionCryptoEncrypt})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full queue")
	}
}
