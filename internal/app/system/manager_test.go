package system

import (
	"context"
	"errors"
	"testing"
)

type fakeService struct {
	name     string
	startErr error
	stopErr  error
	events   *[]string
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	*f.events = append(*f.events, "start:"+f.name)
	return nil
}

func (f *fakeService) Stop(context.Context) error {
	*f.events = append(*f.events, "stop:"+f.name)
	return f.stopErr
}

func TestManager_StartStopOrder(t *testing.T) {
	var events []string
	m := NewManager()
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(&fakeService{name: name, events: &events}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("unexpected events: %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d: got %s want %s", i, events[i], want[i])
		}
	}
}

func TestManager_StartFailureRollsBack(t *testing.T) {
	var events []string
	boom := errors.New("boom")
	m := NewManager()
	if err := m.Register(&fakeService{name: "a", events: &events}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(&fakeService{name: "b", startErr: boom, events: &events}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(&fakeService{name: "c", events: &events}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := m.Start(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected start failure, got %v", err)
	}

	want := []string{"start:a", "stop:a"}
	if len(events) != len(want) || events[0] != want[0] || events[1] != want[1] {
		t.Fatalf("unexpected rollback events: %v", events)
	}
}

func TestManager_RegisterRules(t *testing.T) {
	var events []string
	m := NewManager()
	if err := m.Register(&fakeService{name: "a", events: &events}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(&fakeService{name: "a", events: &events}); err == nil {
		t.Fatal("duplicate name should be rejected")
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Register(&fakeService{name: "b", events: &events}); err == nil {
		t.Fatal("registration after start should be rejected")
	}
}
