package providers

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"arbees/pkg/types"
)

type fakeProvider struct {
	name   string
	events []types.EventInfo
	err    error
}

func (f *fakeProvider) LiveEvents(ctx context.Context) ([]types.EventInfo, error) {
	return f.events, f.err
}
func (f *fakeProvider) ScheduledEvents(ctx context.Context, days int) ([]types.EventInfo, error) {
	return nil, nil
}
func (f *fakeProvider) EventState(ctx context.Context, eventID string) (types.EventState, error) {
	return types.EventState{}, nil
}
func (f *fakeProvider) Name() string { return f.name }

func TestRegistryRoutesByMarketTypeKey(t *testing.T) {
	r := NewRegistry()
	nba := &fakeProvider{name: "espn:nba", events: []types.EventInfo{{EventID: "1"}}}
	r.Register(types.SportMarketType(types.SportNBA).Key(), nba)

	got, ok := r.Provider(types.SportMarketType(types.SportNBA))
	if !ok || got.Name() != "espn:nba" {
		t.Fatalf("expected espn:nba provider, got %v ok=%v", got, ok)
	}

	if _, ok := r.Provider(types.SportMarketType(types.SportNFL)); ok {
		t.Fatal("expected no provider registered for nfl")
	}
}

func TestRegistryLiveEventsRequiresProvider(t *testing.T) {
	r := NewRegistry()
	_, err := r.LiveEvents(context.Background(), types.SportMarketType(types.SportMLB))
	if err == nil {
		t.Fatal("expected error for unregistered market type")
	}
}

func TestRegistryAllLiveEventsSkipsFailingProviders(t *testing.T) {
	r := NewRegistry()
	r.Register("sport:nba", &fakeProvider{name: "a", events: []types.EventInfo{{EventID: "1"}}})
	r.Register("sport:nfl", &fakeProvider{name: "b", err: context.DeadlineExceeded})

	events, errs := r.AllLiveEvents(context.Background())
	if len(events) != 1 {
		t.Fatalf("expected 1 event from the healthy provider, got %d", len(events))
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 error recorded for the failing provider, got %d", len(errs))
	}
}

func TestParseEspnStatus(t *testing.T) {
	cases := map[string]types.EventStatus{
		"STATUS_IN_PROGRESS": types.EventLive,
		"STATUS_FINAL":       types.EventCompleted,
		"STATUS_POSTPONED":   types.EventPostponed,
		"STATUS_CANCELED":    types.EventCancelled,
		"STATUS_SCHEDULED":   types.EventScheduled,
	}
	for in, want := range cases {
		if got := parseEspnStatus(in); got != want {
			t.Errorf("parseEspnStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewEspnProviderRejectsUnknownSport(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := NewEspnProvider(types.Sport("xfl"), logger); err == nil {
		t.Fatal("expected error for unmapped sport")
	}
}

func TestNewEspnProviderAcceptsKnownSport(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := NewEspnProvider(types.SportNBA, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "espn:nba" {
		t.Fatalf("name = %q, want espn:nba", p.Name())
	}
}
