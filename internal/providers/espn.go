package providers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"arbees/pkg/types"
)

// espnScoreboard is the slice of ESPN's public scoreboard JSON this
// provider actually reads. ESPN's real payload carries far more, but
// types.EventInfo/EventState only need the fields below.
type espnScoreboard struct {
	Events []espnEvent `json:"events"`
}

type espnEvent struct {
	ID   string    `json:"id"`
	Date time.Time `json:"date"`
	Name string    `json:"name"`
	Status struct {
		Type struct {
			Name string `json:"name"` // STATUS_SCHEDULED, STATUS_IN_PROGRESS, STATUS_FINAL, ...
		} `json:"type"`
		Period  int `json:"period"`
		Clock   int `json:"displayClock"`
	} `json:"status"`
	Competitions []struct {
		Competitors []struct {
			HomeAway string `json:"homeAway"`
			Team     struct {
				DisplayName string `json:"displayName"`
			} `json:"team"`
			Score string `json:"score"`
		} `json:"competitors"`
	} `json:"competitions"`
}

// sportPath maps a types.Sport to ESPN's (sport, league) URL segments, the
// table espn.rs's EspnEventProvider::new match arm builds in Rust.
var sportPath = map[types.Sport][2]string{
	types.SportNBA: {"basketball", "nba"},
	types.SportNFL: {"football", "nfl"},
	types.SportMLB: {"baseball", "mlb"},
	types.SportNHL: {"hockey", "nhl"},
	types.SportCFB: {"football", "college-football"},
}

// EspnProvider is the EventProvider for one sport, backed by ESPN's public
// scoreboard endpoint. Grounded on
// original_source/rust_core/src/providers/espn.rs's EspnEventProvider;
// the HTTP plumbing follows the teacher's internal/exchange.Client
// (resty client with base URL, timeout, and 5xx retry).
type EspnProvider struct {
	sport  types.Sport
	http   *resty.Client
	logger *slog.Logger
}

// NewEspnProvider returns a provider for sport, or an error if sport has
// no known ESPN URL mapping.
func NewEspnProvider(sport types.Sport, logger *slog.Logger) (*EspnProvider, error) {
	if _, ok := sportPath[sport]; !ok {
		return nil, fmt.Errorf("no ESPN mapping for sport %q", sport)
	}
	client := resty.New().
		SetBaseURL("https://site.api.espn.com/apis/site/v2/sports").
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})
	return &EspnProvider{sport: sport, http: client, logger: logger.With("provider", "espn", "sport", sport)}, nil
}

func (p *EspnProvider) scoreboardPath() string {
	path := sportPath[p.sport]
	return fmt.Sprintf("/%s/%s/scoreboard", path[0], path[1])
}

func (p *EspnProvider) fetchScoreboard(ctx context.Context) (espnScoreboard, error) {
	var out espnScoreboard
	resp, err := p.http.R().SetContext(ctx).SetResult(&out).Get(p.scoreboardPath())
	if err != nil {
		return out, fmt.Errorf("espn scoreboard: %w", err)
	}
	if resp.StatusCode() != 200 {
		return out, fmt.Errorf("espn scoreboard: status %d", resp.StatusCode())
	}
	return out, nil
}

func parseEspnStatus(name string) types.EventStatus {
	switch name {
	case "STATUS_IN_PROGRESS", "STATUS_HALFTIME", "STATUS_END_PERIOD":
		return types.EventLive
	case "STATUS_FINAL":
		return types.EventCompleted
	case "STATUS_POSTPONED":
		return types.EventPostponed
	case "STATUS_CANCELED":
		return types.EventCancelled
	default:
		return types.EventScheduled
	}
}

func (p *EspnProvider) toEventInfo(e espnEvent) types.EventInfo {
	var home, away string
	for _, c := range e.Competitions {
		for _, team := range c.Competitors {
			if team.HomeAway == "home" {
				home = team.Team.DisplayName
			} else {
				away = team.Team.DisplayName
			}
		}
	}
	return types.EventInfo{
		EventID:    e.ID,
		MarketType: types.SportMarketType(p.sport),
		EntityA:    home,
		EntityB:    away,
		Status:     parseEspnStatus(e.Status.Type.Name),
		StartTime:  e.Date,
	}
}

// LiveEvents returns the subset of the current scoreboard whose status is
// live, matching get_live_events's filter-then-map.
func (p *EspnProvider) LiveEvents(ctx context.Context) ([]types.EventInfo, error) {
	sb, err := p.fetchScoreboard(ctx)
	if err != nil {
		return nil, err
	}
	var live []types.EventInfo
	for _, e := range sb.Events {
		info := p.toEventInfo(e)
		if info.Status == types.EventLive {
			live = append(live, info)
		}
	}
	return live, nil
}

// ScheduledEvents returns every event on the current scoreboard whose
// status is scheduled. ESPN's public scoreboard endpoint only exposes the
// current day/week; days is accepted for interface symmetry with the
// original trait but does not change which endpoint is queried.
func (p *EspnProvider) ScheduledEvents(ctx context.Context, days int) ([]types.EventInfo, error) {
	sb, err := p.fetchScoreboard(ctx)
	if err != nil {
		return nil, err
	}
	var scheduled []types.EventInfo
	for _, e := range sb.Events {
		info := p.toEventInfo(e)
		if info.Status == types.EventScheduled {
			scheduled = append(scheduled, info)
		}
	}
	return scheduled, nil
}

// EventState fetches the current scoreboard and returns the state for the
// matching event_id, including score/period/clock for the sports
// probability model.
func (p *EspnProvider) EventState(ctx context.Context, eventID string) (types.EventState, error) {
	sb, err := p.fetchScoreboard(ctx)
	if err != nil {
		return types.EventState{}, err
	}
	for _, e := range sb.Events {
		if e.ID != eventID {
			continue
		}
		info := p.toEventInfo(e)
		scoreA, scoreB := 0, 0
		for _, c := range e.Competitions {
			for _, team := range c.Competitors {
				var v int
				fmt.Sscanf(team.Score, "%d", &v)
				if team.HomeAway == "home" {
					scoreA = v
				} else {
					scoreB = v
				}
			}
		}
		return types.EventState{
			EventInfo: info,
			Sport: &types.SportState{
				ScoreA:    scoreA,
				ScoreB:    scoreB,
				Period:    e.Status.Period,
				ClockSecs: e.Status.Clock,
			},
		}, nil
	}
	return types.EventState{}, fmt.Errorf("event %q not found on current scoreboard", eventID)
}

// Name identifies this provider for logs and the registry.
func (p *EspnProvider) Name() string {
	return "espn:" + string(p.sport)
}
