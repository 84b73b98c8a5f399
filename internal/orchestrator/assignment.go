package orchestrator

import (
	"sort"
	"time"

	"arbees/pkg/types"
)

// ChooseShard implements spec §4.13's shard-assignment rule: the healthy
// shard with the greatest available_capacity = max_games - game_count,
// ties broken by lowest shard_id. Returns ("", false) if no shard has
// spare capacity.
func ChooseShard(registry *ServiceRegistry, now time.Time) (string, bool) {
	shards := registry.ServicesOfType(types.ServiceShard, now)

	type candidate struct {
		id        string
		available int
	}
	var candidates []candidate
	for _, s := range shards {
		if s.Status != types.HealthHealthy {
			continue
		}
		available := s.MaxGames - s.GameCount
		if available > 0 {
			candidates = append(candidates, candidate{id: s.ServiceID, available: available})
		}
	}
	if len(candidates) == 0 {
		return "", false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].available != candidates[j].available {
			return candidates[i].available > candidates[j].available
		}
		return candidates[i].id < candidates[j].id
	})
	return candidates[0].id, true
}
