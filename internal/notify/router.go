package notify

import "quizduel/internal/store"

func matchTargets(targets []Target, n store.MatchNotification) []Target {
	out := make([]Target, 0, len(targets))
	for _, target := range targets {
		if !target.Enabled {
			continue
		}
		switch target.ScopeType {
		case ScopeAll:
		case ScopeUser:
			if target.ScopeValue == "" || target.ScopeValue != n.UserID {
				continue
			}
		default:
			continue
		}
		out = append(out, target)
	}
	return out
}
