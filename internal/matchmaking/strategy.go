package matchmaking

import (
	"time"
)

// QueueConfig tunes matching for one queue key.
type QueueConfig struct {
	// MinWait delays solo matching so late joiners can still be grouped.
	MinWait time.Duration
	// RelaxAfter is how long a fillGroup ticket waits before the minimum
	// group size relaxes to 1 and it plays undersized rather than forever.
	RelaxAfter time.Duration
	// MinGroupSize and MaxGroupSize bound the member total of a formed
	// group.
	MinGroupSize int
	MaxGroupSize int
}

// Strategy forms matchable groups out of a queue's tickets. Tickets arrive
// oldest first; each returned group is matched atomically.
type Strategy interface {
	FindMatchableGroups(now time.Time, tickets []Ticket, cfg QueueConfig) [][]Ticket
}

// DefaultStrategy matches every ticket on its own once it has waited out
// MinWait. Group size is whatever the ticket brought.
type DefaultStrategy struct{}

func (DefaultStrategy) FindMatchableGroups(now time.Time, tickets []Ticket, cfg QueueConfig) [][]Ticket {
	var groups [][]Ticket
	for _, t := range tickets {
		if t.Wait(now) >= cfg.MinWait {
			groups = append(groups, []Ticket{t})
		}
	}
	return groups
}

// FillGroupStrategy aggregates tickets FIFO until the member total lands in
// [MinGroupSize, MaxGroupSize]. A ticket that has waited past RelaxAfter
// drags its group's minimum down to 1.
type FillGroupStrategy struct{}

func (FillGroupStrategy) FindMatchableGroups(now time.Time, tickets []Ticket, cfg QueueConfig) [][]Ticket {
	minSize := cfg.MinGroupSize
	if minSize < 1 {
		minSize = 1
	}
	maxSize := cfg.MaxGroupSize
	if maxSize < minSize {
		maxSize = minSize
	}

	var groups [][]Ticket
	var current []Ticket
	currentSize := 0
	flush := func() {
		effectiveMin := minSize
		if cfg.RelaxAfter > 0 {
			for _, t := range current {
				if t.Wait(now) >= cfg.RelaxAfter {
					effectiveMin = 1
					break
				}
			}
		}
		if currentSize >= effectiveMin {
			groups = append(groups, current)
		}
		current, currentSize = nil, 0
	}

	for _, t := range tickets {
		// GroupSize can reserve more slots than the listed members.
		size := t.GroupSize
		if size <= 0 {
			size = len(t.Members)
		}
		if size == 0 {
			size = 1
		}
		if currentSize+size > maxSize {
			flush()
		}
		current = append(current, t)
		currentSize += size
		if currentSize >= maxSize {
			flush()
		}
	}
	if len(current) > 0 {
		flush()
	}
	return groups
}

// ConfigFor derives the strategy and config for a queue key. A qualifier of
// the form "NvN" or "N" selects fillGroup with an exact target of N;
// everything else uses the default strategy.
func ConfigFor(queueKey string, minWait, relaxAfter time.Duration) (Strategy, QueueConfig) {
	size := GroupSizeOf(queueKey)
	cfg := QueueConfig{MinWait: minWait, RelaxAfter: relaxAfter, MinGroupSize: size, MaxGroupSize: size}
	if size <= 1 {
		return DefaultStrategy{}, cfg
	}
	return FillGroupStrategy{}, cfg
}
