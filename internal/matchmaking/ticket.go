// Package matchmaking is the ticket control plane: enqueue/cancel/status
// REST, queue state in memory or Redis, group-forming strategies and the
// worker tick that turns groups into land allocations with signed match
// tokens.
package matchmaking

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Ticket statuses. queued is the only non-terminal state.
const (
	StatusQueued    = "queued"
	StatusAssigned  = "assigned"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// Ticket is one matchmaking request for a group of players.
type Ticket struct {
	TicketID  string    `json:"ticketId"`
	GroupID   string    `json:"groupId"`
	QueueKey  string    `json:"queueKey"`
	Members   []string  `json:"members"`
	GroupSize int       `json:"groupSize"`
	Region    string    `json:"region,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`

	Assignment *Assignment `json:"assignment,omitempty"`
}

// Wait is how long the ticket has been queued.
func (t *Ticket) Wait(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// Assignment is a settled match: where to connect and with what token.
// MemberTokens maps each member of this ticket to their own match token;
// MatchToken duplicates the first member's token for the common solo case.
type Assignment struct {
	AssignmentID string            `json:"assignmentId"`
	MatchToken   string            `json:"matchToken,omitempty"`
	MemberTokens map[string]string `json:"memberTokens,omitempty"`
	ConnectURL   string            `json:"connectUrl"`
	LandID       string            `json:"landId"`
	ServerID     string            `json:"serverId"`
	ExpiresAt    time.Time         `json:"expiresAt"`
}

// LandTypeOf extracts the land type from a queue key
// ("duel:2v2" → "duel", "duel" → "duel").
func LandTypeOf(queueKey string) string {
	landType, _, _ := strings.Cut(queueKey, ":")
	return landType
}

var qualifierRe = regexp.MustCompile(`^(?:(\d+)v\d+|(\d+))$`)

// GroupSizeOf derives the target group size from the queue key qualifier:
// "NvN" and plain "N" both yield N, anything else yields 1.
func GroupSizeOf(queueKey string) int {
	_, qualifier, ok := strings.Cut(queueKey, ":")
	if !ok {
		return 1
	}
	m := qualifierRe.FindStringSubmatch(qualifier)
	if m == nil {
		return 1
	}
	digits := m[1]
	if digits == "" {
		digits = m[2]
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 1
	}
	return n
}
