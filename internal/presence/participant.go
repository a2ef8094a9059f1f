// Package presence maintains per-participant online/away/offline state,
// typing indicators, and read receipts for chat participants. The store is
// the in-memory authority: callers never mutate participant fields
// directly, only through store operations.
package presence

import (
	"slices"
	"time"
)

// Status classifies a participant's availability.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
)

// Valid reports whether the status is one of the known values.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusAway, StatusBusy:
		return true
	}
	return false
}

// Role is a participant's position on a trip, each with a fixed
// permission set.
type Role string

const (
	RoleCaptain     Role = "captain"
	RoleCoCaptain   Role = "co-captain"
	RoleParticipant Role = "participant"
	RoleObserver    Role = "observer"
	RoleGuide       Role = "guide"
)

// Permission gates an operation a role may perform in a trip channel.
type Permission string

const (
	PermissionSendMessages Permission = "send_messages"
	PermissionBroadcast    Permission = "broadcast"
	PermissionModerate     Permission = "moderate"
	PermissionManageRoster Permission = "manage_roster"
	PermissionViewPresence Permission = "view_presence"
)

// rolePermissions is the fixed permission set per role.
var rolePermissions = map[Role][]Permission{
	RoleCaptain: {
		PermissionSendMessages, PermissionBroadcast, PermissionModerate,
		PermissionManageRoster, PermissionViewPresence,
	},
	RoleCoCaptain: {
		PermissionSendMessages, PermissionBroadcast, PermissionModerate,
		PermissionViewPresence,
	},
	RoleGuide: {
		PermissionSendMessages, PermissionBroadcast, PermissionViewPresence,
	},
	RoleParticipant: {
		PermissionSendMessages, PermissionViewPresence,
	},
	RoleObserver: {
		PermissionViewPresence,
	},
}

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	_, ok := rolePermissions[r]
	return ok
}

// Permissions returns the fixed permission set for the role.
func (r Role) Permissions() []Permission {
	perms := rolePermissions[r]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// Can reports whether the role holds the given permission.
func (r Role) Can(p Permission) bool {
	return slices.Contains(rolePermissions[r], p)
}

// Participant is a chat participant tracked by the store. All fields are
// owned by the store once added.
type Participant struct {
	// ID uniquely identifies the participant.
	ID string
	// DisplayName is shown in typing indicators and rosters.
	DisplayName string
	// Role determines the participant's permission set.
	Role Role
	// Status is the current availability classification.
	Status Status
	// IsTyping is true while at least one typing indicator is active for
	// this participant.
	IsTyping bool
	// LastActivity is the time of the most recent status change, typing
	// event, or read receipt.
	LastActivity time.Time
	// LastSeenAt is set only on transition to offline.
	LastSeenAt time.Time
	// LastReadMessageID is the most recent message this participant
	// marked read.
	LastReadMessageID string
}

// IsOnline is derived from Status; there is no separately stored flag to
// fall out of sync.
func (p Participant) IsOnline() bool {
	return p.Status == StatusOnline
}

// TypingIndicator records that a participant is composing in a channel.
// Keyed by (participant, channel); auto-expires unless refreshed.
type TypingIndicator struct {
	ParticipantID string
	DisplayName   string
	ChannelID     string
	StartedAt     time.Time
	ExpiresAt     time.Time
}

// ReadReceipt records that a participant read a message in a channel.
// Last write wins per (participant, message).
type ReadReceipt struct {
	MessageID     string
	ParticipantID string
	ChannelID     string
	ReadAt        time.Time
}

// Source records what caused a status change. Metadata for diagnostics
// only; no branching logic keys off it.
type Source string

const (
	SourceBackendPush     Source = "backend-push"
	SourceManual          Source = "manual"
	SourceHeartbeatSweep  Source = "heartbeat-sweep"
	SourceActivityTimeout Source = "activity-timeout"
)
