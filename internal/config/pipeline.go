package config

import "time"

const (
	// Cache
	CacheLimit         = 200
	HistoryLimit       = 50
	MembershipCacheTTL = 30 * time.Second

	// Formatter
	MaxTextLength   = 10000
	MaxNameLength   = 100
	MetadataVersion = "1"
	DefaultMimeType = "application/octet-stream"
	UnknownDevice   = "unknown"

	// Groups
	MinGroupMembers  = 3
	DefaultGroupName = "New group"

	// Queue
	PersistJobName   = "persist-message"
	GroupJobAttempts = 5
	GroupJobBackoff  = 3 * time.Second
)
