package model

import "time"

// LinkEventKind names a committed change to a link.
type LinkEventKind string

const (
	LinkCreated LinkEventKind = "created"
	LinkUpdated LinkEventKind = "updated"
	LinkDeleted LinkEventKind = "deleted"
	LinkExpired LinkEventKind = "expired"
	LinkPurged  LinkEventKind = "purged"
)

// LinkEvent is published to JetStream after a link mutation commits.
type LinkEvent struct {
	ID          string        `json:"id"`
	Kind        LinkEventKind `json:"kind"`
	LinkID      int64         `json:"link_id"`
	ShortCode   string        `json:"short_code"`
	OriginalURL string        `json:"original_url"`
	UserID      *int64        `json:"user_id,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// SweepKind selects which periodic sweep a command runs.
type SweepKind string

const (
	SweepExpire SweepKind = "expire"
	SweepStale  SweepKind = "stale"
)

// SweepCommand asks a running server to sweep now.
type SweepCommand struct {
	Kind          SweepKind `json:"kind"`
	RetentionDays int       `json:"retention_days,omitempty"`
	RequestedAt   time.Time `json:"requested_at"`
}

const (
	LinkEventStreamName     = "LINK_EVENTS"
	LinkEventSubjectPrefix  = "links.events"
	LinkEventStreamMaxBytes = 1024 * 1024 * 100 // 100MB

	SweepStreamName    = "LINK_SWEEPS"
	SweepSubjectPrefix = "links.sweep"
	SweepConsumerName  = "link-sweeper"
)

// Subject returns the JetStream subject an event of this kind is published on.
func (k LinkEventKind) Subject() string {
	return LinkEventSubjectPrefix + "." + string(k)
}

// Subject returns the JetStream subject a command of this kind is published on.
func (k SweepKind) Subject() string {
	return SweepSubjectPrefix + "." + string(k)
}
