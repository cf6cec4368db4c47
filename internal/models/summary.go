package models

import "time"

// SummaryEntry is one answered question in a SummaryRecord.
type SummaryEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SummaryRecord is the ordered, read-only projection of a completed session's answers.
type SummaryRecord struct {
	ID        string         `json:"id"`
	Platform  string         `json:"platform"`
	UserID    string         `json:"user_id"`
	ChannelID string         `json:"channel_id"`
	GuildID   string         `json:"guild_id,omitempty"`
	Entries   []SummaryEntry `json:"entries"`
	// UpdateChannelID is the channel resolved from the update-channel answer, if any.
	UpdateChannelID string     `json:"update_channel_id,omitempty"`
	StartsAt        *time.Time `json:"starts_at,omitempty"`
	EndsAt          *time.Time `json:"ends_at,omitempty"`
	CompletedAt     time.Time  `json:"completed_at"`
}

// Value returns the recorded answer for key.
func (r SummaryRecord) Value(key string) (string, bool) {
	for _, e := range r.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// Keys returns the entry keys in order.
func (r SummaryRecord) Keys() []string {
	keys := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		keys[i] = e.Key
	}
	return keys
}

// SessionInfo is a point-in-time snapshot of an active setup session.
type SessionInfo struct {
	UserID    string    `json:"user_id"`
	ChannelID string    `json:"channel_id"`
	Platform  string    `json:"platform"`
	Question  string    `json:"question"`
	Cursor    int       `json:"cursor"`
	Answered  int       `json:"answered"`
	StartedAt time.Time `json:"started_at"`
}
