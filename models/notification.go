package models

// SubjectMatchFound is the notification subject used for match announcements
// on the real-time channel.
const SubjectMatchFound = "match_found"

// MatchNotification is the payload pushed to a user when a matching cycle
// pairs them with a partner. Delivered as the content of a generic
// notification envelope; never persisted.
type MatchNotification struct {
	CycleID   string   `json:"cycle_id"`
	PartnerID string   `json:"partner_id"`
	Score     *float64 `json:"score,omitempty"`
	ChannelID string   `json:"channel_id,omitempty"`
}

// DedupKey identifies a logical match event across redeliveries. Two
// notifications with the same cycle and partner are the same event.
func (n MatchNotification) DedupKey() string {
	return n.CycleID + ":" + n.PartnerID
}

// NotificationEnvelope is the generic wrapper the real-time backend uses for
// pushed events. Content may arrive as a JSON object or as a JSON-encoded
// string depending on the publisher; consumers must tolerate both.
type NotificationEnvelope struct {
	UserID  string      `json:"userId,omitempty"`
	Subject string      `json:"subject"`
	Content interface{} `json:"content"`
}

// SimilarUser is one ranked candidate from a similarity query.
type SimilarUser struct {
	UserID   string                 `json:"userId"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Vector   []float32              `json:"vector,omitempty"`
}

// MatchPair is one pairing produced by an external matching cycle.
type MatchPair struct {
	UserA     string   `json:"userA"`
	UserB     string   `json:"userB"`
	Score     *float64 `json:"score,omitempty"`
	ChannelID string   `json:"channelId,omitempty"`
}
