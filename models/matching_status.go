package models

// MatchingStatus is the per-user opt-in/opt-out record. One item per user,
// keyed by userId. Created lazily on the first opt-in; a missing record means
// the user has never interacted with matching. Timestamps are RFC3339 strings.
type MatchingStatus struct {
	UserID              string `dynamodbav:"userId" json:"userId"`
	IsSeekingMatch      bool   `dynamodbav:"isSeekingMatch" json:"isSeekingMatch"`
	OptInTimestamp      string `dynamodbav:"optInTimestamp,omitempty" json:"optInTimestamp,omitempty"`
	LastOptOutTimestamp string `dynamodbav:"lastOptOutTimestamp,omitempty" json:"lastOptOutTimestamp,omitempty"`
	LastMatchedCycleID  string `dynamodbav:"lastMatchedCycleId,omitempty" json:"lastMatchedCycleId,omitempty"`
	CurrentMatchPartner string `dynamodbav:"currentMatchPartnerId,omitempty" json:"currentMatchPartnerId,omitempty"`
	MissedCyclesCount   int    `dynamodbav:"missedCyclesCount" json:"missedCyclesCount"`
	UpdatedAt           string `dynamodbav:"updatedAt" json:"updatedAt"`
}

// MatchingStatusView is the wire shape returned by the status endpoint.
// HasNeverOptedIn is derived, never stored: it is true only when no record
// exists for the user.
type MatchingStatusView struct {
	IsSeekingMatch      bool   `json:"isSeekingMatch"`
	OptInTimestamp      string `json:"optInTimestamp,omitempty"`
	LastOptOutTimestamp string `json:"lastOptOutTimestamp,omitempty"`
	LastMatchedCycleID  string `json:"lastMatchedCycleId,omitempty"`
	CurrentMatchPartner string `json:"currentMatchPartnerId,omitempty"`
	MissedCyclesCount   int    `json:"missedCyclesCount"`
	HasNeverOptedIn     bool   `json:"hasNeverOptedIn"`
}

// View converts a stored record into its wire shape.
func (s *MatchingStatus) View() MatchingStatusView {
	return MatchingStatusView{
		IsSeekingMatch:      s.IsSeekingMatch,
		OptInTimestamp:      s.OptInTimestamp,
		LastOptOutTimestamp: s.LastOptOutTimestamp,
		LastMatchedCycleID:  s.LastMatchedCycleID,
		CurrentMatchPartner: s.CurrentMatchPartner,
		MissedCyclesCount:   s.MissedCyclesCount,
	}
}

// NeverOptedInView is the status view for a user with no stored record.
func NeverOptedInView() MatchingStatusView {
	return MatchingStatusView{HasNeverOptedIn: true}
}
