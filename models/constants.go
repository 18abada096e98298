package models

// MatchingStatusTable is the default DynamoDB table for per-user matching
// status records. Overridable via MATCHING_STATUS_TABLE.
const MatchingStatusTable = "MatchingStatus"

// Vector metadata field names. These are denormalized copies of MatchingStatus
// fields stored alongside each trait vector so similarity queries can be
// filtered inside the vector store.
const (
	MetaSeekingMatchStatus = "seekingMatchStatus"
	MetaOptInTimestamp     = "optInTimestamp"
	MetaUpdatedAt          = "updatedAt"
)
