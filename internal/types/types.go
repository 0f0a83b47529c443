package types

import "time"

// TimestampLayout is the fixed-width UTC layout used for created_at so that
// lexical order equals chronological order in every backend.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

type Role string

const (
	RoleOperations Role = "operations"
	RoleInfluencer Role = "influencer"
)

// Message is a persisted chat message. Field names double as the DynamoDB
// attribute names and the sqlite column names.
type Message struct {
	ID             string `json:"message_id" dynamodbav:"message_id"`
	ConversationID string `json:"conversation_id" dynamodbav:"conversation_id"`
	SenderID       string `json:"sender_id" dynamodbav:"sender_id"`
	SenderType     Role   `json:"sender_type" dynamodbav:"sender_type"`
	Text           string `json:"message_text" dynamodbav:"message_text"`
	CreatedAt      string `json:"created_at" dynamodbav:"created_at"`
}

// Time parses CreatedAt. A malformed value yields the zero time.
func (m Message) Time() time.Time {
	t, err := time.Parse(TimestampLayout, m.CreatedAt)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, m.CreatedAt)
	}
	return t
}

// Timestamp formats t with TimestampLayout.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Enrollment links an influencer to a campaign; its id doubles as the
// conversation id.
type Enrollment struct {
	ID           string `json:"enrollment_id" dynamodbav:"enrollment_id"`
	CampaignID   string `json:"id_campaign,omitempty" dynamodbav:"id_campaign"`
	InfluencerID string `json:"id_influencer" dynamodbav:"id_influencer"`
}
