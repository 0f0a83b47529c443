package chat

import "errors"

// AccessError is returned when a caller may not use a conversation.
type AccessError uint

const (
	Denied AccessError = iota
	InvalidInfluencerConfig
	NotJoined
	// AccessUnverified means the ownership lookup failed; access is refused.
	AccessUnverified
)

func (e AccessError) Error() string {
	switch e {
	case Denied:
		return "Access denied: You do not have access to this enrollment"
	case InvalidInfluencerConfig:
		return "Access denied: Invalid influencer configuration"
	case NotJoined:
		return "You must join the conversation first"
	case AccessUnverified:
		return "Error verifying access"
	}
	return "Access denied"
}

// ValidationError reports a malformed client request.
type ValidationError uint

const (
	MissingEnrollmentID ValidationError = iota
	MissingMessageFields
	MessageTooLong
)

func (e ValidationError) Error() string {
	switch e {
	case MissingEnrollmentID:
		return "enrollment_id is required"
	case MissingMessageFields:
		return "enrollment_id and message_text are required"
	case MessageTooLong:
		return "message_text is too long"
	}
	return "Invalid request"
}

// PublicMessage is the text sent to the client in an error event. Wrapped
// details never leave the process.
func PublicMessage(err error) string {
	var ae AccessError
	if errors.As(err, &ae) {
		return ae.Error()
	}
	var ve ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	return "Internal server error"
}
