package pipeline

const (
	ErrEventInvalidJSON = "E_EVENT_INVALID_JSON"
	ErrEventUnknownType = "E_EVENT_UNKNOWN_TYPE"
	ErrEventMissingSeq  = "E_EVENT_MISSING_SEQ"
	ErrEventBadPayload  = "E_EVENT_BAD_PAYLOAD"
)
