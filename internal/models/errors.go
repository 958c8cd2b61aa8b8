package models

import "errors"

var (
	ErrChatNotFound            = errors.New("chat not found")
	ErrNotParticipant          = errors.New("user is not a participant in this chat")
	ErrInvalidContent          = errors.New("message content is empty")
	ErrParticipantUnresolvable = errors.New("participant could not be resolved")
	ErrSelfChat                = errors.New("cannot create chat with yourself")
	ErrTransientStorage        = errors.New("storage temporarily unavailable")
)
