package app

import "errors"

var (
	ErrEmailAndPasswordRequired = errors.New("email and password required")
	ErrUsernameRequired         = errors.New("username required")
	ErrEmailAlreadyExists       = errors.New("email already registered")
	ErrInvalidCredentials       = errors.New("invalid credentials")

	ErrProfileNotFound = errors.New("profile not found")

	ErrConversationNotFound  = errors.New("conversation not found")
	ErrConversationForbidden = errors.New("conversation forbidden")
	// ErrSelfConversation rejects a conversation where both
	// participants are the same user.
	ErrSelfConversation  = errors.New("cannot start a conversation with yourself")
	ErrOtherUserRequired = errors.New("other user id required")
	ErrMessageEmpty      = errors.New("message content required")

	ErrStatusNotFound  = errors.New("status not found")
	ErrStatusExpired   = errors.New("status expired")
	ErrStatusEmpty     = errors.New("status needs content or media")
	ErrStatusForbidden = errors.New("status forbidden")
	ErrInvalidReaction = errors.New("unsupported reaction emoji")
	ErrMediaTooLarge    = errors.New("media exceeds the upload limit")
	ErrUnsupportedMedia = errors.New("unsupported media type")

	ErrPromptRequired = errors.New("prompt required")
)
