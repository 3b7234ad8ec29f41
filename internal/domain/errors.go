package domain

import "errors"

// Store errors
var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrConflict       = errors.New("concurrent modification")
	ErrCreateConflict = errors.New("room code already in use")
	ErrTransport      = errors.New("document store unavailable")
)

// ErrValidation is wrapped by every local precondition failure. Validation
// errors are raised before any write reaches the store.
var ErrValidation = errors.New("validation failed")

// Phase and input validation errors
var (
	ErrNotHost              = validation("only the host can perform this action")
	ErrInvalidPhase         = validation("action not allowed in the current phase")
	ErrNoPlayers            = validation("room has no players")
	ErrNotAllSubmitted      = validation("not all players have submitted a topic")
	ErrTopicNotFound        = validation("topic not found")
	ErrTopicAlreadyRevealed = validation("topic already revealed")
	ErrNoCurrentTopic       = validation("no topic is being discussed")
	ErrEmptyText            = validation("text must not be empty")
	ErrEmptyName            = validation("name must not be empty")
	ErrTooManyTopics        = validation("topic limit per player exceeded")
	ErrInvalidSettings      = validation("invalid settings")
	ErrLastCategory         = validation("at least one category must stay enabled")
	ErrInvalidRoomCode      = validation("invalid room code")
	ErrInvalidPatch         = validation("invalid room patch")
	ErrNotInRoom            = validation("player is not in the room")
)

type validationError struct {
	msg string
}

func validation(msg string) error {
	return &validationError{msg: msg}
}

func (e *validationError) Error() string { return e.msg }

func (e *validationError) Is(target error) bool {
	return target == ErrValidation
}

// IsValidation reports whether err is a local precondition failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
