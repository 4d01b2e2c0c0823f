package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"chatline/internal/apperr"
)

// Client-facing failures. Messages are stable; clients may match on them.
var (
	ErrUserNotFound         = apperr.NotFound("user not found")
	ErrParticipantsNotFound = apperr.NotFound("one or more participants not found")
	ErrChannelNotFound      = apperr.NotFound("channel not found")
	ErrMessageNotFound      = apperr.NotFound("message not found")

	ErrSelfFriendship    = apperr.InvalidArgument("cannot add yourself as a friend")
	ErrSelfDirectMessage = apperr.InvalidArgument("cannot open a direct message with yourself")
	ErrInvalidStatus     = apperr.InvalidArgument("invalid status")

	ErrAlreadyFriends     = apperr.Conflict("already friends")
	ErrAlreadyParticipant = apperr.Conflict("user is already a participant")
	ErrUserExists         = apperr.Conflict("a user with that email or username already exists")

	ErrNotParticipant         = apperr.Forbidden("you are not a participant of this channel")
	ErrNotAuthor              = apperr.Forbidden("you are not the author of this message")
	ErrMessageChannelMismatch = apperr.Forbidden("message does not belong to this channel")
	ErrNotFriends             = apperr.Forbidden("you are not friends with this user")
	ErrDirectNotDeletable     = apperr.Forbidden("direct message channels cannot be deleted")
	ErrDirectMembersFixed     = apperr.Forbidden("direct message participants cannot be changed")
	ErrTargetNotParticipant   = apperr.Forbidden("user is not a participant of this channel")

	ErrInvalidCredentials = apperr.Unauthenticated("invalid credentials")
	ErrInvalidToken       = apperr.Unauthenticated("invalid or expired token")
)

// storeErr classifies a repository failure: a missing row becomes notFound,
// anything else is Internal with context.
func storeErr(err error, notFound *apperr.Error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) && notFound != nil {
		return notFound
	}
	return apperr.Internal(fmt.Errorf("%s: %w", op, err))
}
