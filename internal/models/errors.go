package models

import "errors"

var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotMember        = errors.New("not a member of this channel")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrQueueUnavailable = errors.New("queue unavailable")
	ErrGroupTooSmall    = errors.New("group needs at least 3 participants")
)
