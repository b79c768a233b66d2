// Package services defines the business logic of the offers discussion.
// This file centralizes service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

var (
	// ErrInvalidInput is returned when a required identifier is missing.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoSession is returned when a mutation is attempted without an
	// authenticated session.
	ErrNoSession = errors.New("no session")

	// ErrEmptyMessage is returned when a reply message is blank after
	// normalization.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrMessageTooLong is returned when a reply message exceeds the
	// configured rune limit.
	ErrMessageTooLong = errors.New("message too long")

	// ErrParentProfileMismatch is returned when replyingToId names an entry
	// that belongs to a different profile.
	ErrParentProfileMismatch = errors.New("parent reply belongs to another profile")

	// ErrParentNotTopLevel is returned when replyingToId names an entry that is
	// itself a reply while the service is configured for flat threads.
	ErrParentNotTopLevel = errors.New("cannot reply to a reply")

	// ErrUnauthorized is returned by update and delete when neither the edit
	// token nor the user id grants rights over the entry. The message is part
	// of the public API.
	ErrUnauthorized = errors.New("Wrong userId or token.")
)
