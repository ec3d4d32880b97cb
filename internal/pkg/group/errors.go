package group

import "github.com/pkg/errors"

// ErrMemberClosed is returned when sending to a member whose connection is gone.
var ErrMemberClosed = errors.New("member closed")

// ErrMemberStalled is returned when a member's outbound queue is full.
var ErrMemberStalled = errors.New("member stalled")

// ErrGroupNotFound is returned when no group is registered under an id.
var ErrGroupNotFound = errors.New("group not found")

// ErrGroupNotActive is returned when finishing a group that is not racing.
var ErrGroupNotActive = errors.New("group not active")
