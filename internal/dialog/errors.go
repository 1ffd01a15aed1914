package dialog

import "errors"

// Validation, conflict and authorization errors are surfaced to the
// initiating user and leave state unchanged. Storage errors pass
// through wrapped and are recovered inside the storage layer where
// possible.
var (
	ErrInvalidPassword      = errors.New("invalid password")
	ErrInvalidTag           = errors.New("invalid tag")
	ErrExpiredPassword      = errors.New("password expired")
	ErrTagTaken             = errors.New("tag already taken")
	ErrUnauthorized         = errors.New("insufficient admin level")
	ErrNotAnAdmin           = errors.New("not a registered admin")
	ErrAlreadyMaxLevel      = errors.New("admin already at maximum level")
	ErrAdminBusy            = errors.New("admin already in a dialog")
	ErrClientAlreadyClaimed = errors.New("client already claimed")
	ErrNoActiveDialog       = errors.New("no active dialog")
	ErrTargetBusy           = errors.New("target admin busy")
)
