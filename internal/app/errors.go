package app

import "errors"

var (
	ErrNoCredentials = errors.New("no stored session and no login credentials configured")
	ErrSessionEnded  = errors.New("session ended, log in again")
)
