package state

import "github.com/pkg/errors"

var (
	ErrAlreadyInitialized = errors.New("consensus already initialized")
	ErrNotInitialized     = errors.New("consensus not initialized")
	ErrUnknownMethod      = errors.New("unknown consensus method")
	ErrWrongParams        = errors.New("wrong consensus params")
	ErrWrongRound         = errors.New("wrong round")
	ErrWrongRoundID       = errors.New("round id mismatch")
	ErrNotMiner           = errors.New("sender is not a miner of the round")
	ErrWrongInValue       = errors.New("in value does not match out value")
	ErrAlreadyPublished   = errors.New("value already published")
)
