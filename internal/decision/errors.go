package decision

import "errors"

// Structural preconditions.
var (
	ErrSessionNotRegistered = errors.New("session not registered")
	ErrSessionDisabled      = errors.New("session disabled")
	ErrRegistrationTimeout  = errors.New("registration timeout")
)

// Configuration errors — fatal at startup, never at request time.
var (
	ErrRoleNotFound    = errors.New("role not found")
	ErrInvalidPolicy   = errors.New("invalid policy")
	ErrConfigParse     = errors.New("config parse error")
	ErrGlobPatternError = errors.New("glob pattern compile error")
)

// On-disk artifact problems.
var (
	ErrStorageError   = errors.New("storage error")
	ErrIndexBuildError = errors.New("index build error")
)

// Remote oracle / embedding issues — degrade their tier to undetermined.
var (
	ErrEmbeddingError    = errors.New("embedding unavailable")
	ErrSupervisorError   = errors.New("supervisor error")
	ErrSupervisorTimeout = errors.New("supervisor timeout")
)

// Human queue and transport.
var (
	ErrHumanTimeout  = errors.New("human response timeout")
	ErrIpcError      = errors.New("ipc error")
	ErrSocketNotFound = errors.New("supervisor socket not found")
)

// Thin wrappers around external faults.
var (
	ErrIO   = errors.New("io error")
	ErrJSON = errors.New("json error")
	ErrAPI  = errors.New("api error")
)
