package config

import "errors"

var (
	// ErrConfigNotFound is returned when no config file is found
	// at the specified path or in any of the search paths.
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigVersionTooNew is returned when a config file has a version
	// newer than what this binary supports.
	ErrConfigVersionTooNew = errors.New("config version too new")

	// ErrInvalidBootstrapProtocol is returned when discovery.bootstrap_protocol
	// is not one of "full" or "kademlia".
	ErrInvalidBootstrapProtocol = errors.New("invalid bootstrap protocol")

	// ErrInvalidSelector is returned when discovery.selector is not one of
	// "round_robin" or "random".
	ErrInvalidSelector = errors.New("invalid selector")

	// ErrInvalidRelayMode is returned when relay.mode is not one of
	// "client", "server", or "both".
	ErrInvalidRelayMode = errors.New("invalid relay mode")
)
