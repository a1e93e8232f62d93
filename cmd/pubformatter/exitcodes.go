package main

// Exit codes for the submit command.
const (
	ExitSubmitError      = 1 // General error (invalid arguments, unreadable file, local failure)
	ExitSubmitInvalidDoi = 2 // DOI suffix is not exactly 9 digits
	ExitSubmitBackend    = 3 // Processing service answered with a non-success status
	ExitSubmitTransport  = 4 // Processing service could not be reached or timed out
)
