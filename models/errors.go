package models

import "errors"

var (
	// ErrNoData is returned for an empty or whitespace-only serial line.
	ErrNoData = errors.New("no data")
	// ErrMalformedSample is returned when a line is not three numeric fields.
	ErrMalformedSample = errors.New("malformed sample")
	// ErrConnectionFault is returned when the serial port cannot be opened or read.
	ErrConnectionFault = errors.New("connection fault")
	// ErrPersistenceFault is reported when a log write fails. Streaming continues.
	ErrPersistenceFault = errors.New("persistence fault")
	// ErrJoinTimeout is returned when an acquisition worker does not exit in time.
	ErrJoinTimeout = errors.New("acquisition worker did not stop in time")
	// ErrSessionActive is returned when starting while another session runs.
	ErrSessionActive = errors.New("acquisition session already active")
	// ErrUnknownDetailLevel is returned for a detail level other than low, medium or high.
	ErrUnknownDetailLevel = errors.New("unknown detail level")
)
