package server

import "errors"

var ErrPoolStopped = errors.New("worker pool stopped")

var ErrServerClosed = errors.New("server closed")

var ErrInvalidConfig = errors.New("invalid server config")
