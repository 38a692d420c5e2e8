package cluster

import "errors"

var (
	ErrInvalidNamespace   = errors.New("cluster: invalid namespace")
	ErrInvalidID          = errors.New("cluster: invalid id")
	ErrNilBackend         = errors.New("cluster: nil backend")
	ErrNilMembership      = errors.New("cluster: backend returned nil membership")
	ErrEngineAlreadyBound = errors.New("cluster: already bound to a different engine")
)
