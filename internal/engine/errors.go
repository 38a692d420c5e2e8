package engine

import "errors"

var (
	ErrDuplicateRoute = errors.New("engine: route already exists")
	ErrRouteNotFound  = errors.New("engine: route not found")
	ErrInvalidRoute   = errors.New("engine: invalid route")
	ErrInvalidService = errors.New("engine: invalid service")
	ErrInvalidBinding = errors.New("engine: invalid registry binding")
	ErrNotFound       = errors.New("engine: no registry entry of requested type")
	ErrAmbiguous      = errors.New("engine: more than one registry entry of requested type")
	ErrEngineMismatch = errors.New("engine: service bound to a different engine")
)
