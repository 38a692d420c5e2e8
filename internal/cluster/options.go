package cluster

import (
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/routemaster/internal/observability/logger"
)

// Option configures a Cluster or a Service.
type Option func(*options)

type options struct {
	id  string
	log *zap.Logger
}

// WithID sets the container id instead of a generated one.
func WithID(id string) Option {
	return func(o *options) { o.id = strings.TrimSpace(id) }
}

// WithLogger sets the base logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

func buildOptions(component string, opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	if o.log == nil {
		o.log = logger.Named(component)
	}
	return o
}
