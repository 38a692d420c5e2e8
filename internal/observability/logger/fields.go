package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - CLUSTER
// =================================================================================

// ClusterID crea un campo para el ID del cluster o cluster service.
func ClusterID(v string) zap.Field {
	return zap.String("cluster_id", v)
}

// Namespace crea un campo para el namespace de una view.
func Namespace(v string) zap.Field {
	return zap.String("namespace", v)
}

// MemberID crea un campo para el ID de un miembro del cluster.
func MemberID(v string) zap.Field {
	return zap.String("member_id", v)
}

// Leader crea un campo para el flag de liderazgo.
func Leader(v bool) zap.Field {
	return zap.Bool("leader", v)
}

// Event crea un campo para el tipo de evento de cluster.
func Event(v string) zap.Field {
	return zap.String("event", v)
}

// Backend crea un campo para el backend de membership (local, raft, redis, postgres).
func Backend(v string) zap.Field {
	return zap.String("backend", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - ENGINE
// =================================================================================

// Engine crea un campo para el nombre del engine.
func Engine(v string) zap.Field {
	return zap.String("engine", v)
}

// RouteID crea un campo para el ID de la ruta.
func RouteID(v string) zap.Field {
	return zap.String("route_id", v)
}

// RefCount crea un campo para el contador de referencias de una policy.
func RefCount(v int) zap.Field {
	return zap.Int("ref_count", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - HTTP
// =================================================================================

// Method crea un campo para el método HTTP.
func Method(v string) zap.Field {
	return zap.String("method", v)
}

// Path crea un campo para el path del request.
func Path(v string) zap.Field {
	return zap.String("path", v)
}

// Status crea un campo para el status code HTTP.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// Duration crea un campo para una duración.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Count crea un campo para un conteo.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// Any crea un campo genérico para cualquier tipo.
func Any(key string, v any) zap.Field {
	return zap.Any(key, v)
}

// String crea un campo string genérico.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}
