package job

import (
	"context"

	"tenant-service/pkg/logger"
	"tenant-service/pkg/tenantctx"
	"tenant-service/prometheus"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Metadata is the job's payload. Tenant identity travels either at the
// top level under "tenant_id" or nested under a "metadata" sub-map;
// absence is not an error, just "no tenant".
type Metadata map[string]interface{}

// Func is a job body. The context carries the tenant scope installed by
// the wrappers below.
type Func func(ctx context.Context, md Metadata) error

// TenantFromMetadata extracts the tenant id from job metadata.
func TenantFromMetadata(md Metadata) (uuid.UUID, bool) {
	if md == nil {
		return uuid.Nil, false
	}

	raw, ok := md["tenant_id"]
	if !ok {
		nested, isMap := md["metadata"].(map[string]interface{})
		if !isMap {
			return uuid.Nil, false
		}
		raw, ok = nested["tenant_id"]
		if !ok {
			return uuid.Nil, false
		}
	}

	switch v := raw.(type) {
	case uuid.UUID:
		return v, v != uuid.Nil
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return uuid.Nil, false
		}
		return id, true
	default:
		return uuid.Nil, false
	}
}

// WithTenantContext wraps a job body so the tenant from its metadata is
// installed for the job's extent. A job without tenant metadata runs
// with no context and fails closed on protected tables. The scope dies
// with the derived context, so nothing survives into the next job even
// when the body fails or panics.
func WithTenantContext(fn Func) Func {
	return func(ctx context.Context, md Metadata) error {
		if id, ok := TenantFromMetadata(md); ok {
			ctx = tenantctx.With(ctx, tenantctx.Tenant(id))
		} else {
			logger.GetLogger().Warn("Job running without tenant context")
			ctx = tenantctx.With(ctx, tenantctx.Unset())
		}
		return fn(ctx, md)
	}
}

// WithAdminContext wraps a job body in the administrative bypass scope.
// For cross-tenant maintenance jobs only: aggregate reporting, data
// migrations, system cleanup.
func WithAdminContext(fn Func) Func {
	return func(ctx context.Context, md Metadata) error {
		prometheus.RecordTenantContext("bypass")
		logger.GetLogger().Info("Job running with administrative bypass",
			zap.Any("metadata_keys", keys(md)))
		return fn(tenantctx.With(ctx, tenantctx.Bypass()), md)
	}
}

func keys(md Metadata) []string {
	out := make([]string, 0, len(md))
	for k := range md {
		out = append(out, k)
	}
	return out
}
