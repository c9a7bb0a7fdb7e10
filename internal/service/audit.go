package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/noah-isme/immigration-dms-api/internal/models"
	appErrors "github.com/noah-isme/immigration-dms-api/pkg/errors"
)

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// RequestMeta carries client details recorded on audit entries.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

type requestMetaKey struct{}

// WithRequestMeta stores meta on ctx.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFrom returns the meta stored on ctx, if any.
func RequestMetaFrom(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta
}

func newAuditLog(ctx context.Context, actor models.Actor, action, resource, resourceID string, oldValues, newValues interface{}, at time.Time) *models.AuditLog {
	meta := RequestMetaFrom(ctx)
	entry := &models.AuditLog{
		Action:    action,
		Resource:  resource,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		CreatedAt: at,
	}
	if actor.ID != "" {
		id := actor.ID
		entry.UserID = &id
	}
	if resourceID != "" {
		rid := resourceID
		entry.ResourceID = &rid
	}
	entry.OldValues = marshalAuditValues(oldValues)
	entry.NewValues = marshalAuditValues(newValues)
	return entry
}

func marshalAuditValues(v interface{}) []byte {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// writeAudit appends entry and converts any failure into ErrAuditWrite so the
// enclosing transaction is rolled back.
func writeAudit(ctx context.Context, w auditWriter, entry *models.AuditLog) error {
	if w == nil {
		return appErrors.Clone(appErrors.ErrAuditWrite, "audit writer not configured")
	}
	if err := w.CreateAuditLog(ctx, entry); err != nil {
		return appErrors.WrapAs(appErrors.ErrAuditWrite, err, "")
	}
	return nil
}
