package interceptors

import "context"

type contextKey struct{ name string }

var (
	subjectKey = contextKey{"subject"}
	orgIDKey   = contextKey{"org_id"}
)

// WithIdentity returns a context carrying the verified token subject and org_id.
// The ingest handlers read the org through GetOrgID to tag resources that lack one.
func WithIdentity(ctx context.Context, subject, orgID string) context.Context {
	ctx = context.WithValue(ctx, subjectKey, subject)
	ctx = context.WithValue(ctx, orgIDKey, orgID)
	return ctx
}

// GetSubject returns the token subject from context and true if set; otherwise "", false.
func GetSubject(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(subjectKey).(string)
	return v, ok
}

// GetOrgID returns the org_id from context and true if set; otherwise "", false.
func GetOrgID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(orgIDKey).(string)
	return v, ok
}
