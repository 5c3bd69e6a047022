package gate

import (
	"context"

	"gatehouse/internal/principal"
)

type clientIPKey struct{}
type userAgentKey struct{}
type requestIDKey struct{}
type identityKey struct{}

// WithClientMetadata stores the resolved client address and user agent.
func WithClientMetadata(ctx context.Context, ip, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey{}, ip)
	return context.WithValue(ctx, userAgentKey{}, userAgent)
}

// ClientIP returns the resolved client address, or "" when the request has no
// network peer information.
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// UserAgent returns the raw User-Agent header value.
func UserAgent(ctx context.Context) string {
	ua, _ := ctx.Value(userAgentKey{}).(string)
	return ua
}

// RequestIDFrom returns the request id assigned by the RequestID middleware.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithIdentity stores the authenticated principal.
func WithIdentity(ctx context.Context, p *principal.Principal) context.Context {
	return context.WithValue(ctx, identityKey{}, p)
}

// IdentityFrom returns the authenticated principal, if any.
func IdentityFrom(ctx context.Context) (*principal.Principal, bool) {
	p, ok := ctx.Value(identityKey{}).(*principal.Principal)
	return p, ok
}
