package goMembership

import "context"

type applicationNameContextKey struct{}
type clientIPContextKey struct{}

// WithApplicationName scopes the operations called with ctx to the given
// application instead of Config.Membership.ApplicationName.
func WithApplicationName(ctx context.Context, applicationName string) context.Context {
	return context.WithValue(ctx, applicationNameContextKey{}, applicationName)
}

// WithClientIP attaches the caller's IP address to ctx. The Engine records
// it on audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func (e *Engine) applicationName(ctx context.Context) string {
	if ctx != nil {
		if name, _ := ctx.Value(applicationNameContextKey{}).(string); name != "" {
			return name
		}
	}
	return e.config.Membership.ApplicationName
}
