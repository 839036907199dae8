package tools

import "context"

type credentialsKey struct{}

// WithCredentials attaches per-provider credential strings to the context
// handed to tool executions. Credentials ride the context rather than task
// state so they never land in a checkpoint.
func WithCredentials(ctx context.Context, creds map[string]string) context.Context {
	if len(creds) == 0 {
		return ctx
	}
	return context.WithValue(ctx, credentialsKey{}, creds)
}

// Credential returns the credential registered for a provider, if any.
func Credential(ctx context.Context, provider string) (string, bool) {
	creds, _ := ctx.Value(credentialsKey{}).(map[string]string)
	v, ok := creds[provider]
	return v, ok
}
