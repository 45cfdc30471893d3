package ports

import "context"

// EventPublisher publishes session lifecycle events to notify other instances
type EventPublisher interface {
	PublishLogin(ctx context.Context, wallet, role string) error
	PublishRefresh(ctx context.Context, wallet, role string) error
	PublishLogout(ctx context.Context, wallet string) error
}
