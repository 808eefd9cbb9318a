package handlers

import (
	"context"

	"github.com/cartwatch/cartwatch/internal/event"
	"github.com/cartwatch/cartwatch/internal/event/models"
)

// ConfigProvider is an interface that defines the configuration access methods used by the handlers.
type ConfigProvider interface {
	Pipeline() event.Pipeline // Pipeline returns the event pipeline of the present configuration state.
}

// Store is the persistence collaborator of the cart event handler.
type Store interface {
	Ready() error
	Insert(ctx context.Context, r *models.Record) error
}
