package newsfeed

import (
	"context"

	"github.com/omnifin/finsight/pkg/models"
)

// Provider fetches recent items from one news source
type Provider interface {
	// GetName returns the provider name, which doubles as the source
	// catalog name
	GetName() string

	// SourceURL returns the homepage URL registered for the source
	SourceURL() string

	// SourceType returns how the source is collected
	SourceType() models.SourceType

	// FetchLatest fetches up to limit recent items
	FetchLatest(ctx context.Context, limit int) ([]models.FeedItem, error)

	// IsEnabled returns whether provider is enabled
	IsEnabled() bool
}
