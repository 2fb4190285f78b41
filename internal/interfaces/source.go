package interfaces

import (
	"context"

	"github.com/avermeer/circlesift/internal/models"
)

// FollowingPage is one page of a paginated following listing.
// NextToken is empty on the final page.
type FollowingPage struct {
	Accounts  []models.Account
	NextToken string
}

// SourceAccountClient lists the accounts a target follows, one page at a
// time. Implementations own per-call timeouts; the engine only imposes
// retry caps and rate limiting around calls.
type SourceAccountClient interface {
	// ListFollowing returns one page of followed accounts. Pass an empty
	// pageToken for the first page.
	ListFollowing(ctx context.Context, targetID, pageToken string) (*FollowingPage, error)
}
