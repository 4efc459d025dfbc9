package campaign

import (
	"context"
	"time"

	"github.com/ignite/broadcast/internal/domain"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use and return an error
// wrapping domain.ErrNotFound for missing rows.
type Repository interface {
	// Get returns a single campaign.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// List returns campaigns matching the given filter, newest first, and the
	// total number of matches before pagination.
	List(ctx context.Context, filter ListFilter) ([]domain.Campaign, int, error)

	// Create inserts a new campaign. An empty ID is assigned.
	Create(ctx context.Context, c *domain.Campaign) error

	// Update modifies a campaign. Only non-nil fields are applied.
	Update(ctx context.Context, id string, u UpdateFields) error

	// Delete removes a campaign and its send history.
	Delete(ctx context.Context, id string) error

	// UpdateStatus sets a campaign's status without further checks.
	UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error

	// SetSchedule sets status and scheduled_at together.
	SetSchedule(ctx context.Context, id string, status domain.CampaignStatus, at *time.Time) error
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status string
	Search string
	Limit  int
	Offset int
}

// UpdateFields holds the mutable fields for a campaign update.
// Nil fields are not applied.
type UpdateFields struct {
	Name        *string   `json:"name"`
	Subject     *string   `json:"subject"`
	HTMLContent *string   `json:"htmlContent"`
	GroupIDs    *[]string `json:"groupIds"`
}

func (u UpdateFields) empty() bool {
	return u.Name == nil && u.Subject == nil && u.HTMLContent == nil && u.GroupIDs == nil
}
