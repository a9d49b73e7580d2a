package dispatch

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/fieldserve/workorder/internal/domain"
)

// PriorContactStore answers whether a technician has previously engaged
// with an organization.
type PriorContactStore interface {
	HasPriorReply(ctx context.Context, orgID, techID uuid.UUID) (bool, error)
}

// HistoryRouter implements the default routing policy: warm when the
// technician has replied to this organization's outreach before, cold
// otherwise. The production routing rule is an external business policy;
// this router is the consumed default.
type HistoryRouter struct {
	store PriorContactStore
}

func NewHistoryRouter(store PriorContactStore) *HistoryRouter {
	return &HistoryRouter{store: store}
}

func (r *HistoryRouter) Route(ctx context.Context, orgID, techID uuid.UUID) domain.OutreachChannel {
	known, err := r.store.HasPriorReply(ctx, orgID, techID)
	if err != nil {
		// Routing must not block dispatch; cold is the safe default.
		log.Printf("dispatch: routing lookup failed for tech=%s, defaulting to cold: %v", techID, err)
		return domain.OutreachChannelCold
	}
	if known {
		return domain.OutreachChannelWarm
	}
	return domain.OutreachChannelCold
}
