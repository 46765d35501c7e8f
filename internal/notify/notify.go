// Package notify tells auction participants about settlement outcomes.
// Delivery is best effort: publish failures are logged and swallowed.
package notify

import (
	"context"
	"time"

	"github.com/swapbid/backend/internal/models"
	"go.uber.org/zap"
)

type EventType string

const (
	EventWinnerSelected    EventType = "auction.winner_selected"
	EventProposalLost      EventType = "auction.proposal_lost"
	EventProposalsRejected EventType = "auction.proposals_rejected"
)

// Event is the message body written to the transport.
type Event struct {
	Type        EventType `json:"type"`
	AuctionID   string    `json:"auctionId"`
	ProposalID  string    `json:"proposalId"`
	RecipientID string    `json:"recipientId"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Publisher writes one event to a transport.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, *Event) error { return nil }

// Nop discards every event.
var Nop Publisher = nopPublisher{}

const DefaultTimeout = 2 * time.Second

type Notifier struct {
	publisher Publisher
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewNotifier(publisher Publisher, timeout time.Duration, logger *zap.Logger) *Notifier {
	if publisher == nil {
		publisher = Nop
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		publisher: publisher,
		timeout:   timeout,
		logger:    logger.Named("notify"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (n *Notifier) WinnerSelected(ctx context.Context, auction *models.Auction, proposal *models.AuctionProposal) {
	n.send(ctx, &Event{
		Type:        EventWinnerSelected,
		AuctionID:   auction.ID,
		ProposalID:  proposal.ID,
		RecipientID: proposal.ProposerID,
	})
}

func (n *Notifier) ProposalLost(ctx context.Context, auction *models.Auction, proposal *models.AuctionProposal) {
	n.send(ctx, &Event{
		Type:        EventProposalLost,
		AuctionID:   auction.ID,
		ProposalID:  proposal.ID,
		RecipientID: proposal.ProposerID,
	})
}

func (n *Notifier) ProposalsRejected(ctx context.Context, auctionID string, proposals []*models.AuctionProposal, reason string) {
	for _, p := range proposals {
		n.send(ctx, &Event{
			Type:        EventProposalsRejected,
			AuctionID:   auctionID,
			ProposalID:  p.ID,
			RecipientID: p.ProposerID,
			Reason:      reason,
		})
	}
}

func (n *Notifier) send(ctx context.Context, event *Event) {
	if n == nil {
		return
	}
	event.OccurredAt = n.now()

	// Detach from the request so a cancelled caller still gets its
	// notification out, bounded by our own timeout.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	if err := n.publisher.Publish(pubCtx, event); err != nil {
		n.logger.Warn("notification not delivered",
			zap.String("type", string(event.Type)),
			zap.String("auction_id", event.AuctionID),
			zap.String("proposal_id", event.ProposalID),
			zap.Error(err),
		)
	}
}
