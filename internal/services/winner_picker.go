package services

import (
	"fmt"
	"sort"

	"github.com/swapbid/backend/internal/models"
)

// WinnerPicker chooses the proposal auto-selection settles on. Cash beats
// booking; higher cash wins; ties go to the earliest proposal.
type WinnerPicker interface {
	Pick(settings models.AuctionSettings, proposals []*models.AuctionProposal) *models.AuctionProposal
}

const (
	PickerSort = "sort"
	PickerScan = "scan"
)

func NewWinnerPicker(name string) (WinnerPicker, error) {
	switch name {
	case PickerSort, "":
		return SortPicker{}, nil
	case PickerScan:
		return ScanPicker{}, nil
	default:
		return nil, fmt.Errorf("unknown winner picker %q", name)
	}
}

// SortPicker ranks every eligible proposal and takes the first.
type SortPicker struct{}

func (SortPicker) Pick(settings models.AuctionSettings, proposals []*models.AuctionProposal) *models.AuctionProposal {
	eligible := make([]*models.AuctionProposal, 0, len(proposals))
	for _, p := range proposals {
		if eligibleForAutoSelection(settings, p) {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return ranksBefore(eligible[i], eligible[j])
	})
	return eligible[0]
}

// ScanPicker keeps the best proposal seen in a single pass.
type ScanPicker struct{}

func (ScanPicker) Pick(settings models.AuctionSettings, proposals []*models.AuctionProposal) *models.AuctionProposal {
	var best *models.AuctionProposal
	for _, p := range proposals {
		if !eligibleForAutoSelection(settings, p) {
			continue
		}
		if best == nil || ranksBefore(p, best) {
			best = p
		}
	}
	return best
}

func eligibleForAutoSelection(settings models.AuctionSettings, p *models.AuctionProposal) bool {
	if p == nil || p.Status != models.ProposalPending {
		return false
	}
	switch p.ProposalType {
	case models.ProposalCash:
		return settings.AllowCashProposals &&
			p.CashOffer != nil &&
			p.CashOffer.Amount.IsPositive() &&
			!p.CashOffer.Amount.LessThan(settings.MinimumCashOffer)
	case models.ProposalBooking:
		return settings.AllowBookingProposals && p.BookingID != nil && *p.BookingID != ""
	default:
		return false
	}
}

func ranksBefore(a, b *models.AuctionProposal) bool {
	aCash, bCash := a.ProposalType == models.ProposalCash, b.ProposalType == models.ProposalCash
	if aCash != bCash {
		return aCash
	}
	if aCash {
		if c := a.CashOffer.Amount.Cmp(b.CashOffer.Amount); c != 0 {
			return c > 0
		}
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
