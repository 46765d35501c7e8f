package settlement

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/swapbid/backend/internal/models"
)

type MockBookings struct {
	mock.Mock
}

func (m *MockBookings) LockBooking(ctx context.Context, bookingID, ownerID string) error {
	args := m.Called(ctx, bookingID, ownerID)
	return args.Error(0)
}

func (m *MockBookings) UnlockBooking(ctx context.Context, bookingID string) error {
	args := m.Called(ctx, bookingID)
	return args.Error(0)
}

type MockPayments struct {
	mock.Mock
}

func (m *MockPayments) ProcessPayment(ctx context.Context, req *models.PaymentRequest) (*models.PaymentReceipt, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentReceipt), args.Error(1)
}

func (m *MockPayments) RefundPayment(ctx context.Context, escrowRef string, amount *decimal.Decimal, reason string) (*models.RefundReceipt, error) {
	args := m.Called(ctx, escrowRef, amount, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RefundReceipt), args.Error(1)
}

func (m *MockPayments) GetTransactionStatus(ctx context.Context, escrowRef string) (*models.PaymentStatus, error) {
	args := m.Called(ctx, escrowRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentStatus), args.Error(1)
}
