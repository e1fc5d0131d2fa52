package linker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ManuelReschke/PayRelay/app/models"
	"github.com/ManuelReschke/PayRelay/app/repository/memrepo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestLinker(t *testing.T) (*Linker, *memrepo.Store, *time.Time) {
	t.Helper()
	store := memrepo.New()
	l := New(store.Repositories(), time.Hour)
	now := t0
	l.now = func() time.Time { return now }
	return l, store, &now
}

func createPayment(t *testing.T, store *memrepo.Store, id, status, registrationID string) *models.Payment {
	t.Helper()
	p := &models.Payment{
		SquarePaymentID: id,
		AmountMoney:     2500,
		TotalMoney:      2500,
		Currency:        "USD",
		Status:          status,
		RegistrationID:  &registrationID,
	}
	require.NoError(t, store.Repositories().Payment.Create(context.Background(), p))
	return p
}

func TestLinkExistingRegistration(t *testing.T) {
	l, store, _ := newTestLinker(t)
	store.AddRegistration("reg-1")
	p := createPayment(t, store, "pay-1", models.PaymentStatusCompleted, "reg-1")

	require.NoError(t, l.OnPaymentStatusChanged(context.Background(), p))

	reg, err := store.Repositories().Registration.GetByID(context.Background(), "reg-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, reg.PaymentStatus)
	assert.Equal(t, "pay-1", reg.SquarePaymentID)
}

func TestPaymentWithoutRegistrationIsIgnored(t *testing.T) {
	l, _, _ := newTestLinker(t)
	assert.NoError(t, l.OnPaymentStatusChanged(context.Background(), &models.Payment{SquarePaymentID: "pay-1"}))
}

func TestMissingRegistrationParksAndResolves(t *testing.T) {
	l, store, _ := newTestLinker(t)
	ctx := context.Background()
	p := createPayment(t, store, "pay-1", models.PaymentStatusPending, "reg-late")

	linked, err := l.LinkPaymentToRegistration(ctx, p, "reg-late")
	require.NoError(t, err)
	assert.False(t, linked)

	pending, err := store.Repositories().PendingLink.ListPendingByRegistration(ctx, "reg-late")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, t0.Add(time.Hour), pending[0].ExpiresAt)

	// the payment completes while the registration is still missing
	p.Status = models.PaymentStatusCompleted
	require.NoError(t, store.Repositories().Payment.UpdateVersioned(ctx, p))
	_, err = l.LinkPaymentToRegistration(ctx, p, "reg-late")
	require.NoError(t, err)
	pending, _ = store.Repositories().PendingLink.ListPendingByRegistration(ctx, "reg-late")
	require.Len(t, pending, 1)

	store.AddRegistration("reg-late")
	n, err := l.ResolvePending(ctx, "reg-late")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reg, err := store.Repositories().Registration.GetByID(ctx, "reg-late")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, reg.PaymentStatus)
	pending, _ = store.Repositories().PendingLink.ListPendingByRegistration(ctx, "reg-late")
	assert.Empty(t, pending)
}

func TestSweepResolvesAndFlags(t *testing.T) {
	l, store, now := newTestLinker(t)
	ctx := context.Background()
	late := createPayment(t, store, "pay-late", models.PaymentStatusCompleted, "reg-late")
	orphan := createPayment(t, store, "pay-orphan", models.PaymentStatusCompleted, "reg-never")
	_, err := l.LinkPaymentToRegistration(ctx, late, "reg-late")
	require.NoError(t, err)
	_, err = l.LinkPaymentToRegistration(ctx, orphan, "reg-never")
	require.NoError(t, err)

	store.AddRegistration("reg-late")
	res, err := l.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Checked: 2, Resolved: 1}, res)
	assert.Empty(t, store.AllRecords())

	*now = t0.Add(2 * time.Hour)
	res, err = l.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Checked: 1, Flagged: 1}, res)

	records := store.AllRecords()
	require.Len(t, records, 1)
	assert.Equal(t, models.ReconTypePayment, records[0].Type)
	assert.Equal(t, models.DiscrepancyOrphanedPayment, records[0].DiscrepancyType)
	assert.Equal(t, "reg-never", records[0].ReferenceID)
	assert.Equal(t, models.ResolutionPending, records[0].ResolutionStatus)

	res, err = l.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Checked)
}

func TestStoreFailureIsReported(t *testing.T) {
	l, store, _ := newTestLinker(t)
	p := createPayment(t, store, "pay-1", models.PaymentStatusCompleted, "reg-1")
	store.FailWrites = errors.New("db down")

	linked, err := l.LinkPaymentToRegistration(context.Background(), p, "reg-1")
	assert.False(t, linked)
	assert.Error(t, err)
}
