package app

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/locallum/blockchain-subscription-service/internal/domain"
	"github.com/locallum/blockchain-subscription-service/internal/metrics"
	"github.com/locallum/blockchain-subscription-service/internal/store"
	"github.com/locallum/blockchain-subscription-service/pkg/settlementclient"
)

func newTestService(repo *memRepo, pub EventPublisher) *Service {
	logger := discardLogger()
	return NewService(store.NewLedger(repo, nil), NewEvents(pub, "subscriptions.events", logger), logger)
}

func createRequest(user, provider string) domain.CreateSubscriptionRequest {
	d := int64(30)
	return domain.CreateSubscriptionRequest{
		User:      user,
		Provider:  provider,
		Amount:    json.Number("1000"),
		StartTime: json.Number("1000"),
		Duration:  &d,
	}
}

func TestCreate_AssignsSequentialIDs(t *testing.T) {
	repo := &memRepo{}
	pub := &publisherStub{}
	svc := newTestService(repo, pub)

	for want := int64(0); want < 3; want++ {
		sub, err := svc.Create(context.Background(), createRequest(userA, providerA))
		if err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		if sub.ID != want {
			t.Fatalf("expected id %d, got %d", want, sub.ID)
		}
		if !sub.IsActive || sub.IsClaimed {
			t.Fatalf("new records start active and unclaimed: %+v", sub)
		}
	}
	if !pub.published(domain.EventSubscriptionCreated) {
		t.Fatal("expected a created event")
	}
}

func TestCreate_ConcurrentCallsGetDistinctIDs(t *testing.T) {
	repo := &memRepo{}
	svc := newTestService(repo, nil)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Create(context.Background(), createRequest(userA, providerA)); err != nil {
				t.Errorf("Create returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, r := range repo.snapshot() {
		if seen[r.ID] {
			t.Fatalf("duplicate id %d", r.ID)
		}
		seen[r.ID] = true
	}
	if len(seen) != 25 {
		t.Fatalf("expected 25 records, got %d", len(seen))
	}
}

func TestCreate_InvalidRequestLeavesLedgerUntouched(t *testing.T) {
	repo := &memRepo{}
	svc := newTestService(repo, nil)

	req := createRequest(userA, "not-an-address")
	if _, err := svc.Create(context.Background(), req); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if repo.saves != 0 {
		t.Fatalf("expected no save, got %d", repo.saves)
	}
}

func TestListByUser_MatchesAddressCaseInsensitively(t *testing.T) {
	repo := &memRepo{records: []domain.Subscription{
		activeRecord(0, providerA, 1000),
		{ID: 1, User: providerB, Provider: providerA, Amount: "1", Duration: 1},
	}}
	svc := newTestService(repo, nil)

	got, err := svc.ListByUser(context.Background(), strings.ToLower(userA))
	if err != nil {
		t.Fatalf("ListByUser returned error: %v", err)
	}
	if len(got) != 1 || got[0].ID != 0 {
		t.Fatalf("expected record 0 only, got %+v", got)
	}

	none, err := svc.ListByUser(context.Background(), "0x0000000000000000000000000000000000000001")
	if err != nil || none == nil || len(none) != 0 {
		t.Fatalf("expected an empty, non-nil list, got %v %v", none, err)
	}

	if _, err := svc.ListByUser(context.Background(), ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for a missing user, got %v", err)
	}
}

func TestListClaimableByProvider(t *testing.T) {
	claimed := activeRecord(2, providerA, 1000)
	claimed.IsClaimed = true
	repo := &memRepo{records: []domain.Subscription{
		activeRecord(0, providerA, 1000),
		activeRecord(1, providerA, 1010),
		claimed,
		activeRecord(3, providerB, 1000),
	}}
	svc := newTestService(repo, nil)

	got, err := svc.ListClaimableByProvider(context.Background(), providerA, time.Unix(1030, 0))
	if err != nil {
		t.Fatalf("ListClaimableByProvider returned error: %v", err)
	}
	if len(got) != 1 || got[0].ID != 0 {
		t.Fatalf("expected only record 0 to be claimable at its end time, got %+v", got)
	}
}

func TestPatch(t *testing.T) {
	tests := []struct {
		name    string
		patch   func() domain.PatchSubscriptionRequest
		actor   string
		id      int64
		wantErr error
		check   func(t *testing.T, got domain.Subscription)
	}{
		{
			name: "claim marks renewal pending",
			patch: func() domain.PatchSubscriptionRequest {
				v := true
				return domain.PatchSubscriptionRequest{IsClaimed: &v}
			},
			check: func(t *testing.T, got domain.Subscription) {
				if !got.IsClaimed || got.IsActive || !got.RenewalPending {
					t.Fatalf("unexpected claimed record: %+v", got)
				}
			},
		},
		{
			name: "deactivate",
			patch: func() domain.PatchSubscriptionRequest {
				v := false
				return domain.PatchSubscriptionRequest{IsActive: &v}
			},
			check: func(t *testing.T, got domain.Subscription) {
				if got.IsActive || got.IsClaimed {
					t.Fatalf("unexpected record: %+v", got)
				}
			},
		},
		{
			name:    "unknown id",
			id:      99,
			patch:   func() domain.PatchSubscriptionRequest { return domain.PatchSubscriptionRequest{} },
			wantErr: domain.ErrNotFound,
		},
		{
			name:    "stranger",
			actor:   providerB,
			patch:   func() domain.PatchSubscriptionRequest { return domain.PatchSubscriptionRequest{} },
			wantErr: domain.ErrForbidden,
		},
		{
			name:  "provider may patch",
			actor: strings.ToLower(providerA),
			patch: func() domain.PatchSubscriptionRequest { return domain.PatchSubscriptionRequest{} },
			check: func(t *testing.T, got domain.Subscription) {
				if !got.IsActive {
					t.Fatalf("empty patch must not change the record: %+v", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &memRepo{records: []domain.Subscription{activeRecord(0, providerA, 1000)}}
			svc := newTestService(repo, nil)

			got, err := svc.Patch(context.Background(), tt.id, tt.patch(), tt.actor)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if repo.saves != 0 {
					t.Fatal("a rejected patch must not be saved")
				}
				return
			}
			if err != nil {
				t.Fatalf("Patch returned error: %v", err)
			}
			tt.check(t, got)
			if stored := repo.snapshot()[0]; stored.IsClaimed != got.IsClaimed || stored.IsActive != got.IsActive {
				t.Fatalf("stored record differs from the returned one: %+v", stored)
			}
		})
	}
}

func newTestActions(repo *memRepo, settlement SettlementClient, now int64) *Actions {
	logger := discardLogger()
	a := NewActions(store.NewLedger(repo, nil), settlement, NewEvents(nil, "", logger), metrics.New(), logger)
	a.now = fixedClock(now)
	return a
}

func TestActionsClaim(t *testing.T) {
	repo := &memRepo{records: []domain.Subscription{activeRecord(0, providerA, 1000)}}
	settlement := &settlementStub{}
	actions := newTestActions(repo, settlement, 1031)

	if _, err := actions.Claim(context.Background(), 0, userA); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected only the provider to claim, got %v", err)
	}

	got, err := actions.Claim(context.Background(), 0, providerA)
	if err != nil {
		t.Fatalf("Claim returned error: %v", err)
	}
	if !got.IsClaimed || got.IsActive || got.ClaimTx == "" || !got.RenewalPending {
		t.Fatalf("unexpected claimed record: %+v", got)
	}

	if _, err := actions.Claim(context.Background(), 0, providerA); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected a second claim to be rejected, got %v", err)
	}
	if settlement.count(opClaim) != 1 {
		t.Fatalf("expected one claim submission, got %d", settlement.count(opClaim))
	}
}

func TestActionsClaimBeforeEnd(t *testing.T) {
	repo := &memRepo{records: []domain.Subscription{activeRecord(0, providerA, 1000)}}
	settlement := &settlementStub{}
	actions := newTestActions(repo, settlement, 1029)

	if _, err := actions.Claim(context.Background(), 0, ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected not claimable, got %v", err)
	}
	if len(settlement.calls) != 0 {
		t.Fatal("no settlement may be attempted for an unclaimable record")
	}
}

func TestActionsCancel(t *testing.T) {
	repo := &memRepo{records: []domain.Subscription{activeRecord(0, providerA, 1000)}}
	settlement := &settlementStub{}
	actions := newTestActions(repo, settlement, 1010)

	got, err := actions.Cancel(context.Background(), 0, userA)
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if !got.IsCancelled || got.IsActive || got.CancelTx == "" {
		t.Fatalf("unexpected cancelled record: %+v", got)
	}
	if settlement.calls[0].party != userA || settlement.calls[0].amount != "1000" {
		t.Fatalf("expected a refund of 1000 to the user, got %+v", settlement.calls[0])
	}
}

func TestActionsCancelSettlementFailure(t *testing.T) {
	repo := &memRepo{records: []domain.Subscription{activeRecord(0, providerA, 1000)}}
	settlement := &settlementStub{failCancel: &settlementclient.Failure{Op: "cancel", Reason: "timeout", TxHash: "0xabc", Err: settlementclient.ErrTimeout}}
	actions := newTestActions(repo, settlement, 1010)

	_, err := actions.Cancel(context.Background(), 0, "")
	if !errors.Is(err, settlementclient.ErrTimeout) {
		t.Fatalf("expected the timeout to surface, got %v", err)
	}
	if rec := repo.snapshot()[0]; rec.IsCancelled || !rec.IsActive {
		t.Fatalf("ledger must not change without a confirmation: %+v", rec)
	}
}

// disconnectingSettlement drops the caller's request while the confirmation is pending.
// It only confirms when the context it was given outlives the request.
type disconnectingSettlement struct {
	*settlementStub
	disconnect context.CancelFunc
}

func (d disconnectingSettlement) waitForConfirmation(ctx context.Context) error {
	d.disconnect()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
		return nil
	}
}

func (d disconnectingSettlement) RequestCancel(ctx context.Context, user string, amount *big.Int) (*settlementclient.Confirmation, error) {
	if err := d.waitForConfirmation(ctx); err != nil {
		return nil, err
	}
	return d.settlementStub.RequestCancel(ctx, user, amount)
}

func (d disconnectingSettlement) RequestClaim(ctx context.Context, provider string, amount *big.Int) (*settlementclient.Confirmation, error) {
	if err := d.waitForConfirmation(ctx); err != nil {
		return nil, err
	}
	return d.settlementStub.RequestClaim(ctx, provider, amount)
}

func TestActionsOutliveDisconnectedCaller(t *testing.T) {
	tests := []struct {
		name  string
		now   int64
		act   func(a *Actions, ctx context.Context) (domain.Subscription, error)
		check func(s domain.Subscription) bool
	}{
		{
			name:  "cancel",
			now:   1010,
			act:   func(a *Actions, ctx context.Context) (domain.Subscription, error) { return a.Cancel(ctx, 0, userA) },
			check: func(s domain.Subscription) bool { return s.IsCancelled && !s.IsActive && s.CancelTx != "" },
		},
		{
			name:  "claim",
			now:   1031,
			act:   func(a *Actions, ctx context.Context) (domain.Subscription, error) { return a.Claim(ctx, 0, providerA) },
			check: func(s domain.Subscription) bool { return s.IsClaimed && !s.IsActive && s.ClaimTx != "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &memRepo{records: []domain.Subscription{activeRecord(0, providerA, 1000)}}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			settlement := disconnectingSettlement{settlementStub: &settlementStub{}, disconnect: cancel}
			actions := newTestActions(repo, settlement, tt.now)

			if _, err := tt.act(actions, ctx); err != nil {
				t.Fatalf("expected the confirmed settlement to be recorded, got %v", err)
			}
			if rec := repo.snapshot()[0]; !tt.check(rec) {
				t.Fatalf("ledger does not reflect the confirmed settlement: %+v", rec)
			}
		})
	}
}
