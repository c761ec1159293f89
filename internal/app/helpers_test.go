package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/locallum/blockchain-subscription-service/internal/domain"
	"github.com/locallum/blockchain-subscription-service/internal/store"
	"github.com/locallum/blockchain-subscription-service/pkg/settlementclient"
)

const (
	userA     = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
	providerA = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	providerB = "0x90F79bf6EB2c4f870365E785982E1f101E93b906"
)

type memRepo struct {
	mu      sync.Mutex
	records []domain.Subscription
	saveErr error
	saves   int
}

func (m *memRepo) Load(ctx context.Context) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Subscription, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *memRepo) Save(ctx context.Context, records []domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.records = make([]domain.Subscription, len(records))
	copy(m.records, records)
	return nil
}

func (m *memRepo) snapshot() []domain.Subscription {
	out, _ := m.Load(context.Background())
	return out
}

type settlementCall struct {
	op       string
	party    string
	amount   string
	metadata []byte
}

type settlementStub struct {
	mu         sync.Mutex
	calls      []settlementCall
	failClaim  map[string]error
	failRenew  error
	failCancel error
	seq        int
}

func (s *settlementStub) confirm(op, party string, amount *big.Int, metadata []byte) *settlementclient.Confirmation {
	s.calls = append(s.calls, settlementCall{op: op, party: party, amount: amount.String(), metadata: metadata})
	s.seq++
	return &settlementclient.Confirmation{TxHash: op + "-tx-" + strconv.Itoa(s.seq), BlockNumber: uint64(s.seq)}
}

func (s *settlementStub) RequestSubscribe(ctx context.Context, provider string, amount *big.Int, metadata []byte) (*settlementclient.Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRenew != nil {
		s.calls = append(s.calls, settlementCall{op: opSubscribe, party: provider, amount: amount.String(), metadata: metadata})
		return nil, s.failRenew
	}
	return s.confirm(opSubscribe, provider, amount, metadata), nil
}

func (s *settlementStub) RequestClaim(ctx context.Context, provider string, amount *big.Int) (*settlementclient.Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failClaim[provider]; err != nil {
		s.calls = append(s.calls, settlementCall{op: opClaim, party: provider, amount: amount.String()})
		return nil, err
	}
	return s.confirm(opClaim, provider, amount, nil), nil
}

func (s *settlementStub) RequestCancel(ctx context.Context, user string, amount *big.Int) (*settlementclient.Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCancel != nil {
		return nil, s.failCancel
	}
	return s.confirm(opCancel, user, amount, nil), nil
}

func (s *settlementStub) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

type publisherStub struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return p.err
}

func (p *publisherStub) published(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range p.keys {
		if k == key {
			return true
		}
	}
	return false
}

type busyLocker struct{}

func (busyLocker) Lock(ctx context.Context) (func(context.Context) error, error) {
	return nil, store.ErrLockBusy
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock(unix int64) func() time.Time {
	return func() time.Time { return time.Unix(unix, 0) }
}

var errChainDown = &settlementclient.Failure{Op: "claim", Reason: "connection refused", Err: settlementclient.ErrUnavailable}

var errReverted = &settlementclient.Failure{Op: "subscribe", Reason: "transaction reverted on-chain", TxHash: "0xdead", Err: settlementclient.ErrReverted}

var errSaveFailed = errors.New("disk full")
