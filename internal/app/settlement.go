package app

import (
	"context"
	"errors"
	"math/big"

	"github.com/locallum/blockchain-subscription-service/internal/metrics"
	"github.com/locallum/blockchain-subscription-service/pkg/settlementclient"
)

// SettlementClient defines the on-chain operations the service and the scheduler need.
type SettlementClient interface {
	RequestSubscribe(ctx context.Context, provider string, amount *big.Int, metadata []byte) (*settlementclient.Confirmation, error)
	RequestClaim(ctx context.Context, provider string, amount *big.Int) (*settlementclient.Confirmation, error)
	RequestCancel(ctx context.Context, user string, amount *big.Int) (*settlementclient.Confirmation, error)
}

const (
	opSubscribe = "subscribe"
	opClaim     = "claim"
	opCancel    = "cancel"
)

func settlementOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeConfirmed
	case errors.Is(err, settlementclient.ErrReverted):
		return metrics.OutcomeReverted
	case errors.Is(err, settlementclient.ErrTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, settlementclient.ErrSubmit):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeError
	}
}

// failureTx returns the hash of a submitted but unconfirmed transaction, if any.
func failureTx(err error) string {
	var failure *settlementclient.Failure
	if errors.As(err, &failure) {
		return failure.TxHash
	}
	return ""
}
