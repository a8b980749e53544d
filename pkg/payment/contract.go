package payment

import (
	"context"

	"github.com/nuwa-protocol/subrav-go/pkg/model"
)

// ContractClient is the narrow slice of the payment-channel contract (spec
// §4.8) the billing processor needs to read channel and sub-channel state.
// pkg/blockchain's adapter implements this; tests use a hand-written fake.
type ContractClient interface {
	GetChannelInfo(ctx context.Context, channelID string) (*model.ChannelInfo, error)
	IsSubChannelAuthorized(ctx context.Context, channelID, vmIDFragment string) (bool, error)
}
