package ethereum

import (
	"context"
	"time"

	"github.com/feral-file/ff-sales-reconciler/internal/block"
)

// ethereumBlockFetcher implements block.BlockFetcher on top of the retried client
type ethereumBlockFetcher struct {
	client EthereumClient
}

func NewEthereumBlockFetcher(client EthereumClient) block.BlockFetcher {
	return &ethereumBlockFetcher{client: client}
}

// FetchLatestBlock fetches the latest block number from Ethereum
func (f *ethereumBlockFetcher) FetchLatestBlock(ctx context.Context) (uint64, error) {
	return f.client.LatestBlock(ctx)
}

// FetchBlockTimestamp fetches the timestamp for a given block number from Ethereum
func (f *ethereumBlockFetcher) FetchBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	return f.client.BlockTimestamp(ctx, blockNumber)
}
