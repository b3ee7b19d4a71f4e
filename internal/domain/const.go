package domain

const (
	// Blockchain constants
	ETHEREUM_ZERO_ADDRESS = "0x0000000000000000000000000000000000000000"

	// Sale event emitted by the marketplace contract
	SALE_EVENT_SIGNATURE = "NFTSold(uint256,address,address,uint256)"

	// ERC721 transfer event
	TRANSFER_EVENT_SIGNATURE = "Transfer(address,address,uint256)"

	// Native currency decimals used to present wei prices
	NATIVE_CURRENCY_DECIMALS = 18

	// Prefix of synthetic transaction ids written by the ownership syncer
	OWNERSHIP_SYNC_TX_PREFIX = "autosync:"
)
