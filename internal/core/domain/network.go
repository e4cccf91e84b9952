package domain

import "fmt"

type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// DataSource selects the block source variant.
type DataSource string

const (
	DataSourceLake     DataSource = "NEAR_LAKE"
	DataSourceFastNear DataSource = "FAST_NEAR"
)

// NetworkParams holds per-network constants.
type NetworkParams struct {
	GenesisHeight    uint64
	GenesisTimestamp uint64
	RPCURL           string
	LakeBucket       string
	LakeRegion       string
}

// NetworkParamsByName maps a network to its constants.
var NetworkParamsByName = map[Network]NetworkParams{
	NetworkMainnet: {
		GenesisHeight:    9820210,
		GenesisTimestamp: 1595350551591948000,
		RPCURL:           "https://archival-rpc.mainnet.near.org",
		LakeBucket:       "near-lake-data-mainnet",
		LakeRegion:       "eu-central-1",
	},
	NetworkTestnet: {
		GenesisHeight:    42376888,
		GenesisTimestamp: 1596166782911378000,
		RPCURL:           "https://archival-rpc.testnet.near.org",
		LakeBucket:       "near-lake-data-testnet",
		LakeRegion:       "eu-central-1",
	},
}

// ParamsFor returns the constants for a network.
func ParamsFor(n Network) (NetworkParams, error) {
	p, ok := NetworkParamsByName[n]
	if !ok {
		return NetworkParams{}, fmt.Errorf("unknown network %q", n)
	}
	return p, nil
}
