package wallet

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// ChainParams are the fixed parameters of the chain tickets are paid on.
type ChainParams struct {
	ChainID        *big.Int
	Name           string
	RPCURL         string
	NativeCurrency NativeCurrency
	ExplorerURL    string
}

// AddChainRequest is the wallet_addEthereumChain (EIP-3085) parameter object.
type AddChainRequest struct {
	ChainID           string         `json:"chainId"`
	ChainName         string         `json:"chainName"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency"`
	RPCURLs           []string       `json:"rpcUrls"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls,omitempty"`
}

func TelosTestnet() ChainParams {
	return ChainParams{
		ChainID: big.NewInt(41),
		Name:    "Telos EVM Testnet",
		RPCURL:  "https://testnet.telos.net/evm",
		NativeCurrency: NativeCurrency{
			Name:     "Telos",
			Symbol:   "TLOS",
			Decimals: 18,
		},
		ExplorerURL: "https://testnet.teloscan.io/",
	}
}

// ChainIDHex returns the chain id as a 0x-prefixed quantity, e.g. "0x29".
func (c ChainParams) ChainIDHex() string {
	return hexutil.EncodeBig(c.ChainID)
}

// AddChainRequest returns what a browser wallet needs to switch to or add
// this chain.
func (c ChainParams) AddChainRequest() AddChainRequest {
	req := AddChainRequest{
		ChainID:        c.ChainIDHex(),
		ChainName:      c.Name,
		NativeCurrency: c.NativeCurrency,
		RPCURLs:        []string{c.RPCURL},
	}
	if c.ExplorerURL != "" {
		req.BlockExplorerURLs = []string{c.ExplorerURL}
	}
	return req
}

// TxURL links a transaction hash on the chain's explorer.
func (c ChainParams) TxURL(hash string) string {
	if c.ExplorerURL == "" {
		return ""
	}
	return strings.TrimSuffix(c.ExplorerURL, "/") + "/tx/" + hash
}
