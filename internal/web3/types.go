package web3

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Confirmation describes how far an already-submitted payout transaction has
// progressed from the router's point of view. A failed or timed-out receipt
// lookup degrades to ConfirmationUnknown, never to an error.
type Confirmation string

const (
	ConfirmationConfirmed Confirmation = "confirmed"
	ConfirmationPending   Confirmation = "pending"
	ConfirmationUnknown   Confirmation = "unknown"
)

// TransferProof captures an ERC-20 Transfer event observed inside a mined
// transaction. From is the actual transaction sender recovered from the
// transaction itself, not inferred from the caller.
type TransferProof struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}

// Network pins the parameters of the one supported settlement network.
type Network struct {
	Name          string
	ChainID       int64
	RPCURL        string
	Token         common.Address
	TokenSymbol   string
	TokenDecimals uint8
}

// Celo Sepolia testnet with the USDm demo stablecoin. These are fixed
// constants of the demo deployment; chain.yaml may override the RPC endpoint.
const (
	CeloSepoliaChainID = 11142220
	CeloSepoliaRPCURL  = "https://forno.celo-sepolia.celo-testnet.org"
	CeloSepoliaUSDM    = "0xdE9e4C3ce781b4bA68120d6261cbad65ce0aB00b"
)

// CeloSepolia returns the default settlement network definition.
func CeloSepolia() Network {
	return Network{
		Name:          "celo-sepolia",
		ChainID:       CeloSepoliaChainID,
		RPCURL:        CeloSepoliaRPCURL,
		Token:         common.HexToAddress(CeloSepoliaUSDM),
		TokenSymbol:   "USDm",
		TokenDecimals: 18,
	}
}

// Gateway defines the chain capabilities the settlement protocol relies on.
// Implementations must honour the passed context for cancellation; bounded
// waits are the caller's responsibility via context deadlines.
type Gateway interface {
	// TokenBalance reads the ERC-20 balance of owner in base units.
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)

	// TransferToken submits an ERC-20 transfer signed with the given key and
	// returns the transaction hash. It does not wait for inclusion.
	TransferToken(ctx context.Context, token common.Address, key *ecdsa.PrivateKey, to common.Address, amount *big.Int) (common.Hash, error)

	// WaitForTransfer blocks until txHash is mined (or ctx expires) and
	// verifies the receipt contains a Transfer of at least minAmount of token
	// to the expected recipient.
	WaitForTransfer(ctx context.Context, txHash common.Hash, token, to common.Address, minAmount *big.Int) (*TransferProof, error)

	// HasReceipt reports whether a receipt for txHash is retrievable yet.
	HasReceipt(ctx context.Context, txHash common.Hash) (bool, error)

	Close()
}
