// Package web3 defines the chain gateway contract used by the settlement and
// reconciliation layers: reading ERC-20 balances, submitting ERC-20 transfers
// from an operator key, and verifying that a transaction carried a matching
// Transfer event. Concrete implementations live in subpackages (currently the
// go-ethereum client under web3/ethereum); everything above this package
// treats the chain as a capability, not a dependency.
package web3
