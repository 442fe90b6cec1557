// Package types holds the persistent domain records shared by the store,
// monitor, sweeper and registrar.
package types

import "fmt"

// DepositStatus tracks a deposit through its lifecycle. Rows move from
// detected to swept and never backwards.
type DepositStatus string

const (
	// StatusDetected marks a deposit observed on chain but not yet forwarded.
	StatusDetected DepositStatus = "detected"
	// StatusSwept marks a deposit whose funds were forwarded to the treasury.
	StatusSwept DepositStatus = "swept"
)

// Token type labels used in webhook payloads and transfer verification.
const (
	TokenTypeNative = "native"
	TokenTypeErc20  = "erc20"
)

// UnknownTokenSymbol marks deposits whose token contract could not be read.
// Deposits carrying it are settled without an on-chain transfer.
const UnknownTokenSymbol = "UNKNOWN"

// Account binds an opaque registration id to a derived deposit address.
type Account struct {
	RegistrationID  string `json:"registration_id"`
	DerivationIndex uint32 `json:"derivation_index"`
	Address         string `json:"address"`
	WebhookURL      string `json:"webhook_url"`
}

// NativeDeposit is a native-currency transfer to a registered address,
// keyed by its transaction hash.
type NativeDeposit struct {
	TxHash         string        `json:"tx_hash"`
	RegistrationID string        `json:"registration_id"`
	Amount         string        `json:"amount"` // wei, decimal string
	Status         DepositStatus `json:"status"`
}

// Erc20Deposit is an ERC-20 Transfer to a registered address. Two transfers
// within one transaction are distinct deposits, so the row is keyed by
// transaction hash and log index together.
type Erc20Deposit struct {
	TxHash         string        `json:"tx_hash"`
	LogIndex       uint          `json:"log_index"`
	RegistrationID string        `json:"registration_id"`
	Amount         string        `json:"amount"` // token units, decimal string
	TokenAddress   string        `json:"token_address"`
	TokenSymbol    string        `json:"token_symbol"`
	Status         DepositStatus `json:"status"`
}

// Key returns the storage key "{tx_hash}:{log_index}" for the deposit.
func (d *Erc20Deposit) Key() string {
	return fmt.Sprintf("%s:%d", d.TxHash, d.LogIndex)
}

// TokenMetadata caches the on-chain identity of an ERC-20 contract.
type TokenMetadata struct {
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	Name     string `json:"name"`
}
