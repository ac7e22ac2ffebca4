// Package bridge moves USDT0 between chains over the LayerZero OFT mesh and
// tracks message delivery through LayerZero Scan.
package bridge

import (
	"context"
	"errors"
	"math/big"
	"time"
)

// Pre-flight validation errors. They fire before any network call; once a
// send is submitted, failures are reported through the delivery errors below
// because funds may already have left the source chain.
var (
	ErrUnsupportedChain = errors.New("chain does not support USDT0 bridging")
	ErrSameChain        = errors.New("source and destination chains must differ")
	ErrInvalidAmount    = errors.New("bridge amount must be greater than zero")
)

// Post-submission errors.
var (
	// ErrMessageGUIDExtraction means the send transaction mined but the
	// OFTSent event was missing, leaving the transfer untrackable.
	ErrMessageGUIDExtraction = errors.New("OFTSent event not found in transaction receipt")

	// ErrMessageNotFound means Scan has not indexed the message yet.
	ErrMessageNotFound = errors.New("message not found")

	// ErrDeliveryTimeout means polling gave up. The message may still be in
	// flight; it is not evidence of failure.
	ErrDeliveryTimeout = errors.New("timeout waiting for message delivery")

	// ErrDeliveryFailed and ErrDeliveryBlocked are terminal Scan statuses.
	ErrDeliveryFailed  = errors.New("bridge message delivery failed")
	ErrDeliveryBlocked = errors.New("bridge message blocked by DVN")
)

// QuoteParams describes a transfer to be quoted.
type QuoteParams struct {
	FromChain string
	ToChain   string
	// Amount in token units (USDT0 has 6 decimals).
	Amount *big.Int
	// Recipient on the destination chain.
	Recipient string
}

// Quote is an ephemeral fee estimate. Re-fetch before sending if stale; Send
// always quotes internally.
type Quote struct {
	NativeFee          *big.Int
	AmountToSend       *big.Int
	MinAmountToReceive *big.Int
	EstimatedSeconds   int
	FromChain          string
	ToChain            string
}

// SendParams describes a transfer to execute.
type SendParams struct {
	QuoteParams
	// SlippageBps tolerance in basis points; DefaultSlippageBps when zero.
	SlippageBps int64
	// RefundAddress for excess native fee; defaults to the sender.
	RefundAddress string
}

// Result is the append-only evidence of a submitted transfer.
type Result struct {
	TxHash           string
	MessageGUID      string
	AmountSent       *big.Int
	AmountToReceive  *big.Int
	FromChain        string
	ToChain          string
	EstimatedSeconds int
}

// MessageStatus is the delivery state reported by LayerZero Scan.
type MessageStatus string

const (
	StatusInflight   MessageStatus = "INFLIGHT"
	StatusConfirming MessageStatus = "CONFIRMING"
	StatusDelivered  MessageStatus = "DELIVERED"
	StatusFailed     MessageStatus = "FAILED"
	StatusBlocked    MessageStatus = "BLOCKED"
)

// Message is a cross-chain message record from LayerZero Scan.
type Message struct {
	GUID           string        `json:"guid"`
	SrcEid         int           `json:"srcEid"`
	DstEid         int           `json:"dstEid"`
	SrcUaAddress   string        `json:"srcUaAddress"`
	DstUaAddress   string        `json:"dstUaAddress"`
	SrcTxHash      string        `json:"srcTxHash"`
	DstTxHash      string        `json:"dstTxHash,omitempty"`
	Status         MessageStatus `json:"status"`
	SrcBlockNumber int64         `json:"srcBlockNumber"`
	DstBlockNumber int64         `json:"dstBlockNumber,omitempty"`
	Created        string        `json:"created"`
	Updated        string        `json:"updated"`
}

// WaitOptions tunes WaitForDelivery polling.
type WaitOptions struct {
	Timeout        time.Duration
	PollInterval   time.Duration
	OnStatusChange func(status MessageStatus)
}

// sendParam mirrors the LayerZero SendParam tuple.
type sendParam struct {
	DstEid       uint32
	To           [32]byte
	AmountLD     *big.Int
	MinAmountLD  *big.Int
	ExtraOptions []byte
	ComposeMsg   []byte
	OftCmd       []byte
}

// MessagingFee mirrors the LayerZero MessagingFee tuple.
type MessagingFee struct {
	NativeFee  *big.Int
	LzTokenFee *big.Int
}

// TransactionLog is one event log from a send receipt.
type TransactionLog struct {
	Address string
	Topics  []string
	Data    string
}

// TransactionReceipt is a mined transaction with its logs.
type TransactionReceipt struct {
	Status          uint64
	TransactionHash string
	Logs            []TransactionLog
}

// Signer is the chain-access capability the bridge needs on the source
// chain.
type Signer interface {
	Address() string
	ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error)
	// WriteContract executes a transaction carrying value in native token.
	WriteContract(ctx context.Context, address string, abi []byte, functionName string, value *big.Int, args ...interface{}) (string, error)
	WaitForTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)
}

// RouteParams describes a cross-chain payment to route.
type RouteParams struct {
	SourceChain      string
	DestinationChain string
	Amount           *big.Int
	// PayTo is the eventual merchant recipient on the destination chain.
	PayTo string
	// Payer receives the bridged funds and pays from the destination chain.
	Payer       string
	SlippageBps int64
}

// RouteResult tracks a routed payment.
type RouteResult struct {
	BridgeTxHash           string
	MessageGUID            string
	AmountBridged          *big.Int
	EstimatedReceiveAmount *big.Int
	SourceChain            string
	DestinationChain       string
	EstimatedSeconds       int
}
