package mcp

// Tool inputs. Field names match the JSON schemas registered with the MCP
// server.

// GetBalanceInput queries one network.
type GetBalanceInput struct {
	Address string `json:"address"`
	Network string `json:"network"`
}

// GetAllBalancesInput queries every supported network.
type GetAllBalancesInput struct {
	Address string `json:"address"`
}

// PayInput executes a direct stablecoin transfer.
type PayInput struct {
	To      string `json:"to"`
	Amount  string `json:"amount"`
	Token   string `json:"token"`
	Network string `json:"network"`
}

// PayGaslessInput executes an ERC-4337 transfer with sponsored gas.
type PayGaslessInput struct {
	To      string `json:"to"`
	Amount  string `json:"amount"`
	Token   string `json:"token"`
	Network string `json:"network"`
}

// GetBridgeFeeInput quotes a USDT0 bridge transfer.
type GetBridgeFeeInput struct {
	FromChain string `json:"fromChain"`
	ToChain   string `json:"toChain"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
}

// BridgeInput executes a USDT0 bridge transfer.
type BridgeInput struct {
	FromChain string `json:"fromChain"`
	ToChain   string `json:"toChain"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
}

// BridgeStatusInput tracks a bridge message by its LayerZero GUID.
type BridgeStatusInput struct {
	MessageGUID string `json:"messageGuid"`
}

// Tool results, rendered to markdown before being returned to the agent.

// BalanceInfo is one token balance on one network.
type BalanceInfo struct {
	Token   string `json:"token"`
	Balance string `json:"balance"`
	Raw     string `json:"raw"`
}

// NetworkBalance holds every balance found on one network. Error is set when
// the network could not be queried; the other fields are then empty.
type NetworkBalance struct {
	Network string        `json:"network"`
	Native  BalanceInfo   `json:"native"`
	Tokens  []BalanceInfo `json:"tokens"`
	Error   string        `json:"error,omitempty"`
}

// PaymentResult describes a completed (or simulated) transfer.
type PaymentResult struct {
	TxHash      string `json:"txHash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	Token       string `json:"token"`
	Network     string `json:"network"`
	ExplorerURL string `json:"explorerUrl"`
	DemoMode    bool   `json:"demoMode,omitempty"`
}

// GaslessPaymentResult describes a completed ERC-4337 transfer.
type GaslessPaymentResult struct {
	TxHash      string `json:"txHash"`
	UserOpHash  string `json:"userOpHash"`
	Network     string `json:"network"`
	Amount      string `json:"amount"`
	Token       string `json:"token"`
	To          string `json:"to"`
	ExplorerURL string `json:"explorerUrl"`
	Paymaster   string `json:"paymaster,omitempty"`
}

// BridgeFeeResult is a rendered bridge fee quote.
type BridgeFeeResult struct {
	NativeFee     string `json:"nativeFee"`
	NativeSymbol  string `json:"nativeSymbol"`
	FromChain     string `json:"fromChain"`
	ToChain       string `json:"toChain"`
	Amount        string `json:"amount"`
	EstimatedTime int    `json:"estimatedTime"`
}

// BridgeResult describes a submitted (or simulated) bridge transfer.
type BridgeResult struct {
	TxHash        string `json:"txHash"`
	MessageGUID   string `json:"messageGuid"`
	FromChain     string `json:"fromChain"`
	ToChain       string `json:"toChain"`
	Amount        string `json:"amount"`
	ExplorerURL   string `json:"explorerUrl"`
	TrackingURL   string `json:"trackingUrl"`
	EstimatedTime int    `json:"estimatedTime"`
	DemoMode      bool   `json:"demoMode,omitempty"`
}

// BridgeStatusResult is the tracked state of an in-flight bridge message.
type BridgeStatusResult struct {
	MessageGUID string `json:"messageGuid"`
	Status      string `json:"status"`
	SrcTxHash   string `json:"srcTxHash"`
	DstTxHash   string `json:"dstTxHash,omitempty"`
	TrackingURL string `json:"trackingUrl"`
}
