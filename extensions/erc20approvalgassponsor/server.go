package erc20approvalgassponsor

// DeclareErc20ApprovalGasSponsoringExtension builds the declaration a server
// includes in PaymentRequired.extensions. It advertises that the facilitator
// will broadcast a pre-signed approve(Permit2, amount) transaction for tokens
// without EIP-2612, and describes the info shape the client must populate.
func DeclareErc20ApprovalGasSponsoringExtension() map[string]interface{} {
	return map[string]interface{}{
		ERC20ApprovalGasSponsoring: Extension{
			Info: ServerInfo{
				Description: "The facilitator accepts a pre-signed ERC-20 approve(Permit2, amount) transaction to sponsor Permit2 allowance gas.",
				Version:     ERC20ApprovalGasSponsoringVersion,
			},
			Schema: infoSchema(),
		},
	}
}

func infoSchema() map[string]interface{} {
	property := func(pattern, description string) map[string]interface{} {
		return map[string]interface{}{
			"type":        "string",
			"pattern":     pattern,
			"description": description,
		}
	}

	return map[string]interface{}{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"properties": map[string]interface{}{
			"from":              property(addressPattern.String(), "The token owner signing the approval."),
			"asset":             property(addressPattern.String(), "The ERC-20 token contract."),
			"spender":           property(addressPattern.String(), "The approved spender (canonical Permit2)."),
			"amount":            property(numericPattern.String(), "The approval amount as a uint256 decimal string."),
			"signedTransaction": property(hexPattern.String(), "The RLP-encoded signed approve transaction, 0x-prefixed."),
			"version":           property(versionPattern.String(), "Schema version identifier."),
		},
		"required": []string{
			"from", "asset", "spender", "amount", "signedTransaction", "version",
		},
	}
}
