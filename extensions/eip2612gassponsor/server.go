package eip2612gassponsor

// DeclareEip2612GasSponsoringExtension builds the declaration a server
// includes in PaymentRequired.extensions. It advertises that the facilitator
// submits EIP-2612 permits granting Permit2 an allowance, and describes the
// info shape the client must populate.
func DeclareEip2612GasSponsoringExtension() map[string]interface{} {
	return map[string]interface{}{
		EIP2612GasSponsoring: Extension{
			Info: ServerInfo{
				Description: "The facilitator accepts EIP-2612 gasless Permit to `Permit2` canonical contract.",
				Version:     "1",
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
			"from":      property(addressPattern.String(), "The token owner signing the permit."),
			"asset":     property(addressPattern.String(), "The ERC-20 token contract."),
			"spender":   property(addressPattern.String(), "The permitted spender (canonical Permit2)."),
			"amount":    property(numericPattern.String(), "The allowance as a uint256 decimal string, typically MaxUint256."),
			"nonce":     property(numericPattern.String(), "The owner's current EIP-2612 nonce."),
			"deadline":  property(numericPattern.String(), "The unix timestamp the permit expires at."),
			"signature": property(hexPattern.String(), "The 65-byte r||s||v permit signature, 0x-prefixed."),
			"version":   property(versionPattern.String(), "Schema version identifier."),
		},
		"required": []string{
			"from", "asset", "spender", "amount", "nonce", "deadline", "signature", "version",
		},
	}
}
