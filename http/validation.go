package http

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Embedded JSON Schemas for the facilitator request bodies. Validation runs
// at the network boundary, before any unmarshal into wire types, so malformed
// requests fail with a field-level message instead of a decode error.
const verifySettleRequestSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["t402Version", "paymentPayload", "paymentRequirements"],
	"properties": {
		"t402Version": {
			"type": "integer",
			"minimum": 1
		},
		"paymentPayload": {
			"type": "object",
			"required": ["t402Version", "payload"],
			"properties": {
				"t402Version": {"type": "integer", "minimum": 1},
				"payload": {"type": "object"},
				"accepted": {"type": "object"},
				"resource": {
					"type": "object",
					"required": ["url"],
					"properties": {
						"url": {"type": "string"},
						"description": {"type": "string"},
						"mimeType": {"type": "string"}
					}
				},
				"extensions": {"type": "object"}
			}
		},
		"paymentRequirements": {
			"type": "object",
			"required": ["scheme", "network", "asset", "payTo"],
			"properties": {
				"scheme": {"type": "string", "minLength": 1},
				"network": {"type": "string", "pattern": "^[-a-z0-9]{3,8}:[-_a-zA-Z0-9]{1,32}$"},
				"asset": {"type": "string", "minLength": 1},
				"amount": {"type": "string", "pattern": "^[0-9]+$"},
				"maxAmount": {"type": "string", "pattern": "^[0-9]+$"},
				"minAmount": {"type": "string", "pattern": "^[0-9]+$"},
				"payTo": {"type": "string", "minLength": 1},
				"maxTimeoutSeconds": {"type": "integer", "minimum": 0},
				"extra": {"type": "object"}
			}
		}
	}
}`

var requestSchema = gojsonschema.NewStringLoader(verifySettleRequestSchema)

// ValidateVerifyRequest checks a /verify request body against the schema.
func ValidateVerifyRequest(body []byte) error {
	return validateRequestBody(body, "verify")
}

// ValidateSettleRequest checks a /settle request body against the schema.
// Verify and settle share a body shape.
func ValidateSettleRequest(body []byte) error {
	return validateRequestBody(body, "settle")
}

func validateRequestBody(body []byte, endpoint string) error {
	result, err := gojsonschema.Validate(requestSchema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid %s request: %w", endpoint, err)
	}
	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, resultError := range result.Errors() {
		messages = append(messages, resultError.String())
	}
	return fmt.Errorf("invalid %s request: %s", endpoint, strings.Join(messages, "; "))
}
