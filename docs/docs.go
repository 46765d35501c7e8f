// Package docs registers the OpenAPI description served under /swagger.
// Keep it in step with the @Router annotations in internal/handlers.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/auctions/{auctionId}/winner": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Settle a pending proposal as the winner of an ended auction. Only the auction owner may call it.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auctions"],
                "summary": "Select an auction winner",
                "parameters": [
                    {"type": "string", "description": "Auction ID", "name": "auctionId", "in": "path", "required": true},
                    {"description": "Winning proposal", "name": "request", "in": "body", "required": true,
                        "schema": {"$ref": "#/definitions/handlers.selectWinnerRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.ResolutionResult"}},
                    "400": {"description": "Invalid request or auction not resolvable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "403": {"description": "Not the auction owner", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Auction not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Auction already resolved or being resolved", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "502": {"description": "Ledger unavailable, transaction queued", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Circuit open, see Retry-After", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/auctions/{auctionId}/rejections": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Reject pending proposals and release their escrow. Proposals that are no longer pending are skipped.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auctions"],
                "summary": "Reject proposals",
                "parameters": [
                    {"type": "string", "description": "Auction ID", "name": "auctionId", "in": "path", "required": true},
                    {"description": "Proposals to reject", "name": "request", "in": "body", "required": true,
                        "schema": {"$ref": "#/definitions/handlers.rejectProposalsRequest"}}
                ],
                "responses": {
                    "200": {"description": "Rejected and confirmed by the ledger", "schema": {"$ref": "#/definitions/models.RejectionResult"}},
                    "202": {"description": "Rejected, ledger confirmation queued", "schema": {"$ref": "#/definitions/models.RejectionResult"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "403": {"description": "Not the auction owner", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Auction not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Auction is being resolved", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/auctions/{auctionId}/auto-select": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Pick and settle the best eligible proposal without waiting for the sweeper.",
                "produces": ["application/json"],
                "tags": ["auctions"],
                "summary": "Auto-select a winner",
                "parameters": [
                    {"type": "string", "description": "Auction ID", "name": "auctionId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.ResolutionResult"}},
                    "400": {"description": "No proposal could be settled", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "403": {"description": "Not the auction owner", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Auction already resolved", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Circuit open, see Retry-After", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/settlement/health": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Recovery queue depth and circuit breaker states",
                "produces": ["application/json"],
                "tags": ["settlement"],
                "summary": "Settlement health",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.settlementHealth"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "kind": {"type": "string"},
                "details": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        },
        "handlers.selectWinnerRequest": {
            "type": "object",
            "required": ["proposalId"],
            "properties": {
                "proposalId": {"type": "string"}
            }
        },
        "handlers.rejectProposalsRequest": {
            "type": "object",
            "required": ["proposalIds"],
            "properties": {
                "proposalIds": {"type": "array", "minItems": 1, "maxItems": 100, "items": {"type": "string"}},
                "reason": {"type": "string", "maxLength": 500}
            }
        },
        "handlers.settlementHealth": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["healthy", "degraded"]},
                "queue": {"$ref": "#/definitions/models.QueueStatus"},
                "breakers": {"type": "array", "items": {"$ref": "#/definitions/breaker.Snapshot"}}
            }
        },
        "breaker.Snapshot": {
            "type": "object",
            "properties": {
                "operationClass": {"type": "string"},
                "state": {"type": "string", "enum": ["closed", "open", "half-open"]},
                "consecutiveFailures": {"type": "integer"},
                "openedAt": {"type": "string", "format": "date-time"}
            }
        },
        "models.QueueStatus": {
            "type": "object",
            "properties": {
                "total": {"type": "integer"},
                "byOperationType": {"type": "object", "additionalProperties": {"type": "integer"}},
                "oldestCreatedAt": {"type": "string", "format": "date-time"},
                "oldestAgeNanos": {"type": "integer"}
            }
        },
        "models.LedgerReceipt": {
            "type": "object",
            "properties": {
                "transactionId": {"type": "string"},
                "confirmationTimestamp": {"type": "string", "format": "date-time"}
            }
        },
        "models.AuctionSettings": {
            "type": "object",
            "properties": {
                "endDate": {"type": "string", "format": "date-time"},
                "allowBookingProposals": {"type": "boolean"},
                "allowCashProposals": {"type": "boolean"},
                "minimumCashOffer": {"type": "string", "example": "100.00"},
                "autoSelectAfterHours": {"type": "integer"}
            }
        },
        "models.Auction": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "ownerId": {"type": "string"},
                "swapId": {"type": "string"},
                "sourceBookingId": {"type": "string"},
                "status": {"type": "string"},
                "settings": {"$ref": "#/definitions/models.AuctionSettings"},
                "winningProposalId": {"type": "string"},
                "updatedAt": {"type": "string", "format": "date-time"}
            }
        },
        "models.CashOffer": {
            "type": "object",
            "properties": {
                "amount": {"type": "string", "example": "250.00"},
                "currency": {"type": "string", "example": "USD"},
                "paymentMethodId": {"type": "string"},
                "escrowRequired": {"type": "boolean"},
                "escrowAccountId": {"type": "string"}
            }
        },
        "models.AuctionProposal": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "auctionId": {"type": "string"},
                "proposerId": {"type": "string"},
                "proposalType": {"type": "string", "enum": ["booking", "cash"]},
                "bookingId": {"type": "string"},
                "cashOffer": {"$ref": "#/definitions/models.CashOffer"},
                "status": {"type": "string"},
                "createdAt": {"type": "string", "format": "date-time"},
                "updatedAt": {"type": "string", "format": "date-time"}
            }
        },
        "models.ResolutionResult": {
            "type": "object",
            "properties": {
                "auction": {"$ref": "#/definitions/models.Auction"},
                "winningProposal": {"$ref": "#/definitions/models.AuctionProposal"},
                "ledgerReceipt": {"$ref": "#/definitions/models.LedgerReceipt"}
            }
        },
        "models.RejectionResult": {
            "type": "object",
            "properties": {
                "rejected": {"type": "array", "items": {"type": "string"}},
                "skipped": {"type": "array", "items": {"type": "string"}},
                "ledgerReceipt": {"$ref": "#/definitions/models.LedgerReceipt"},
                "queued": {"type": "boolean"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Auction Settlement API",
	Description:      "Winner selection, proposal rejection and settlement health for swap auctions",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
