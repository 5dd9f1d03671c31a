// Package docs registers the OpenAPI description served at /docs.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "Bearer": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/api/v1/auth/salt/{username}": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Fetch the key derivation salt",
                "parameters": [{"type": "string", "name": "username", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "429": {"description": "Too Many Requests"}}
            }
        },
        "/api/v1/auth/register": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Register a new account",
                "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RegisterRequest"}}],
                "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}, "409": {"description": "Conflict"}}
            }
        },
        "/api/v1/auth/verify": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Log in with a proof of knowledge",
                "parameters": [
                    {"type": "string", "name": "X-Tenant-ID", "in": "header"},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/VerifyRequest"}}
                ],
                "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}, "403": {"description": "Forbidden"}, "429": {"description": "Too Many Requests"}}
            }
        },
        "/api/v1/auth/reset/request": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Request a password reset",
                "responses": {"202": {"description": "Accepted"}, "429": {"description": "Too Many Requests"}}
            }
        },
        "/api/v1/auth/reset/confirm": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Complete a password reset",
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "401": {"description": "Unauthorized"}}
            }
        },
        "/api/v1/auth/logout": {
            "post": {
                "security": [{"Bearer": []}],
                "tags": ["Authentication"],
                "summary": "Log out",
                "responses": {"204": {"description": "No Content"}, "401": {"description": "Unauthorized"}}
            }
        },
        "/api/v1/auth/csrf": {
            "get": {"tags": ["Authentication"], "summary": "Issue a CSRF token", "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/auth/artifacts/{name}": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Download a circuit artifact",
                "parameters": [{"type": "string", "name": "name", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/api/v1/roles": {
            "get": {"security": [{"Bearer": []}], "tags": ["Roles"], "summary": "List roles visible in the tenant", "responses": {"200": {"description": "OK"}}},
            "post": {
                "security": [{"Bearer": []}],
                "tags": ["Roles"],
                "summary": "Create a custom role",
                "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RoleRequest"}}],
                "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}, "409": {"description": "Conflict"}}
            }
        },
        "/api/v1/roles/provision": {
            "post": {"security": [{"Bearer": []}], "tags": ["Roles"], "summary": "Provision the predefined roles", "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/roles/{id}": {
            "get": {"security": [{"Bearer": []}], "tags": ["Roles"], "summary": "Get a role", "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}},
            "put": {"security": [{"Bearer": []}], "tags": ["Roles"], "summary": "Replace a custom role", "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}}},
            "delete": {"security": [{"Bearer": []}], "tags": ["Roles"], "summary": "Delete a custom role", "responses": {"204": {"description": "No Content"}, "409": {"description": "Conflict"}}}
        },
        "/api/v1/roles/{id}/assignments": {
            "post": {"security": [{"Bearer": []}], "tags": ["Roles"], "summary": "Assign a role to a user", "responses": {"201": {"description": "Created"}}}
        },
        "/api/v1/roles/{id}/assignments/{userId}": {
            "delete": {"security": [{"Bearer": []}], "tags": ["Roles"], "summary": "Remove a role from a user", "responses": {"204": {"description": "No Content"}}}
        },
        "/api/v1/permissions/check": {
            "post": {"security": [{"Bearer": []}], "tags": ["Permissions"], "summary": "Check the caller's permissions", "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/permissions/effective": {
            "get": {"security": [{"Bearer": []}], "tags": ["Permissions"], "summary": "List the caller's effective permissions", "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/users/{user}/lock": {
            "post": {"security": [{"Bearer": []}], "tags": ["Users"], "summary": "Lock an account", "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/users/{user}/unlock": {
            "post": {"security": [{"Bearer": []}], "tags": ["Users"], "summary": "Unlock an account", "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/users/{user}/assignments": {
            "get": {"security": [{"Bearer": []}], "tags": ["Users"], "summary": "List a user's role assignments", "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/audit": {
            "get": {"security": [{"Bearer": []}], "tags": ["Audit"], "summary": "List recent audit events of the tenant", "responses": {"200": {"description": "OK"}, "503": {"description": "Service Unavailable"}}}
        },
        "/.well-known/jwks.json": {
            "get": {"tags": ["Public"], "summary": "Retrieve JSON Web Key Set", "responses": {"200": {"description": "OK"}}}
        },
        "/healthz": {
            "get": {"tags": ["Health"], "summary": "Service health check", "responses": {"200": {"description": "OK"}}}
        },
        "/readyz": {
            "get": {"tags": ["Health"], "summary": "Readiness probe", "responses": {"200": {"description": "OK"}, "503": {"description": "Service Unavailable"}}}
        }
    },
    "definitions": {
        "RegisterRequest": {
            "type": "object",
            "required": ["username", "public_key", "salt"],
            "properties": {"username": {"type": "string"}, "public_key": {"type": "string"}, "salt": {"type": "string"}}
        },
        "VerifyRequest": {
            "type": "object",
            "required": ["username", "publicSignals"],
            "properties": {
                "username": {"type": "string"},
                "proof": {"type": "object"},
                "publicSignals": {"type": "array", "items": {"type": "string"}}
            }
        },
        "RoleRequest": {
            "type": "object",
            "required": ["name"],
            "properties": {
                "name": {"type": "string"},
                "description": {"type": "string"},
                "scope": {"type": "string", "enum": ["tenant", "site"]},
                "site_id": {"type": "string"},
                "acl_entries": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {"resource_type": {"type": "string"}, "action": {"type": "string"}, "resource_id": {"type": "string"}}
                    }
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "ZK Tenant IAM API",
	Description:      "Zero-knowledge login and multi-tenant role based access control.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
