// Package watchlist registers the Swagger document served under /swagger/.
package watchlist

import "github.com/swaggo/swag"

const docTemplate = `{
	"schemes": {{ marshal .Schemes }},
	"swagger": "2.0",
	"info": {
		"description": "{{escape .Description}}",
		"title": "{{.Title}}",
		"contact": {
			"name": "AussieBroadWAN Team",
			"url": "https://github.com/aussiebroadwan/watchlist"
		},
		"license": {
			"name": "MIT",
			"url": "https://opensource.org/licenses/MIT"
		},
		"version": "{{.Version}}"
	},
	"host": "{{.Host}}",
	"basePath": "{{.BasePath}}",
	"paths": {
		"/livez": {
			"get": {
				"description": "Always 200 while the process is serving.",
				"produces": [
					"application/json"
				],
				"tags": [
					"Health"
				],
				"summary": "Liveness probe",
				"responses": {
					"200": {
						"description": "status, uptime, version",
						"schema": {
							"$ref": "#/definitions/authsdk.HealthResponse"
						}
					}
				}
			}
		},
		"/readyz": {
			"get": {
				"description": "Checks the user store. The identity provider is reported by name only.",
				"produces": [
					"application/json"
				],
				"tags": [
					"Health"
				],
				"summary": "Readiness probe",
				"responses": {
					"200": {
						"description": "status, uptime, version, checks",
						"schema": {
							"$ref": "#/definitions/authsdk.HealthResponse"
						}
					},
					"503": {
						"description": "service not ready",
						"schema": {
							"$ref": "#/definitions/authsdk.HealthResponse"
						}
					}
				}
			}
		},
		"/v1/auth/login": {
			"get": {
				"description": "Registers a CSRF state and returns the identity provider authorization URL.\nWith redirect=1 the user agent is sent there directly with a 302.",
				"produces": [
					"application/json"
				],
				"tags": [
					"Auth"
				],
				"summary": "Start a login",
				"parameters": [
					{
						"type": "string",
						"description": "Local path or allowed http(s) URL to return to (default /)",
						"name": "return_url",
						"in": "query"
					},
					{
						"type": "string",
						"description": "Caller-chosen CSRF state",
						"name": "state",
						"in": "query"
					},
					{
						"type": "string",
						"description": "PKCE challenge",
						"name": "code_challenge",
						"in": "query"
					},
					{
						"type": "string",
						"description": "PKCE method",
						"name": "code_challenge_method",
						"in": "query",
						"enum": [
							"S256"
						]
					},
					{
						"type": "string",
						"description": "Respond with a 302 instead of JSON",
						"name": "redirect",
						"in": "query",
						"enum": [
							"1"
						]
					}
				],
				"responses": {
					"200": {
						"description": "authorization_url, state",
						"schema": {
							"$ref": "#/definitions/authsdk.LoginResponse"
						}
					},
					"302": {
						"description": "Found"
					},
					"400": {
						"description": "error, error_description",
						"schema": {
							"$ref": "#/definitions/authsdk.APIError"
						}
					},
					"500": {
						"description": "error, error_description",
						"schema": {
							"$ref": "#/definitions/authsdk.APIError"
						}
					}
				}
			}
		},
		"/v1/auth/callback": {
			"get": {
				"description": "Consumes the CSRF state, exchanges the authorization code with the identity provider and returns a session token.",
				"produces": [
					"application/json"
				],
				"tags": [
					"Auth"
				],
				"summary": "Complete a login",
				"parameters": [
					{
						"type": "string",
						"description": "Authorization code",
						"name": "code",
						"in": "query",
						"required": true
					},
					{
						"type": "string",
						"description": "CSRF state from the login",
						"name": "state",
						"in": "query",
						"required": true
					},
					{
						"type": "string",
						"description": "PKCE verifier (client-side PKCE only)",
						"name": "code_verifier",
						"in": "query"
					}
				],
				"responses": {
					"200": {
						"description": "token, refresh_token, expires_in, principal, return_url",
						"schema": {
							"$ref": "#/definitions/authsdk.SessionResponse"
						},
						"headers": {
							"Cache-Control": {
								"type": "string",
								"description": "no-store"
							}
						}
					},
					"400": {
						"description": "invalid_state, pkce_validation_failed",
						"schema": {
							"$ref": "#/definitions/authsdk.APIError"
						}
					},
					"401": {
						"description": "auth_failed",
						"schema": {
							"$ref": "#/definitions/authsdk.APIError"
						}
					},
					"503": {
						"description": "temporarily_unavailable",
						"schema": {
							"$ref": "#/definitions/authsdk.APIError"
						}
					}
				}
			}
		},
		"/v1/auth/refresh": {
			"post": {
				"description": "Trades a refresh token for a new session token. Not every identity provider supports this.",
				"consumes": [
					"application/x-www-form-urlencoded"
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"Auth"
				],
				"summary": "Refresh a session",
				"parameters": [
					{
						"type": "string",
						"description": "Refresh token from the callback",
						"name": "refresh_token",
						"in": "formData",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "token, refresh_token, expires_in, principal",
						"schema": {
							"$ref": "#/definitions/authsdk.SessionResponse"
						}
					},
					"400": {
						"description": "invalid_request",
						"schema": {
							"$ref": "#/definitions/authsdk.APIError"
						}
					},
					"401": {
						"description": "auth_failed",
						"schema": {
							"$ref": "#/definitions/authsdk.APIError"
						}
					},
					"501": {
						"description": "unsupported_operation",
						"schema": {
							"$ref": "#/definitions/authsdk.APIError"
						}
					},
					"503": {
						"description": "temporarily_unavailable",
						"schema": {
							"$ref": "#/definitions/authsdk.APIError"
						}
					}
				}
			}
		},
		"/v1/auth/me": {
			"get": {
				"security": [
					{
						"BearerAuth": []
					}
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"Auth"
				],
				"summary": "Current principal",
				"responses": {
					"200": {
						"description": "subject, email, names, is_admin",
						"schema": {
							"$ref": "#/definitions/authsdk.Principal"
						}
					},
					"401": {
						"description": "invalid_token",
						"schema": {
							"$ref": "#/definitions/authsdk.APIError"
						}
					},
					"503": {
						"description": "temporarily_unavailable",
						"schema": {
							"$ref": "#/definitions/authsdk.APIError"
						}
					}
				}
			}
		},
		"/v1/auth/logout": {
			"post": {
				"security": [
					{
						"BearerAuth": []
					}
				],
				"description": "Forgets the session token and returns the identity provider logout URL when there is one.",
				"consumes": [
					"application/x-www-form-urlencoded"
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"Auth"
				],
				"summary": "End a session",
				"parameters": [
					{
						"type": "string",
						"description": "Where the provider should send the user agent afterwards",
						"name": "redirect_uri",
						"in": "formData"
					}
				],
				"responses": {
					"200": {
						"description": "logout_url",
						"schema": {
							"$ref": "#/definitions/authsdk.LogoutResponse"
						}
					},
					"400": {
						"description": "unsafe_return_url",
						"schema": {
							"$ref": "#/definitions/authsdk.APIError"
						}
					},
					"401": {
						"description": "invalid_token",
						"schema": {
							"$ref": "#/definitions/authsdk.APIError"
						}
					}
				}
			}
		},
		"/v1/auth/cache/stats": {
			"get": {
				"security": [
					{
						"BearerAuth": []
					}
				],
				"description": "Validation cache and CSRF state store counters. Requires admin.",
				"produces": [
					"application/json"
				],
				"tags": [
					"Auth"
				],
				"summary": "Cache statistics",
				"responses": {
					"200": {
						"description": "provider, cache, states",
						"schema": {
							"$ref": "#/definitions/authsdk.CacheStatsResponse"
						}
					},
					"401": {
						"description": "invalid_token",
						"schema": {
							"$ref": "#/definitions/authsdk.APIError"
						}
					},
					"403": {
						"description": "insufficient_scope",
						"schema": {
							"$ref": "#/definitions/authsdk.APIError"
						}
					}
				}
			}
		},
		"/v1/users": {
			"get": {
				"security": [
					{
						"BearerAuth": []
					}
				],
				"description": "Every user that has logged in, most recent login first. Requires admin.",
				"produces": [
					"application/json"
				],
				"tags": [
					"Users"
				],
				"summary": "List users",
				"responses": {
					"200": {
						"description": "users",
						"schema": {
							"$ref": "#/definitions/authsdk.UsersResponse"
						}
					},
					"401": {
						"description": "invalid_token",
						"schema": {
							"$ref": "#/definitions/authsdk.APIError"
						}
					},
					"403": {
						"description": "insufficient_scope",
						"schema": {
							"$ref": "#/definitions/authsdk.APIError"
						}
					}
				}
			}
		},
		"/v1/users/{subject}/admin": {
			"post": {
				"security": [
					{
						"BearerAuth": []
					}
				],
				"description": "Changes take effect on the user's next request. The last admin cannot be demoted. Requires admin.",
				"consumes": [
					"application/json"
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"Users"
				],
				"summary": "Grant or revoke admin",
				"parameters": [
					{
						"type": "string",
						"description": "Provider subject",
						"name": "subject",
						"in": "path",
						"required": true
					},
					{
						"description": "New admin flag",
						"name": "request",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/authsdk.SetAdminRequest"
						}
					}
				],
				"responses": {
					"200": {
						"description": "updated user",
						"schema": {
							"$ref": "#/definitions/authsdk.UserResponse"
						}
					},
					"400": {
						"description": "invalid_request",
						"schema": {
							"$ref": "#/definitions/authsdk.APIError"
						}
					},
					"403": {
						"description": "insufficient_scope",
						"schema": {
							"$ref": "#/definitions/authsdk.APIError"
						}
					},
					"404": {
						"description": "not_found",
						"schema": {
							"$ref": "#/definitions/authsdk.APIError"
						}
					},
					"409": {
						"description": "last_admin",
						"schema": {
							"$ref": "#/definitions/authsdk.APIError"
						}
					}
				}
			}
		}
	},
	"definitions": {
		"authsdk.APIError": {
			"type": "object",
			"properties": {
				"error": {
					"type": "string"
				},
				"error_description": {
					"type": "string"
				}
			}
		},
		"authsdk.CacheStats": {
			"type": "object",
			"properties": {
				"evictions": {
					"type": "integer"
				},
				"hit_rate": {
					"type": "number"
				},
				"hits": {
					"type": "integer"
				},
				"max_size": {
					"type": "integer"
				},
				"misses": {
					"type": "integer"
				},
				"size": {
					"type": "integer"
				},
				"validations": {
					"type": "integer"
				}
			}
		},
		"authsdk.CacheStatsResponse": {
			"type": "object",
			"properties": {
				"cache": {
					"$ref": "#/definitions/authsdk.CacheStats"
				},
				"provider": {
					"type": "string"
				},
				"states": {
					"$ref": "#/definitions/authsdk.StateStats"
				}
			}
		},
		"authsdk.HealthChecks": {
			"type": "object",
			"properties": {
				"database": {
					"type": "string"
				},
				"provider": {
					"type": "string"
				}
			}
		},
		"authsdk.HealthResponse": {
			"type": "object",
			"properties": {
				"checks": {
					"$ref": "#/definitions/authsdk.HealthChecks"
				},
				"status": {
					"type": "string"
				},
				"uptime": {
					"type": "string"
				},
				"version": {
					"type": "string"
				}
			}
		},
		"authsdk.LoginResponse": {
			"type": "object",
			"properties": {
				"authorization_url": {
					"type": "string"
				},
				"state": {
					"type": "string"
				}
			}
		},
		"authsdk.LogoutResponse": {
			"type": "object",
			"properties": {
				"logout_url": {
					"type": "string"
				}
			}
		},
		"authsdk.Principal": {
			"type": "object",
			"properties": {
				"email": {
					"type": "string"
				},
				"family_name": {
					"type": "string"
				},
				"given_name": {
					"type": "string"
				},
				"is_admin": {
					"type": "boolean"
				},
				"subject": {
					"type": "string"
				}
			}
		},
		"authsdk.SessionResponse": {
			"type": "object",
			"properties": {
				"expires_in": {
					"type": "integer"
				},
				"principal": {
					"$ref": "#/definitions/authsdk.Principal"
				},
				"refresh_token": {
					"type": "string"
				},
				"return_url": {
					"type": "string"
				},
				"token": {
					"type": "string"
				}
			}
		},
		"authsdk.SetAdminRequest": {
			"type": "object",
			"properties": {
				"admin": {
					"type": "boolean"
				}
			}
		},
		"authsdk.StateStats": {
			"type": "object",
			"properties": {
				"max_size": {
					"type": "integer"
				},
				"pending": {
					"type": "integer"
				}
			}
		},
		"authsdk.UserResponse": {
			"type": "object",
			"properties": {
				"email": {
					"type": "string"
				},
				"family_name": {
					"type": "string"
				},
				"first_seen_at": {
					"type": "string"
				},
				"given_name": {
					"type": "string"
				},
				"id": {
					"type": "string"
				},
				"is_admin": {
					"type": "boolean"
				},
				"last_login_at": {
					"type": "string"
				},
				"provider_admin": {
					"type": "boolean"
				},
				"subject": {
					"type": "string"
				}
			}
		},
		"authsdk.UsersResponse": {
			"type": "object",
			"properties": {
				"users": {
					"type": "array",
					"items": {
						"$ref": "#/definitions/authsdk.UserResponse"
					}
				}
			}
		}
	},
	"securityDefinitions": {
		"BearerAuth": {
			"description": "Session token from the callback. Format: \"Bearer {token}\".",
			"type": "apiKey",
			"name": "Authorization",
			"in": "header"
		}
	}
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "Watchlist Auth API",
	Description:      "Delegated login for watchlist. Identity is verified by an external OpenID Connect or BarTab provider;\nthis service keeps CSRF states for outstanding logins and caches validated session tokens.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
