package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Immigration DMS API",
        "description": "Application status workflow and document management system synchronisation.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [
        {"BearerAuth": []}
    ],
    "tags": [
        {"name": "Applications", "description": "Application records"},
        {"name": "Workflow", "description": "Status transitions"},
        {"name": "Documents", "description": "Uploads, versions and signed downloads"},
        {"name": "Sync", "description": "External document management system reconciliation"},
        {"name": "Metrics", "description": "Process counters"}
    ],
    "paths": {
        "/applications": {
            "get": {
                "tags": ["Applications"],
                "summary": "List applications visible to the caller",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "type", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "post": {
                "tags": ["Applications"],
                "summary": "Open a draft application",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateApplicationRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/applications/{id}": {
            "get": {
                "tags": ["Applications"],
                "summary": "Get an application",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "delete": {
                "tags": ["Applications"],
                "summary": "Archive an application",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "version", "in": "query", "required": true, "type": "integer"}
                ],
                "responses": {"204": {"description": "Archived"}, "409": {"description": "Stale version"}}
            }
        },
        "/applications/{id}/form": {
            "put": {
                "tags": ["Applications"],
                "summary": "Replace application form data",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateFormDataRequest"}}
                ],
                "responses": {"200": {"description": "OK"}, "409": {"description": "Stale version or terminal status"}}
            }
        },
        "/applications/{id}/transitions": {
            "get": {
                "tags": ["Workflow"],
                "summary": "List statuses the caller may move the application to",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "tags": ["Workflow"],
                "summary": "Change application status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/TransitionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Incomplete form data"},
                    "403": {"description": "Role may not request this status"},
                    "409": {"description": "Transition not allowed or stale version"}
                }
            }
        },
        "/applications/{id}/documents": {
            "get": {
                "tags": ["Documents"],
                "summary": "List documents of an application",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "history", "in": "query", "type": "boolean"}
                ],
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "tags": ["Documents"],
                "summary": "Upload a document for an application",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "documentType", "in": "formData", "type": "string"},
                    {"name": "replaces", "in": "formData", "type": "string"},
                    {"name": "file", "in": "formData", "required": true, "type": "file"}
                ],
                "responses": {"201": {"description": "Created"}, "400": {"description": "Rejected upload"}}
            }
        },
        "/documents/{id}": {
            "get": {
                "tags": ["Documents"],
                "summary": "Get document metadata with a signed download link",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK"}}
            },
            "delete": {
                "tags": ["Documents"],
                "summary": "Soft delete a document",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"204": {"description": "Deleted"}}
            }
        },
        "/documents/{id}/download": {
            "get": {
                "tags": ["Documents"],
                "summary": "Download document content via signed token",
                "security": [],
                "produces": ["application/octet-stream"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "token", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {"200": {"description": "File"}, "401": {"description": "Invalid or expired token"}}
            }
        },
        "/documents/{id}/resync": {
            "post": {
                "tags": ["Documents"],
                "summary": "Flag a synced document for re-upload on the next push",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"202": {"description": "Accepted"}}
            }
        },
        "/sync/systems/{system}": {
            "post": {
                "tags": ["Sync"],
                "summary": "Run a sync action against one external system",
                "parameters": [
                    {"name": "system", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SyncTriggerRequest"}}
                ],
                "responses": {
                    "200": {"description": "Run finished", "schema": {"$ref": "#/definitions/SyncTriggerResponse"}},
                    "409": {"description": "Another run holds the lease", "schema": {"$ref": "#/definitions/SyncErrorResponse"}},
                    "502": {"description": "External system unavailable", "schema": {"$ref": "#/definitions/SyncErrorResponse"}},
                    "503": {"description": "Transient network failure", "schema": {"$ref": "#/definitions/SyncErrorResponse"}}
                }
            }
        },
        "/sync/status": {
            "get": {
                "tags": ["Sync"],
                "summary": "Last run and lease state of every external system",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/sync/systems/{system}/status": {
            "get": {
                "tags": ["Sync"],
                "summary": "Last run and lease state of one external system",
                "parameters": [{"name": "system", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Unknown system"}}
            }
        },
        "/sync/systems/{system}/logs": {
            "get": {
                "tags": ["Sync"],
                "summary": "List sync runs of one system",
                "parameters": [
                    {"name": "system", "in": "path", "required": true, "type": "string"},
                    {"name": "action", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/sync/systems/{system}/logs/export": {
            "post": {
                "tags": ["Sync"],
                "summary": "Render sync runs as CSV or PDF behind a signed link",
                "parameters": [
                    {"name": "system", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {"201": {"description": "Created"}}
            }
        },
        "/sync/logs/{id}": {
            "get": {
                "tags": ["Sync"],
                "summary": "Get one sync run with its item results",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}
            }
        },
        "/sync/exports/{token}": {
            "get": {
                "tags": ["Sync"],
                "summary": "Download a rendered sync log export",
                "security": [],
                "parameters": [{"name": "token", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "File"}}
            }
        },
        "/metrics/snapshot": {
            "get": {
                "tags": ["Metrics"],
                "summary": "Aggregated counters for dashboards",
                "responses": {"200": {"description": "OK"}}
            }
        }
    },
    "definitions": {
        "CreateApplicationRequest": {
            "type": "object",
            "required": ["applicationType"],
            "properties": {
                "applicantId": {"type": "string"},
                "applicationType": {"type": "string"},
                "priority": {"type": "string", "enum": ["low", "normal", "high", "urgent", "emergency"]},
                "formData": {"type": "object"},
                "expiryDate": {"type": "string", "format": "date"}
            }
        },
        "UpdateFormDataRequest": {
            "type": "object",
            "required": ["version", "formData"],
            "properties": {
                "version": {"type": "integer"},
                "formData": {"type": "object"}
            }
        },
        "TransitionRequest": {
            "type": "object",
            "required": ["status", "version"],
            "properties": {
                "status": {"type": "string"},
                "version": {"type": "integer"},
                "reason": {"type": "string"}
            }
        },
        "SyncTriggerRequest": {
            "type": "object",
            "required": ["action"],
            "properties": {
                "action": {"type": "string", "enum": ["push", "pull", "full_sync", "status"]},
                "scope": {
                    "type": "object",
                    "properties": {"documentIds": {"type": "array", "items": {"type": "string"}}}
                },
                "since": {"type": "string", "format": "date-time"},
                "options": {
                    "type": "object",
                    "properties": {
                        "dryRun": {"type": "boolean"},
                        "conflictResolution": {"type": "string", "enum": ["local_wins", "remote_wins", "manual"]}
                    }
                }
            }
        },
        "SyncTriggerResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "action": {"type": "string"},
                "result": {"type": "object"},
                "timestamp": {"type": "string", "format": "date-time"}
            }
        },
        "SyncErrorResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "error": {"type": "string"},
                "message": {"type": "string"},
                "timestamp": {"type": "string", "format": "date-time"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
