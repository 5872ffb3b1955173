package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Tahfiz Core API",
        "description": "Assignment lifecycle and highlight synchronization for Quran recitation schools",
        "version": "0.1.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Highlights", "description": "Mistake highlight CRUD"},
        {"name": "Assignments", "description": "Assignment lifecycle and completion cascade"},
        {"name": "Feed", "description": "Scoped change-feed streaming"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"}
                }
            }
        },
        "/highlights": {
            "get": {
                "tags": ["Highlights"],
                "summary": "List highlights (snapshot read)",
                "parameters": [
                    {"name": "student_id", "in": "query", "type": "string"},
                    {"name": "teacher_id", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Highlights"],
                "summary": "Mark a new mistake highlight",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateHighlightRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error"}
                }
            }
        },
        "/highlights/{id}": {
            "get": {
                "tags": ["Highlights"],
                "summary": "Get one highlight",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            },
            "patch": {
                "tags": ["Highlights"],
                "summary": "Edit an open highlight",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateHighlightRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Highlight is completed or changed concurrently"}
                }
            },
            "delete": {
                "tags": ["Highlights"],
                "summary": "Delete a highlight",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Deleted"}
                }
            }
        },
        "/assignments": {
            "post": {
                "tags": ["Assignments"],
                "summary": "Create an assignment",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateAssignmentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/assignments/{id}": {
            "get": {
                "tags": ["Assignments"],
                "summary": "Get one assignment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            },
            "delete": {
                "tags": ["Assignments"],
                "summary": "Delete an assignment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Deleted"}
                }
            }
        },
        "/assignments/{id}/transition": {
            "post": {
                "tags": ["Assignments"],
                "summary": "Move an assignment along the state graph",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/TransitionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Stale expected_from, re-read and retry"},
                    "422": {"description": "Edge not in the state graph"},
                    "500": {"description": "Completion cascade rolled back"}
                }
            }
        },
        "/assignments/{id}/highlights": {
            "get": {
                "tags": ["Assignments"],
                "summary": "List linked highlights",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Assignments"],
                "summary": "Attach highlights to an assignment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LinkHighlightsRequest"}}
                ],
                "responses": {
                    "200": {"description": "Link report", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Assignment is completed"}
                }
            }
        },
        "/assignments/{id}/complete": {
            "put": {
                "tags": ["Assignments"],
                "summary": "Complete an assignment and close linked highlights",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already completed or changed concurrently"},
                    "500": {"description": "Cascade rolled back"},
                    "503": {"description": "Lock acquisition timed out"}
                }
            }
        },
        "/assignments/{id}/reopen": {
            "post": {
                "tags": ["Assignments"],
                "summary": "Reopen a completed assignment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Assignment is not completed"}
                }
            }
        },
        "/assignments/{id}/highlights/revert": {
            "post": {
                "tags": ["Assignments"],
                "summary": "Restore pre-completion colors on a reopened assignment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Revert report", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Assignment is not reopened"}
                }
            }
        },
        "/assignments/{id}/events": {
            "get": {
                "tags": ["Assignments"],
                "summary": "List the assignment audit trail",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/assignments/{id}/events/export": {
            "get": {
                "tags": ["Assignments"],
                "summary": "Download the assignment audit trail as CSV",
                "produces": ["text/csv"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "CSV attachment"}
                }
            }
        },
        "/feed": {
            "get": {
                "tags": ["Feed"],
                "summary": "Subscribe to the change feed for one scope (SSE)",
                "parameters": [
                    {"name": "scope", "in": "query", "required": true, "type": "string", "enum": ["student", "teacher", "school"]},
                    {"name": "id", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "text/event-stream of change events"},
                    "403": {"description": "Scope outside the session boundary"}
                }
            }
        }
    },
    "definitions": {
        "CreateHighlightRequest": {
            "type": "object",
            "required": ["student_id", "script_id", "ayah_id", "mistake_type", "color"],
            "properties": {
                "student_id": {"type": "string"},
                "teacher_id": {"type": "string"},
                "script_id": {"type": "string"},
                "ayah_id": {"type": "integer"},
                "token_start": {"type": "integer"},
                "token_end": {"type": "integer"},
                "mistake_type": {"type": "string", "enum": ["recap", "tajweed", "haraka", "letter"]},
                "color": {"type": "string"}
            }
        },
        "UpdateHighlightRequest": {
            "type": "object",
            "properties": {
                "script_id": {"type": "string"},
                "ayah_id": {"type": "integer"},
                "token_start": {"type": "integer"},
                "token_end": {"type": "integer"},
                "mistake_type": {"type": "string"},
                "color": {"type": "string"}
            }
        },
        "CreateAssignmentRequest": {
            "type": "object",
            "required": ["student_id", "title", "due_at"],
            "properties": {
                "student_id": {"type": "string"},
                "title": {"type": "string"},
                "description": {"type": "string"},
                "due_at": {"type": "string", "format": "date-time"}
            }
        },
        "TransitionRequest": {
            "type": "object",
            "required": ["expected_from", "to"],
            "properties": {
                "expected_from": {"type": "string"},
                "to": {"type": "string"},
                "note": {"type": "string"}
            }
        },
        "LinkHighlightsRequest": {
            "type": "object",
            "required": ["highlight_ids"],
            "properties": {
                "highlight_ids": {"type": "array", "items": {"type": "string"}}
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
                "status": {"type": "integer"},
                "details": {"type": "object"}
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
