package openapi

func envelopeSchema(dataSchema map[string]any) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code": map[string]any{"type": "integer"},
			"err":  map[string]any{"type": "string"},
			"data": dataSchema,
		},
		"required": []string{"code"},
	}
}

func ref(name string) map[string]any {
	return map[string]any{"$ref": "#/components/schemas/" + name}
}

func arrayOf(item map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": item}
}

func jsonContent(schema map[string]any) map[string]any {
	return map[string]any{"application/json": map[string]any{"schema": schema}}
}

func okResponse(desc string, data map[string]any) map[string]any {
	return map[string]any{"description": desc, "content": jsonContent(envelopeSchema(data))}
}

func jsonBody(schema map[string]any) map[string]any {
	return map[string]any{"required": true, "content": jsonContent(schema)}
}

func pathParam(name, typ string) map[string]any {
	return map[string]any{"name": name, "in": "path", "required": true, "schema": map[string]any{"type": typ}}
}

func queryParam(name, typ, desc string) map[string]any {
	return map[string]any{"name": name, "in": "query", "required": false, "description": desc, "schema": map[string]any{"type": typ}}
}

func str(enum ...string) map[string]any {
	s := map[string]any{"type": "string"}
	if len(enum) > 0 {
		s["enum"] = enum
	}
	return s
}

var (
	orgParam  = pathParam("orgId", "string")
	ruleParam = pathParam("ruleId", "integer")
)

// Spec returns the OpenAPI 3 document for the alerts HTTP API. It is kept by
// hand next to the router.
func Spec() map[string]any {
	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "AdsX alerts API",
			"version": "0.1.0",
		},
		"paths": map[string]any{
			"/healthz": map[string]any{
				"get": map[string]any{
					"tags":        []string{"system"},
					"summary":     "Health check",
					"operationId": "healthz",
					"responses":   map[string]any{"200": map[string]any{"description": "OK"}},
				},
			},
			"/metrics": map[string]any{
				"get": map[string]any{
					"tags":        []string{"system"},
					"summary":     "Prometheus metrics",
					"operationId": "metrics",
					"responses":   map[string]any{"200": map[string]any{"description": "Prometheus text exposition"}},
				},
			},
			"/api/status": map[string]any{
				"get": map[string]any{
					"tags":        []string{"system"},
					"summary":     "Get system status",
					"operationId": "getSystemStatus",
					"responses":   map[string]any{"200": okResponse("Status", ref("SystemStatus"))},
				},
			},
			"/api/{orgId}/changes": map[string]any{
				"post": map[string]any{
					"tags":        []string{"ingest"},
					"summary":     "Submit one change event or an array of them",
					"operationId": "submitChanges",
					"parameters":  []any{orgParam},
					"requestBody": jsonBody(map[string]any{
						"oneOf": []any{ref("ChangeEvent"), arrayOf(ref("ChangeEvent"))},
					}),
					"responses": map[string]any{
						"202": okResponse("Accepted", map[string]any{
							"type": "object",
							"properties": map[string]any{
								"accepted": map[string]any{"type": "integer"},
								"ids":      arrayOf(str()),
							},
						}),
						"400": map[string]any{"description": "Invalid event or organization mismatch"},
						"413": map[string]any{"description": "Body or batch too large"},
						"503": map[string]any{"description": "Queue unavailable"},
					},
				},
			},
			"/api/{orgId}/rules": map[string]any{
				"get": map[string]any{
					"tags":        []string{"rules"},
					"summary":     "List notification rules",
					"operationId": "listRules",
					"parameters":  []any{orgParam},
					"responses": map[string]any{"200": okResponse("Rules", map[string]any{
						"type":       "object",
						"properties": map[string]any{"items": arrayOf(ref("Rule"))},
					})},
				},
				"post": map[string]any{
					"tags":        []string{"rules"},
					"summary":     "Create a notification rule",
					"operationId": "createRule",
					"parameters":  []any{orgParam},
					"requestBody": jsonBody(ref("RuleInput")),
					"responses": map[string]any{
						"200": okResponse("Created", ref("Rule")),
						"400": map[string]any{"description": "Validation failed"},
						"409": map[string]any{"description": "Rule name already used in this organization"},
					},
				},
			},
			"/api/{orgId}/rules/{ruleId}": map[string]any{
				"get": map[string]any{
					"tags":        []string{"rules"},
					"summary":     "Get a notification rule",
					"operationId": "getRule",
					"parameters":  []any{orgParam, ruleParam},
					"responses": map[string]any{
						"200": okResponse("Rule", ref("Rule")),
						"404": map[string]any{"description": "Not found"},
					},
				},
				"put": map[string]any{
					"tags":        []string{"rules"},
					"summary":     "Replace a notification rule; flushes buffered digest entries if digesting ends",
					"operationId": "updateRule",
					"parameters":  []any{orgParam, ruleParam},
					"requestBody": jsonBody(ref("RuleInput")),
					"responses": map[string]any{
						"200": okResponse("Updated", ref("Rule")),
						"400": map[string]any{"description": "Validation failed"},
						"404": map[string]any{"description": "Not found"},
					},
				},
				"delete": map[string]any{
					"tags":        []string{"rules"},
					"summary":     "Delete a rule and discard its buffered digest entries",
					"operationId": "deleteRule",
					"parameters":  []any{orgParam, ruleParam},
					"responses": map[string]any{
						"200": okResponse("Deleted", map[string]any{
							"type": "object",
							"properties": map[string]any{
								"deleted":                map[string]any{"type": "boolean"},
								"discardedDigestEntries": map[string]any{"type": "integer"},
							},
						}),
						"404": map[string]any{"description": "Not found"},
					},
				},
			},
			"/api/{orgId}/rules/{ruleId}/test": map[string]any{
				"post": map[string]any{
					"tags":        []string{"rules"},
					"summary":     "Evaluate a change event against a rule without side effects",
					"operationId": "testRule",
					"parameters":  []any{orgParam, ruleParam, queryParam("at", "string", "RFC 3339 evaluation time")},
					"requestBody": jsonBody(ref("ChangeEvent")),
					"responses": map[string]any{
						"200": okResponse("Preview", ref("RuleTestResult")),
						"404": map[string]any{"description": "Not found"},
					},
				},
			},
			"/api/{orgId}/rules/{ruleId}/digest": map[string]any{
				"get": map[string]any{
					"tags":        []string{"digest"},
					"summary":     "Digest buffer status for a rule",
					"operationId": "getDigestStatus",
					"parameters":  []any{orgParam, ruleParam},
					"responses":   map[string]any{"200": okResponse("Digest status", ref("DigestStatus"))},
				},
			},
			"/api/{orgId}/rules/{ruleId}/digest/flush": map[string]any{
				"post": map[string]any{
					"tags":        []string{"digest"},
					"summary":     "Flush a rule's digest buffer now",
					"operationId": "flushDigest",
					"parameters":  []any{orgParam, ruleParam},
					"responses": map[string]any{
						"200": okResponse("Flushed", map[string]any{
							"type":       "object",
							"properties": map[string]any{"flushed": map[string]any{"type": "boolean"}},
						}),
						"409": map[string]any{"description": "Rule does not use a digest mode"},
					},
				},
			},
			"/api/{orgId}/deliveries": map[string]any{
				"get": map[string]any{
					"tags":        []string{"deliveries"},
					"summary":     "List recent notification deliveries",
					"operationId": "listDeliveries",
					"parameters": []any{
						orgParam,
						queryParam("ruleId", "integer", "Only deliveries of this rule"),
						queryParam("status", "string", "pending, sent or failed"),
						queryParam("limit", "integer", "Max rows (default 50, max 500)"),
					},
					"responses": map[string]any{"200": okResponse("Deliveries", map[string]any{
						"type":       "object",
						"properties": map[string]any{"items": arrayOf(ref("Delivery"))},
					})},
				},
			},
		},
		"components": map[string]any{
			"schemas": map[string]any{
				"SystemStatus": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"status":   str("running", "maintenance", "degraded"),
						"message":  str(),
						"problems": arrayOf(str()),
						"stats":    map[string]any{"type": "object"},
					},
				},
				"ChangeEvent": map[string]any{
					"type":     "object",
					"required": []string{"platform", "adAccountId", "changeType", "resourceType", "severity"},
					"properties": map[string]any{
						"id":             str(),
						"organizationId": str(),
						"platform":       str("meta", "google"),
						"adAccountId":    str(),
						"changeType":     str(),
						"resourceType":   str(),
						"resourceId":     str(),
						"resourceName":   str(),
						"severity":       str("critical", "warning", "info"),
						"beforeValue":    map[string]any{"type": "object"},
						"afterValue":     map[string]any{"type": "object"},
						"detectedAt":     map[string]any{"type": "string", "format": "date-time"},
					},
				},
				"RuleConditions": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"platforms":     arrayOf(str()),
						"adAccountIds":  arrayOf(str()),
						"changeTypes":   arrayOf(str()),
						"resourceTypes": arrayOf(str()),
						"severity":      arrayOf(str("critical", "warning", "info")),
						"statusChanges": arrayOf(str()),
						"budgetChange": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"operator": str("greater_than", "less_than", "equals"),
								"value":    map[string]any{"type": "number"},
							},
						},
					},
				},
				"RuleInput": map[string]any{
					"type":     "object",
					"required": []string{"name"},
					"properties": map[string]any{
						"name":               str(),
						"isActive":           map[string]any{"type": "boolean"},
						"priority":           str("low", "normal", "high"),
						"conditions":         ref("RuleConditions"),
						"slackChannel":       str(),
						"emailRecipients":    arrayOf(str()),
						"webhookUrl":         str(),
						"quietHoursStart":    str(),
						"quietHoursEnd":      str(),
						"quietHoursTimezone": str(),
						"digestMode":         str("none", "hourly", "daily"),
						"digestTime":         str(),
					},
				},
				"Rule": map[string]any{
					"allOf": []any{
						ref("RuleInput"),
						map[string]any{
							"type": "object",
							"properties": map[string]any{
								"id":             map[string]any{"type": "integer"},
								"organizationId": str(),
								"nextDigestAt":   map[string]any{"type": "string", "format": "date-time"},
								"flushedDigestEntries": map[string]any{
									"type":        "integer",
									"description": "Entries released as a final digest when an update ended digesting",
								},
								"createdAt":      map[string]any{"type": "string", "format": "date-time"},
								"updatedAt":      map[string]any{"type": "string", "format": "date-time"},
							},
						},
					},
				},
				"Decision": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"action":     str("deliver_immediately", "enqueue_for_digest", "suppress"),
						"ruleId":     map[string]any{"type": "integer"},
						"digestMode": str("hourly", "daily"),
					},
				},
				"RuleTestResult": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"matched":      map[string]any{"type": "boolean"},
						"inQuietHours": map[string]any{"type": "boolean"},
						"evaluatedAt":  map[string]any{"type": "string", "format": "date-time"},
						"decision":     ref("Decision"),
					},
				},
				"DigestStatus": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"ruleId":        map[string]any{"type": "integer"},
						"digestMode":    str("none", "hourly", "daily"),
						"pending":       map[string]any{"type": "integer"},
						"nextDigestAt":  map[string]any{"type": "string", "format": "date-time"},
						"lastFlushedAt": map[string]any{"type": "string", "format": "date-time"},
						"lastCount":     map[string]any{"type": "integer"},
					},
				},
				"Delivery": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":              map[string]any{"type": "integer"},
						"organization_id": str(),
						"rule_id":         map[string]any{"type": "integer"},
						"channel_type":    str("slack", "email", "webhook"),
						"target":          str(),
						"kind":            str("single", "digest"),
						"event_count":     map[string]any{"type": "integer"},
						"title":           str(),
						"content":         str(),
						"payload":         map[string]any{"type": "object"},
						"status":          str("pending", "sent", "failed"),
						"attempts":        map[string]any{"type": "integer"},
						"next_attempt_at": map[string]any{"type": "string", "format": "date-time"},
						"last_error":      str(),
						"created_at":      map[string]any{"type": "string", "format": "date-time"},
						"updated_at":      map[string]any{"type": "string", "format": "date-time"},
					},
				},
			},
		},
	}
}
