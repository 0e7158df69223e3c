package api

type routeDoc struct {
	Path    string
	Summary string
	Params  []string
	Query   []string
	Public  bool
}

// apiRoutes lists the GET routes registered in Handler.
var apiRoutes = []routeDoc{
	{Path: "/healthz", Summary: "Service health and dispatcher counters", Public: true},
	{Path: "/conditions", Summary: "Conditions across all layers"},
	{Path: "/conditions/{depth}", Summary: "Conditions of one layer", Params: []string{"depth"}},
	{Path: "/invocations", Summary: "Recent journaled invocations, newest first", Query: []string{"limit"}},
	{Path: "/invocations/{id}", Summary: "One journaled invocation", Params: []string{"id"}},
	{Path: "/events", Summary: "Server-sent dispatcher events", Query: []string{"type", "depth", "condition"}},
	{Path: "/openapi.json", Summary: "This document"},
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for routes.
func buildOpenAPIDoc(routes []routeDoc) map[string]any {
	paths := map[string]any{}
	for _, rt := range routes {
		operation := map[string]any{
			"summary": rt.Summary,
			"responses": map[string]any{
				"200": map[string]any{"description": "OK"},
			},
		}
		if !rt.Public {
			operation["security"] = []any{map[string]any{"BearerAuth": []string{}}}
			operation["responses"].(map[string]any)["401"] = map[string]any{"description": "Missing or invalid API key"}
		}
		if len(rt.Params)+len(rt.Query) > 0 {
			params := make([]any, 0, len(rt.Params)+len(rt.Query))
			for _, p := range rt.Params {
				params = append(params, map[string]any{
					"name":     p,
					"in":       "path",
					"required": true,
					"schema":   map[string]any{"type": "string"},
				})
			}
			for _, p := range rt.Query {
				params = append(params, map[string]any{
					"name":   p,
					"in":     "query",
					"schema": map[string]any{"type": "string"},
				})
			}
			operation["parameters"] = params
		}
		paths[rt.Path] = map[string]any{"get": operation}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "intertalk",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}
