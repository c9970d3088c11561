package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const problemTypeBase = "https://damsafe.io/problems/"

// ProblemType returns the RFC 7807 type URI for an HTTP status.
func ProblemType(status int) string {
	return fmt.Sprintf("%s%d", problemTypeBase, status)
}

// writeProblem writes an RFC 7807 body without depending on the api package.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, detail string) error {
	problem := map[string]any{
		"type":          ProblemType(status),
		"title":         http.StatusText(status),
		"status":        status,
		"detail":        detail,
		"instance":      r.URL.Path,
		"correlationId": GetCorrelationID(r.Context()),
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(problem)
}
