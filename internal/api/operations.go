package api

import (
	"net/http"

	"github.com/google/jsonschema-go/jsonschema"
)

type operationInfo struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Domain      string             `json:"domain"`
	Schema      *jsonschema.Schema `json:"schema,omitempty"`
}

// handleOperations exposes the dispatchable operation catalogue so
// clients can discover what the assistant is allowed to do.
func (s *Server) handleOperations(w http.ResponseWriter, _ *http.Request) {
	specs := s.registry.Catalogue()
	infos := make([]operationInfo, 0, len(specs))
	for _, spec := range specs {
		infos = append(infos, operationInfo{
			Name:        spec.Name,
			Description: spec.Description,
			Domain:      string(spec.Domain),
			Schema:      spec.Schema,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"operations": infos}, s.logger)
}
