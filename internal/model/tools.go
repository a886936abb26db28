package model

import (
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/ops"
)

// DefineOperationTools registers one Genkit tool per catalogue operation so
// the model sees their names, descriptions and argument schemas.
//
// The tool bodies are never invoked: generation runs with
// WithReturnToolRequests, and dispatch happens in the ops registry. Each
// body still returns a sentinel error so a wiring regression is loud.
func DefineOperationTools(g *genkit.Genkit, catalogue []ops.Spec) ([]ai.Tool, error) {
	tools := make([]ai.Tool, 0, len(catalogue))
	for _, spec := range catalogue {
		desc := spec.Description

		var tool ai.Tool
		switch spec.Name {
		case ops.OpCreateInvoice:
			tool = genkit.DefineTool(g, spec.Name, desc, stub[ops.CreateInvoiceArgs](spec.Name))
		case ops.OpUpdateInvoice:
			tool = genkit.DefineTool(g, spec.Name, desc, stub[ops.UpdateInvoiceArgs](spec.Name))
		case ops.OpRecordPayment:
			tool = genkit.DefineTool(g, spec.Name, desc, stub[ops.RecordPaymentArgs](spec.Name))
		case ops.OpUpdateProjectStatus:
			tool = genkit.DefineTool(g, spec.Name, desc, stub[ops.UpdateProjectStatusArgs](spec.Name))
		default:
			return nil, fmt.Errorf("no tool binding for operation %q", spec.Name)
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

// stub builds a tool body that must never run.
func stub[T any](name string) func(*ai.ToolContext, T) (string, error) {
	return func(*ai.ToolContext, T) (string, error) {
		return "", fmt.Errorf("tool %s must be dispatched by the operation registry, not executed by the model runtime", name)
	}
}
