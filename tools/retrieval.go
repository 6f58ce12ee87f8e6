// Retrieval tool: searches an agent's ingested documents.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// RetrievalToolName is the fixed name of the document search tool.
const RetrievalToolName = "doc_search"

// retrievalArgs is reflected into the tool's parameter schema.
type retrievalArgs struct {
	Query string `json:"query" jsonschema:"required,description=The query to search for"`
}

// RetrievalDescriptor describes the document search tool for one agent.
func RetrievalDescriptor(agentID string, topK int) Descriptor {
	return Descriptor{
		Name:        RetrievalToolName,
		Description: "Search for relevant information in the documents",
		Parameters:  retrievalSchema(),
		Binding:     RetrievalBinding{AgentID: agentID, TopK: topK},
	}
}

func retrievalSchema() *Schema {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	reflected := reflector.Reflect(&retrievalArgs{})

	data, err := json.Marshal(reflected)
	if err == nil {
		var parsed Schema
		if err = json.Unmarshal(data, &parsed); err == nil {
			return &parsed
		}
	}

	s := Object()
	s.Set("query", Leaf(KindString, "The query to search for"), true)
	return s
}

type retrievalTool struct {
	desc     Descriptor
	binding  RetrievalBinding
	searcher Searcher
}

func (t *retrievalTool) Descriptor() Descriptor { return t.desc }

func (t *retrievalTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return FailureResultf("query cannot be empty"), nil
	}

	out, err := t.searcher.Search(ctx, t.binding.AgentID, query, t.binding.TopK)
	if err != nil {
		return FailureResult(fmt.Errorf("search failed: %w", err)), nil
	}
	return SuccessResult(out), nil
}
