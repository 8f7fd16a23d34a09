package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	mcpapi "github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"
)

// ToolKey identifies a tool by server and remote tool name. The flattened
// "server__tool" spelling is what the model sees; the structured form is what
// the gateway routes on.
type ToolKey struct {
	Server string
	Tool   string
}

// Namespaced returns the flat name exposed to the model.
func (k ToolKey) Namespaced() string {
	return k.Server + "__" + k.Tool
}

// ParseToolName splits a namespaced tool name back into its key. The second
// return is false when the name carries no server prefix.
func ParseToolName(name string) (ToolKey, bool) {
	server, toolName, ok := strings.Cut(name, "__")
	if !ok || server == "" || toolName == "" {
		return ToolKey{}, false
	}
	return ToolKey{Server: server, Tool: toolName}, true
}

// serverTool adapts one remote MCP tool to the eino tool interface.
type serverTool struct {
	key    ToolKey
	client mcpClient
	info   *schema.ToolInfo
}

var _ tool.InvokableTool = (*serverTool)(nil)

func newServerTool(server string, t mcpapi.Tool, c mcpClient) (*serverTool, error) {
	params, err := convertInputSchema(t.InputSchema)
	if err != nil {
		return nil, err
	}
	key := ToolKey{Server: server, Tool: t.Name}
	return &serverTool{
		key:    key,
		client: c,
		info: &schema.ToolInfo{
			Name:        key.Namespaced(),
			Desc:        t.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		},
	}, nil
}

func (t *serverTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return t.info, nil
}

// InvokableRun forwards the call to the remote server under its original tool
// name. A tool-level error comes back as output text so the model can adjust;
// transport failures return an error.
func (t *serverTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	args := map[string]interface{}{}
	if strings.TrimSpace(argumentsInJSON) != "" {
		if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
			return "", errors.Wrapf(err, "parse arguments for tool %s", t.key.Namespaced())
		}
	}

	req := mcpapi.CallToolRequest{}
	req.Params.Name = t.key.Tool
	req.Params.Arguments = args

	res, err := t.client.CallTool(ctx, req)
	if err != nil {
		return "", errors.Wrapf(err, "call tool %s on server %s", t.key.Tool, t.key.Server)
	}

	text := flattenContent(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool reported an error with no message"
		}
		return "Error: " + text, nil
	}
	return text, nil
}

// flattenContent joins the text blocks of a tool result.
func flattenContent(content []mcpapi.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(mcpapi.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// convertInputSchema maps a tool's JSON schema onto eino parameter infos.
func convertInputSchema(in mcpapi.ToolInputSchema) (map[string]*schema.ParameterInfo, error) {
	required := make(map[string]bool, len(in.Required))
	for _, name := range in.Required {
		required[name] = true
	}

	params := make(map[string]*schema.ParameterInfo, len(in.Properties))
	for name, raw := range in.Properties {
		prop, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("property %q: unexpected schema shape", name)
		}
		info, err := convertProperty(prop)
		if err != nil {
			return nil, errors.Wrapf(err, "property %q", name)
		}
		info.Required = required[name]
		params[name] = info
	}
	return params, nil
}

func convertProperty(prop map[string]interface{}) (*schema.ParameterInfo, error) {
	info := &schema.ParameterInfo{}
	if desc, ok := prop["description"].(string); ok {
		info.Desc = desc
	}

	typ, _ := prop["type"].(string)
	switch typ {
	case "string", "":
		info.Type = schema.String
		if raw, ok := prop["enum"].([]interface{}); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					info.Enum = append(info.Enum, s)
				}
			}
		}
	case "number":
		info.Type = schema.Number
	case "integer":
		info.Type = schema.Integer
	case "boolean":
		info.Type = schema.Boolean
	case "array":
		info.Type = schema.Array
		elem := map[string]interface{}{}
		if items, ok := prop["items"].(map[string]interface{}); ok {
			elem = items
		}
		elemInfo, err := convertProperty(elem)
		if err != nil {
			return nil, err
		}
		info.ElemInfo = elemInfo
	case "object":
		info.Type = schema.Object
		if props, ok := prop["properties"].(map[string]interface{}); ok {
			info.SubParams = make(map[string]*schema.ParameterInfo, len(props))
			requiredSet := map[string]bool{}
			if raw, ok := prop["required"].([]interface{}); ok {
				for _, v := range raw {
					if s, ok := v.(string); ok {
						requiredSet[s] = true
					}
				}
			}
			for name, raw := range props {
				sub, ok := raw.(map[string]interface{})
				if !ok {
					return nil, fmt.Errorf("nested property %q: unexpected schema shape", name)
				}
				subInfo, err := convertProperty(sub)
				if err != nil {
					return nil, err
				}
				subInfo.Required = requiredSet[name]
				info.SubParams[name] = subInfo
			}
		}
	default:
		return nil, fmt.Errorf("unsupported schema type %q", typ)
	}
	return info, nil
}
