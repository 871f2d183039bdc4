package conversation

import "github.com/pkg/errors"

var ErrQueryAndToolResult = errors.New("query and tool result are mutually exclusive")

// ToolResult is the observation of one tool call, ready to be fed back to the model.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
}

// Organize builds the prompt for the next model invocation.
//
// Without prior messages it starts a new conversation from the system template and the
// user query. With prior messages and a query it continues that history: the system
// message is put in front when the history has none, and the query is appended. With a
// tool result it returns a copy of prior with a tool message appended. prior itself is
// never modified.
func Organize(template string, query string, prior Conversation, result *ToolResult) (Conversation, error) {
	if query != "" && result != nil {
		return nil, ErrQueryAndToolResult
	}

	if len(prior) == 0 {
		if result != nil {
			return nil, errors.Errorf("cannot append result of tool call %s to an empty conversation", result.CallID)
		}
		ret := Conversation{}
		if template != "" {
			ret = append(ret, NewSystemMessage(template))
		}
		return append(ret, NewUserMessage(query)), nil
	}

	if query != "" {
		ret := make(Conversation, 0, len(prior)+2)
		if template != "" && (prior[0] == nil || prior[0].Role != RoleSystem) {
			ret = append(ret, NewSystemMessage(template))
		}
		ret = append(ret, prior...)
		return append(ret, NewUserMessage(query)), nil
	}

	if result == nil {
		return prior, nil
	}

	return appendMessage(prior, NewToolMessage(result.CallID, result.Name, result.Content)), nil
}

// AppendAssistant returns a copy of prior with an assistant message appended that
// carries the streamed text and the tool calls the model requested.
func AppendAssistant(prior Conversation, text string, calls []ToolCall) Conversation {
	var cp []ToolCall
	if len(calls) > 0 {
		cp = make([]ToolCall, len(calls))
		copy(cp, calls)
	}
	return appendMessage(prior, NewAssistantMessage(text, cp...))
}

// appendMessage copies the slice only. Messages are never modified once they are part
// of a conversation, so copies share them.
func appendMessage(prior Conversation, m *Message) Conversation {
	ret := make(Conversation, len(prior), len(prior)+1)
	copy(ret, prior)
	return append(ret, m)
}
