package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ConversationID accepts a JSON string or an integer (clients often send Date.now())
// and always holds the id as a string.
type ConversationID string

// UnmarshalJSON 同时兼容字符串与整数形式的会话 ID
func (id *ConversationID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ConversationID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("conversationId must be a string or an integer: %w", err)
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("conversationId must be a string or an integer, got %s", n)
	}
	*id = ConversationID(n.String())
	return nil
}

func (id ConversationID) String() string {
	return string(id)
}
