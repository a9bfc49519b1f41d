package utils

import (
	"encoding/json"

	"chatsync/internal/logger"
)

// JSONWriter is implemented by websocket connections.
type JSONWriter interface {
	WriteJSON(v interface{}) error
}

// SafeJSONParse parses JSON safely
func SafeJSONParse(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// SendJSON sends a JSON payload to a WebSocket connection.
// Websocket connections are not safe for concurrent writes;
// the caller must hold the connection's write lock.
func SendJSON(c JSONWriter, payload interface{}) error {
	return c.WriteJSON(payload)
}

// LogError logs an error if it's not nil
func LogError(err error, context string) {
	if err != nil {
		logger.Log.Error("operation failed", "context", context, "error", err)
	}
}
