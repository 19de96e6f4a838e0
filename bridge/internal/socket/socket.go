// Package socket frames text-JSON payloads over a WebSocket connection for
// the Gateway Transport. It knows nothing about opcodes or sessions; it
// only reads and writes whole JSON messages.
package socket

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/switchupcb/websocket"
)

// Read reads one JSON text message from conn into dst. Messages spanning
// more than one underlying WebSocket frame are reassembled transparently by
// conn.Reader before Read ever sees them; the pooled buffer here only
// amortizes the allocation of reading that reassembled stream into memory.
func Read(ctx context.Context, conn *websocket.Conn, dst any) error {
	messageType, reader, err := conn.Reader(ctx)
	if err != nil {
		return err
	}

	if messageType != websocket.MessageText {
		return fmt.Errorf("socket: received unexpected message type %v, want text", messageType)
	}

	b := get()
	defer put(b)

	if _, err := b.ReadFrom(reader); err != nil {
		return err
	}

	if err := json.Unmarshal(b.Bytes(), dst); err != nil {
		return fmt.Errorf("socket: unmarshalling %T: %w", dst, err)
	}

	return nil
}

// Write writes dst as a single JSON text message to conn.
func Write(ctx context.Context, conn *websocket.Conn, dst any) error {
	writer, err := conn.Writer(ctx, websocket.MessageText)
	if err != nil {
		return err
	}

	if err := json.NewEncoder(writer).Encode(dst); err != nil {
		return err
	}

	return writer.Close()
}
