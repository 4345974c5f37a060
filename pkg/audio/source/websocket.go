package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/coder/websocket"
)

// maxMessageBytes caps a single incoming PCM message.
const maxMessageBytes = 1 << 20

// WebSocket receives raw mono s16le PCM at the configured sample rate as
// binary WebSocket messages. Message boundaries are irrelevant; the byte
// stream is re-framed into chunks. A normal closure from the server ends
// the stream.
type WebSocket struct {
	reader *Reader
}

// DialWebSocket connects to url. header is sent with the handshake and may
// be nil.
func DialWebSocket(ctx context.Context, url string, cfg Config, header http.Header) (*WebSocket, error) {
	if url == "" {
		return nil, errors.New("source: websocket url must not be empty")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("source: dial websocket: %w", err)
	}
	conn.SetReadLimit(maxMessageBytes)

	// Cancelling ctx closes the connection, which unblocks a pending read.
	nc := websocket.NetConn(ctx, conn, websocket.MessageBinary)
	return &WebSocket{reader: NewReader(nc, cfg.ChunkSize)}, nil
}

// Next implements Source.
func (w *WebSocket) Next(ctx context.Context) ([]int16, error) {
	chunk, err := w.reader.Next(ctx)
	if err != nil && ctx.Err() == nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("source: read websocket: %w", err)
	}
	return chunk, err
}

// Close implements Source. It performs a normal-closure handshake.
func (w *WebSocket) Close() error {
	return w.reader.Close()
}

var _ Source = (*WebSocket)(nil)
