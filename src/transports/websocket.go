package transports

import (
	"context"
	"fmt"
	"sync"
	"time"

	"event-ingestor/src/logger"
	"event-ingestor/src/utils"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------

// WebSocketClient implements interfaces.IConnectionClient using Gorilla WebSocket.
// It owns exactly one websocket connection at a time. It does not reconnect
// by itself: when the connection breaks, onClosed is invoked once and the
// owner decides what to do.
type WebSocketClient struct {
	conn         *websocket.Conn
	name         string
	endpoint     string
	logger       *logger.Logger
	isRunning    bool
	mu           sync.RWMutex
	recvMsgChann chan []byte
	done         chan struct{}
	onRawData    func([]byte)
	onClosed     func(error)
}

// -----------------------------------------------------------------------------

// NewWebSocketClient creates a new WebSocket client.
// onRawData receives every inbound text frame, in arrival order, on a single
// goroutine. onClosed fires once per connection loss that was not requested
// via Disconnect.
func NewWebSocketClient(endpoint string, logger *logger.Logger, name string, onRawData func([]byte), onClosed func(error)) *WebSocketClient {
	return &WebSocketClient{
		name:      name,
		endpoint:  endpoint,
		logger:    logger,
		isRunning: false,
		onRawData: onRawData,
		onClosed:  onClosed,
	}
}

// -----------------------------------------------------------------------------

// Connect establishes the WebSocket connection and starts processing.
// Safe to call again after a Disconnect or connection loss.
func (w *WebSocketClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("%s: already connected", w.name)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.endpoint, nil)
	if err != nil {
		w.logger.Error("%s : failed to connect to %s: %v", w.name, utils.MaskAPIKey(w.endpoint), err)
		return fmt.Errorf("failed to connect to %s: %w", utils.MaskAPIKey(w.endpoint), err)
	}

	// Recreate channels for new connection
	w.recvMsgChann = make(chan []byte, 1000)
	w.done = make(chan struct{})

	w.conn = conn
	w.isRunning = true

	w.logger.Info("%s : WebSocket connected to %s", w.name, utils.MaskAPIKey(w.endpoint))

	// Start message processing
	go w.receiveLoop(ctx, conn, w.recvMsgChann, w.done)
	go w.processLoop(ctx, w.recvMsgChann, w.done)

	return nil
}

// -----------------------------------------------------------------------------

// Disconnect closes the connection. Does not trigger onClosed.
func (w *WebSocketClient) Disconnect() error {
	if !w.stop() {
		return nil
	}

	w.logger.Info("%s : WebSocket disconnected from %s", w.name, utils.MaskAPIKey(w.endpoint))
	return nil
}

// -----------------------------------------------------------------------------

// GetName returns the client name
func (w *WebSocketClient) GetName() string {
	return w.name
}

// -----------------------------------------------------------------------------

// GetType returns the transport type
func (w *WebSocketClient) GetType() string {
	return "websocket"
}

// -----------------------------------------------------------------------------

// IsRunning returns the connection status
func (w *WebSocketClient) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.isRunning
}

// -----------------------------------------------------------------------------

// SendMessage sends a single text frame to the WebSocket
func (w *WebSocketClient) SendMessage(data []byte) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.conn == nil {
		return fmt.Errorf("connection is nil")
	}

	err := w.conn.WriteMessage(websocket.TextMessage, data)
	if err != nil {
		return fmt.Errorf("failed to send text frame: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// receiveLoop reads frames from the wire and pushes them to the receive
// channel until the connection breaks or is shut down.
func (w *WebSocketClient) receiveLoop(ctx context.Context, conn *websocket.Conn, recv chan<- []byte, done <-chan struct{}) {
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			// Check if we are shutting down
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			default:
			}

			w.stop()
			w.logger.Warning("%s : read message error: %v", w.name, err)
			if w.onClosed != nil {
				w.onClosed(fmt.Errorf("read message error: %w", err))
			}
			return
		}

		// The protocol only uses text frames
		if messageType == websocket.TextMessage {
			select {
			case recv <- message:
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------

// processLoop delivers received frames to the onRawData callback, one at a
// time, keeping the read loop off the callback path.
func (w *WebSocketClient) processLoop(ctx context.Context, recv <-chan []byte, done <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case byteMessage := <-recv:
			if w.onRawData != nil {
				w.onRawData(byteMessage)
			}
		}
	}
}

// -----------------------------------------------------------------------------

// stop tears the connection down exactly once, releasing both loops.
// Returns false if the client was not running.
func (w *WebSocketClient) stop() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isRunning {
		return false
	}

	w.isRunning = false
	close(w.done)
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	return true
}
