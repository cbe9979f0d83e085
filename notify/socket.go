package notify

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/log"

	"github.com/moyoez/localswap/tool"
	"github.com/moyoez/localswap/types"
)

// NotifyWriteChunkSize is the chunk size when writing payload to Unix socket (avoid large single write).
const NotifyWriteChunkSize = 32 * 1024 // 32KB

var (
	// DefaultUnixSocketPath is the default Unix socket path for IPC
	DefaultUnixSocketPath = "/tmp/localswap-notify.sock"
	// UnixSocketTimeout is the timeout for Unix socket operations
	UnixSocketTimeout = 3 * time.Second
)

// SocketSink writes length-prefixed JSON notifications to a Unix socket
// served by the host UI.
type SocketSink struct {
	Path    string
	Timeout time.Duration
	logger  *log.Logger
}

func NewSocketSink(path string, logger *log.Logger) *SocketSink {
	if path == "" {
		path = DefaultUnixSocketPath
	}
	return &SocketSink{Path: path, Timeout: UnixSocketTimeout, logger: tool.LoggerOr(logger, "[UnixSocket]")}
}

func (s *SocketSink) Name() string { return "socket" }

// Send delivers one notification and waits for the peer's acknowledgement.
func (s *SocketSink) Send(notification *types.Notification) error {
	if _, err := os.Stat(s.Path); os.IsNotExist(err) {
		return fmt.Errorf("unix socket not found: %s", s.Path)
	}

	var payload []byte
	var err error
	if notification != nil {
		payload, err = sonic.Marshal(notification)
		if err != nil {
			return fmt.Errorf("failed to serialize notification data: %w", err)
		}
	} else {
		payload = []byte("{}")
	}
	if len(payload) > NotifyWriteChunkSize {
		return fmt.Errorf("notification payload too large: %d bytes (max %d)", len(payload), NotifyWriteChunkSize)
	}

	conn, err := net.DialTimeout("unix", s.Path, s.Timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to Unix socket %s: %w", s.Path, err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Errorf("Failed to close Unix socket connection: %v", err)
		}
	}()

	if err := conn.SetWriteDeadline(time.Now().Add(s.Timeout)); err != nil {
		s.logger.Errorf("Failed to set write deadline: %v", err)
	}

	// 4 byte little-endian length, then the payload
	lengthBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lengthBuf, uint32(len(payload)))
	if _, err := conn.Write(lengthBuf); err != nil {
		return fmt.Errorf("failed to write length to Unix socket: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("failed to write payload to Unix socket: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(s.Timeout)); err != nil {
		s.logger.Errorf("Failed to set read deadline: %v", err)
	}
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read response from Unix socket: %w", err)
	}
	if n > 0 {
		var response map[string]any
		if err := sonic.Unmarshal(buf[:n], &response); err != nil {
			s.logger.Debugf("Unix socket response (raw): %s", string(buf[:n]))
		} else if errMsg, ok := response["error"].(string); ok && errMsg != "" {
			return fmt.Errorf("server returned error: %s", errMsg)
		}
	}
	if notification != nil {
		s.logger.Debugf("Notification sent: %s - %s", notification.Type, notification.Title)
	}
	return nil
}
