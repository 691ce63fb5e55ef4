package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// SubjectPrefix namespaces every tool subject on the bus.
const SubjectPrefix = "praetor.tools."

// Connect dials the bus with reconnect behavior suitable for a long-running
// agent process.
func Connect(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to transfer bus: %w", err)
	}
	return conn, nil
}

// RemoteTool invokes a tool hosted by another agent over NATS request/reply.
// The payload crosses the bus as JSON and the reply must be a Result.
type RemoteTool struct {
	name    string
	conn    *nats.Conn
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRemoteTool wraps the named remote capability. timeout bounds each
// request so a dead peer resolves to an error result instead of a hang.
func NewRemoteTool(name string, conn *nats.Conn, timeout time.Duration, logger zerolog.Logger) *RemoteTool {
	return &RemoteTool{
		name:    name,
		conn:    conn,
		timeout: timeout,
		logger:  logger.With().Str("component", "remote_tool").Str("tool", name).Logger(),
	}
}

func (t *RemoteTool) Name() string { return t.name }

// Execute serializes the payload, performs the request and decodes the reply.
// Transport failures come back as error results, never as a missing response.
func (t *RemoteTool) Execute(ctx context.Context, payload map[string]interface{}) (Result, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Errorf("encoding payload for %s: %v", t.name, err), nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	msg, err := t.conn.RequestWithContext(reqCtx, SubjectPrefix+t.name, data)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Tool request failed")
		return Errorf("tool %s unreachable: %v", t.name, err), nil
	}

	var result Result
	if err := json.Unmarshal(msg.Data, &result); err != nil {
		return Errorf("tool %s returned malformed reply: %v", t.name, err), nil
	}
	if result.Status == "" {
		result.Status = StatusError
		result.Error = "tool reply carried no status"
	}
	return result, nil
}

// Serve exposes a local tool on the bus so other agents can call it. The
// returned subscription stays active until Unsubscribe or connection close.
func Serve(conn *nats.Conn, tool Tool, logger zerolog.Logger) (*nats.Subscription, error) {
	log := logger.With().Str("component", "tool_server").Str("tool", tool.Name()).Logger()

	return conn.Subscribe(SubjectPrefix+tool.Name(), func(msg *nats.Msg) {
		var payload map[string]interface{}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			respond(msg, Errorf("malformed payload: %v", err), log)
			return
		}

		result, err := tool.Execute(context.Background(), payload)
		if err != nil {
			result = Errorf("tool %s failed: %v", tool.Name(), err)
		}
		respond(msg, result, log)
	})
}

func respond(msg *nats.Msg, result Result, log zerolog.Logger) {
	data, err := json.Marshal(result)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode tool reply")
		return
	}
	if err := msg.Respond(data); err != nil {
		log.Warn().Err(err).Msg("Failed to send tool reply")
	}
}
