package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ogb4n/Jarvis/internal/logging"
)

// wsTransport bridges a websocket to the MCP SDK transport interface.
type wsTransport struct{ conn *websocket.Conn }

func (t *wsTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	return &wsConnection{conn: t.conn}, nil
}

type wsConnection struct{ conn *websocket.Conn }

func (w *wsConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = w.conn.SetReadDeadline(dl)
		defer w.conn.SetReadDeadline(time.Time{})
	}
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return jsonrpc.DecodeMessage(data)
}

func (w *wsConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = w.conn.SetWriteDeadline(dl)
		defer w.conn.SetWriteDeadline(time.Time{})
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *wsConnection) Close() error      { return w.conn.Close() }
func (w *wsConnection) SessionID() string { return "" }

// newMCPServer builds the MCP server exposing the engine's control tools.
func (s *Server) newMCPServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "jarvis", Version: "1.0.0"}, nil)

	type emptyArgs struct{}
	mcp.AddTool(server, &mcp.Tool{Name: "status", Description: "report detector and conversation status"},
		func(ctx context.Context, req *mcp.CallToolRequest, args emptyArgs) (*mcp.CallToolResult, any, error) {
			body, err := json.Marshal(map[string]interface{}{
				"detector":     s.detector.Status(),
				"conversation": s.manager.Status(),
			})
			if err != nil {
				return nil, nil, err
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: string(body)}},
			}, nil, nil
		})

	type wakeArgs struct {
		Transcript string `json:"transcript,omitempty"`
	}
	mcp.AddTool(server, &mcp.Tool{Name: "simulate_wake", Description: "trigger a wake as if the wake phrase was heard"},
		func(ctx context.Context, req *mcp.CallToolRequest, args wakeArgs) (*mcp.CallToolResult, any, error) {
			if err := s.detector.SimulateWake(args.Transcript); err != nil {
				return nil, nil, err
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: "wake simulated"}},
			}, nil, nil
		})

	type commandArgs struct {
		Text string `json:"text"`
	}
	mcp.AddTool(server, &mcp.Tool{Name: "send_command", Description: "process a text command in the current session"},
		func(ctx context.Context, req *mcp.CallToolRequest, args commandArgs) (*mcp.CallToolResult, any, error) {
			if args.Text == "" {
				return nil, nil, fmt.Errorf("text required")
			}
			if err := s.manager.SendCommand(args.Text); err != nil {
				return nil, nil, err
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: "command processed"}},
			}, nil, nil
		})

	return server
}

var mcpUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleMCP upgrades the request and serves one MCP session over it.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	conn, err := mcpUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("gateway: mcp upgrade failed", "err", err)
		return
	}
	server := s.newMCPServer()
	go func() {
		session, err := server.Connect(context.Background(), &wsTransport{conn: conn}, nil)
		if err != nil {
			logging.Errorw("gateway: mcp connect failed", "err", err)
			conn.Close()
			return
		}
		if err := session.Wait(); err != nil {
			logging.Debugw("gateway: mcp session ended", "err", err)
		}
	}()
}
