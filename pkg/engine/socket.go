package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bullen/bullend/pkg/logging"
	"github.com/bullen/bullend/pkg/protocol"
	"github.com/bullen/bullend/pkg/transport"
)

// AttemptStore provides read access to persisted transport attempts
type AttemptStore interface {
	RecentAttempts(limit int) ([]transport.AttemptRecord, error)
}

// SocketServer serves the text command protocol over a unix socket.
// One command per line, one JSON response per line.
type SocketServer struct {
	engine    *ConsoleEngine
	discovery *transport.DeviceDiscovery
	attempts  AttemptStore

	socketPath string
	version    string
	startTime  time.Time

	listener net.Listener
	quit     chan struct{}
	shutdown func()
}

// NewSocketServer creates a socket server bound to the given engine
func NewSocketServer(engine *ConsoleEngine, discovery *transport.DeviceDiscovery,
	attempts AttemptStore, socketPath, version string, shutdown func()) *SocketServer {
	return &SocketServer{
		engine:     engine,
		discovery:  discovery,
		attempts:   attempts,
		socketPath: socketPath,
		version:    version,
		startTime:  time.Now(),
		quit:       make(chan struct{}),
		shutdown:   shutdown,
	}
}

// Start binds the unix socket and begins accepting connections
func (s *SocketServer) Start() error {
	// Stale socket from an unclean shutdown
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to bind socket %s: %w", s.socketPath, err)
	}
	s.listener = listener

	if err := os.Chmod(s.socketPath, 0660); err != nil {
		logging.Warnf("socket", "failed to chmod socket: %v", err)
	}

	go s.acceptLoop()
	logging.Infof("socket", "command socket listening on %s", s.socketPath)
	return nil
}

// Stop closes the listener and removes the socket file
func (s *SocketServer) Stop() {
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}
	os.Remove(s.socketPath)
}

func (s *SocketServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				logging.Warnf("socket", "accept error: %v", err)
				continue
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *SocketServer) handleConnection(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, err := protocol.ParseCommand(line)
		if err != nil {
			fmt.Fprintln(conn, protocol.NewErrorResponse(err.Error()).String())
			continue
		}

		resp := s.handleCommand(cmd)
		fmt.Fprintln(conn, resp.String())

		if cmd.Type == protocol.CmdQuit {
			return
		}
	}
}

func (s *SocketServer) handleCommand(cmd *protocol.Command) *protocol.Response {
	switch cmd.Type {
	case protocol.CmdPing:
		return protocol.NewSuccessResponse(map[string]interface{}{"pong": true})

	case protocol.CmdStatus:
		return protocol.NewSuccessResponse(toMap(s.buildStatus()))

	case protocol.CmdState:
		return protocol.NewSuccessResponse(toMap(s.engine.State()))

	case protocol.CmdSelect:
		ch, err := argChannel(cmd, s.engine.Inputs())
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		s.engine.SetSelectedChannel(ch)
		return protocol.NewSuccessResponse(map[string]interface{}{
			"selected_channel": ch + 1,
		})

	case protocol.CmdGain:
		ch, err := argChannel(cmd, s.engine.Inputs())
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		if raw, ok := cmd.Args["gain_linear"].(string); ok {
			lin, err := strconv.ParseFloat(raw, 32)
			if err != nil {
				return protocol.NewErrorResponse("invalid linear gain: " + raw)
			}
			s.engine.SetGainLinear(ch, float32(lin))
		} else if raw, ok := cmd.Args["gain_db"].(string); ok {
			db, err := strconv.ParseFloat(raw, 32)
			if err != nil {
				return protocol.NewErrorResponse("invalid gain: " + raw)
			}
			s.engine.SetGainDB(ch, float32(db))
		} else {
			return protocol.NewErrorResponse("GAIN requires a value")
		}
		return protocol.NewSuccessResponse(map[string]interface{}{"channel": ch + 1})

	case protocol.CmdMute:
		ch, err := argChannel(cmd, s.engine.Inputs())
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		raw, _ := cmd.Args["mute"].(string)
		mute, err := parseBool(raw)
		if err != nil {
			return protocol.NewErrorResponse("invalid mute state: " + raw)
		}
		s.engine.SetMute(ch, mute)
		return protocol.NewSuccessResponse(map[string]interface{}{
			"channel": ch + 1,
			"mute":    mute,
		})

	case protocol.CmdDevices:
		if s.discovery == nil {
			return protocol.NewErrorResponse("device discovery unavailable")
		}
		devices, err := s.discovery.Enumerate()
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return protocol.NewSuccessResponse(map[string]interface{}{
			"devices": devices,
		})

	case protocol.CmdTransport:
		acq := s.engine.Acquisition()
		if acq == nil {
			return protocol.NewSuccessResponse(map[string]interface{}{
				"transport": "",
				"degraded":  true,
				"summary":   "no acquisition attempted",
			})
		}
		data := map[string]interface{}{
			"degraded": !acq.Success(),
			"summary":  acq.Summary,
			"attempts": acq.Attempts,
		}
		if acq.Success() {
			data["transport"] = acq.Handle.Strategy
			data["existing"] = acq.Handle.Existing
			if acq.Handle.PID > 0 {
				data["pid"] = acq.Handle.PID
			}
		} else {
			data["transport"] = ""
		}
		return protocol.NewSuccessResponse(data)

	case protocol.CmdRecord:
		action, _ := cmd.Args["action"].(string)
		switch action {
		case "start":
			if err := s.engine.StartRecording(); err != nil {
				return protocol.NewErrorResponse(err.Error())
			}
		case "stop":
			s.engine.StopRecording()
		default:
			return protocol.NewErrorResponse("RECORD requires start or stop")
		}
		return protocol.NewSuccessResponse(map[string]interface{}{
			"recording": s.engine.State().Recording,
		})

	case protocol.CmdAttempts:
		if s.attempts == nil {
			return protocol.NewErrorResponse("attempt history unavailable")
		}
		limit := 50
		if raw, ok := cmd.Args["limit"].(string); ok && raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}
		records, err := s.attempts.RecentAttempts(limit)
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return protocol.NewSuccessResponse(map[string]interface{}{
			"attempts": records,
		})

	case protocol.CmdQuit:
		if s.shutdown != nil {
			go s.shutdown()
		}
		return protocol.NewSuccessResponse(map[string]interface{}{"quitting": true})

	default:
		return protocol.NewErrorResponse("unknown command: " + cmd.Type)
	}
}

func (s *SocketServer) buildStatus() protocol.Status {
	state := s.engine.State()
	return protocol.Status{
		Transport: state.Transport,
		Degraded:  state.Degraded,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		StartTime: s.startTime,
		Version:   s.version,
	}
}

// argChannel parses the 1-based channel argument and returns it 0-based
func argChannel(cmd *protocol.Command, inputs int) (int, error) {
	raw, ok := cmd.Args["channel"].(string)
	if !ok || raw == "" {
		return 0, fmt.Errorf("%s requires a channel", cmd.Type)
	}
	ch, err := strconv.Atoi(raw)
	if err != nil || ch < 1 || ch > inputs {
		return 0, fmt.Errorf("invalid channel %q (1-%d)", raw, inputs)
	}
	return ch - 1, nil
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %s", raw)
}

// toMap flattens a struct into the generic response payload
func toMap(v interface{}) map[string]interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]interface{}{}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}
