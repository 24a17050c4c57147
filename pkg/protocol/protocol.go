package protocol

import (
	"encoding/json"
	"strings"
	"time"
)

// Command represents a command sent to the console engine
type Command struct {
	Type string                 `json:"type"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Response represents a response from the console engine
type Response struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Command types understood by the engine socket
const (
	CmdStatus    = "STATUS"
	CmdState     = "STATE"
	CmdSelect    = "SELECT"
	CmdGain      = "GAIN"
	CmdMute      = "MUTE"
	CmdDevices   = "DEVICES"
	CmdTransport = "TRANSPORT"
	CmdRecord    = "RECORD"
	CmdAttempts  = "ATTEMPTS"
	CmdPing      = "PING"
	CmdQuit      = "QUIT"
)

// ConsoleState mirrors the engine's full state for API consumers
type ConsoleState struct {
	SampleRate      int       `json:"samplerate"`
	FramesPerPeriod int       `json:"frames_per_period"`
	SelectedChannel int       `json:"selected_channel"`
	GainsLinear     []float32 `json:"gains_linear"`
	GainsDB         []float32 `json:"gains_db"`
	Mutes           []bool    `json:"mutes"`
	VUPeak          []float32 `json:"vu_peak"`
	VURMS           []float32 `json:"vu_rms"`
	Recording       bool      `json:"recording"`
	RecDropped      []int64   `json:"rec_dropped_buffers"`
	Degraded        bool      `json:"degraded"`
	Transport       string    `json:"transport"`
}

// Status represents the coarse daemon status
type Status struct {
	Transport string    `json:"transport"`
	Degraded  bool      `json:"degraded"`
	Uptime    string    `json:"uptime"`
	StartTime time.Time `json:"start_time"`
	Version   string    `json:"version"`
}

// ParseCommand parses a text command into a Command struct
func ParseCommand(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	parts := strings.SplitN(text, ":", 2)

	cmd := &Command{
		Type: strings.ToUpper(parts[0]),
		Args: make(map[string]interface{}),
	}

	if len(parts) > 1 {
		args := parts[1]

		switch cmd.Type {
		case CmdSelect:
			// SELECT:3
			cmd.Args["channel"] = args

		case CmdGain:
			// GAIN:3:-6.0 or GAIN:3:linear:0.5
			gainParts := strings.SplitN(args, ":", 3)
			if len(gainParts) >= 2 {
				cmd.Args["channel"] = gainParts[0]
				if len(gainParts) == 3 && gainParts[1] == "linear" {
					cmd.Args["gain_linear"] = gainParts[2]
				} else {
					cmd.Args["gain_db"] = gainParts[1]
				}
			}

		case CmdMute:
			// MUTE:3:on
			muteParts := strings.SplitN(args, ":", 2)
			if len(muteParts) == 2 {
				cmd.Args["channel"] = muteParts[0]
				cmd.Args["mute"] = muteParts[1]
			}

		case CmdAttempts:
			// ATTEMPTS:50
			cmd.Args["limit"] = args

		case CmdRecord:
			// RECORD:start or RECORD:stop
			cmd.Args["action"] = strings.ToLower(args)
		}
	}

	return cmd, nil
}

// String converts a Response to its JSON wire form
func (r *Response) String() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data map[string]interface{}) *Response {
	return &Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}
