package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/bullen/bullend/pkg/protocol"
	"github.com/bullen/bullend/pkg/transport"
)

// SocketClient represents a client connection to the console daemon
type SocketClient struct {
	socketPath string
	timeout    time.Duration
}

// NewSocketClient creates a new socket client
func NewSocketClient(socketPath string) *SocketClient {
	return &SocketClient{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// SendCommand sends a command and returns the response
func (c *SocketClient) SendCommand(cmd string) (*protocol.Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))

	_, err = conn.Write([]byte(cmd + "\n"))
	if err != nil {
		return nil, fmt.Errorf("send error: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return nil, fmt.Errorf("no response received")
	}

	responseText := scanner.Text()
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}

	var response protocol.Response
	if err := json.Unmarshal([]byte(responseText), &response); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	return &response, nil
}

// reparse converts a generic response payload into a typed value
func reparse(data interface{}, out interface{}) error {
	raw, _ := json.Marshal(data)
	return json.Unmarshal(raw, out)
}

// GetStatus gets the current daemon status
func (c *SocketClient) GetStatus() (*protocol.Status, error) {
	resp, err := c.SendCommand("STATUS")
	if err != nil {
		return nil, err
	}

	if !resp.Success {
		return nil, fmt.Errorf("status error: %s", resp.Error)
	}

	var status protocol.Status
	if err := reparse(resp.Data, &status); err != nil {
		return nil, fmt.Errorf("failed to parse status: %w", err)
	}

	return &status, nil
}

// GetState gets the full console state
func (c *SocketClient) GetState() (*protocol.ConsoleState, error) {
	resp, err := c.SendCommand("STATE")
	if err != nil {
		return nil, err
	}

	if !resp.Success {
		return nil, fmt.Errorf("state error: %s", resp.Error)
	}

	var state protocol.ConsoleState
	if err := reparse(resp.Data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state: %w", err)
	}

	return &state, nil
}

// Select routes channel ch (1-based) to the monitor output
func (c *SocketClient) Select(ch int) error {
	resp, err := c.SendCommand(fmt.Sprintf("SELECT:%d", ch))
	if err != nil {
		return err
	}

	if !resp.Success {
		return fmt.Errorf("select error: %s", resp.Error)
	}

	return nil
}

// SetGainDB sets channel ch's gain in decibels
func (c *SocketClient) SetGainDB(ch int, db float64) error {
	resp, err := c.SendCommand(fmt.Sprintf("GAIN:%d:%g", ch, db))
	if err != nil {
		return err
	}

	if !resp.Success {
		return fmt.Errorf("gain error: %s", resp.Error)
	}

	return nil
}

// SetGainLinear sets channel ch's linear gain
func (c *SocketClient) SetGainLinear(ch int, gain float64) error {
	resp, err := c.SendCommand(fmt.Sprintf("GAIN:%d:linear:%g", ch, gain))
	if err != nil {
		return err
	}

	if !resp.Success {
		return fmt.Errorf("gain error: %s", resp.Error)
	}

	return nil
}

// SetMute sets channel ch's mute state
func (c *SocketClient) SetMute(ch int, mute bool) error {
	state := "off"
	if mute {
		state = "on"
	}

	resp, err := c.SendCommand(fmt.Sprintf("MUTE:%d:%s", ch, state))
	if err != nil {
		return err
	}

	if !resp.Success {
		return fmt.Errorf("mute error: %s", resp.Error)
	}

	return nil
}

// GetDevices lists the discovered sound cards
func (c *SocketClient) GetDevices() ([]transport.DeviceCandidate, error) {
	resp, err := c.SendCommand("DEVICES")
	if err != nil {
		return nil, err
	}

	if !resp.Success {
		return nil, fmt.Errorf("devices error: %s", resp.Error)
	}

	devicesData, ok := resp.Data["devices"]
	if !ok {
		return []transport.DeviceCandidate{}, nil
	}

	var devices []transport.DeviceCandidate
	if err := reparse(devicesData, &devices); err != nil {
		return nil, fmt.Errorf("failed to parse devices: %w", err)
	}

	return devices, nil
}

// GetTransport returns the live acquisition outcome and its attempt trail
func (c *SocketClient) GetTransport() (map[string]interface{}, error) {
	resp, err := c.SendCommand("TRANSPORT")
	if err != nil {
		return nil, err
	}

	if !resp.Success {
		return nil, fmt.Errorf("transport error: %s", resp.Error)
	}

	return resp.Data, nil
}

// GetAttempts returns the persisted attempt history
func (c *SocketClient) GetAttempts(limit int) ([]transport.AttemptRecord, error) {
	cmd := "ATTEMPTS"
	if limit > 0 {
		cmd = fmt.Sprintf("ATTEMPTS:%d", limit)
	}

	resp, err := c.SendCommand(cmd)
	if err != nil {
		return nil, err
	}

	if !resp.Success {
		return nil, fmt.Errorf("attempts error: %s", resp.Error)
	}

	attemptsData, ok := resp.Data["attempts"]
	if !ok {
		return []transport.AttemptRecord{}, nil
	}

	var attempts []transport.AttemptRecord
	if err := reparse(attemptsData, &attempts); err != nil {
		return nil, fmt.Errorf("failed to parse attempts: %w", err)
	}

	return attempts, nil
}

// Record starts or stops recording
func (c *SocketClient) Record(start bool) error {
	action := "stop"
	if start {
		action = "start"
	}

	resp, err := c.SendCommand("RECORD:" + action)
	if err != nil {
		return err
	}

	if !resp.Success {
		return fmt.Errorf("record error: %s", resp.Error)
	}

	return nil
}

// Ping tests the connection
func (c *SocketClient) Ping() error {
	resp, err := c.SendCommand("PING")
	if err != nil {
		return err
	}

	if !resp.Success {
		return fmt.Errorf("ping error: %s", resp.Error)
	}

	return nil
}

// IsConnected tests if the daemon is reachable
func (c *SocketClient) IsConnected() bool {
	return c.Ping() == nil
}

// Quit asks the daemon to shut down
func (c *SocketClient) Quit() error {
	resp, err := c.SendCommand("QUIT")
	if err != nil {
		return err
	}

	if !resp.Success {
		return fmt.Errorf("quit error: %s", resp.Error)
	}

	return nil
}
