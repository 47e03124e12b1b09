package mcu

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"trapcore/host/serial"
	"trapcore/protocol"
)

// MCU represents a connection to a Klipper microcontroller
type MCU struct {
	// Transport layer
	transport *protocol.HostTransport

	// Serial port
	port serial.Port

	// Dictionary data
	dictionary     *Dictionary
	dictionaryData []byte

	// Connection state
	connected bool

	// Endstop trigger callbacks awaiting an async endstop_state response,
	// keyed by oid. Registered by HomeStart, fired and removed by
	// handleResponse.
	endstopMu       sync.Mutex
	pendingEndstops map[int]func(triggerClock int64, commErr error)

	// lastDir tracks the last direction sent per oid, so SendStep only
	// issues set_next_step_dir on an actual change.
	dirMu   sync.Mutex
	lastDir map[int]int64
}

// Dictionary represents the parsed MCU dictionary
type Dictionary struct {
	Version       string                 `json:"version"`
	BuildVersions string                 `json:"build_versions"`
	Config        map[string]string      `json:"config"`
	Commands      map[string]int         `json:"commands"`
	Responses     map[string]int         `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`
}

// NewMCU creates a new MCU instance (not yet connected)
func NewMCU() *MCU {
	return &MCU{
		connected:       false,
		pendingEndstops: make(map[int]func(triggerClock int64, commErr error)),
		lastDir:         make(map[int]int64),
	}
}

// Connect connects to an MCU via serial port
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig connects to an MCU with a custom serial config
func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	// Open serial port
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	m.port = port
	m.transport = protocol.NewHostTransport(port)
	m.connected = true

	// Set up response handler for identify responses
	m.transport.SetResponseHandler(m.handleResponse)

	// Give MCU time to initialize (if it just powered on)
	time.Sleep(100 * time.Millisecond)

	return nil
}

// Close closes the connection to the MCU
func (m *MCU) Close() error {
	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			return err
		}
	}
	m.connected = false
	return nil
}

// RetrieveDictionary retrieves the complete dictionary from the MCU
func (m *MCU) RetrieveDictionary() error {
	if !m.connected {
		return fmt.Errorf("not connected to MCU")
	}

	fmt.Println("Retrieving dictionary from MCU...")

	// Dictionary will be retrieved in chunks
	// Start with offset 0, count 40 (typical chunk size)
	var dictBuffer bytes.Buffer
	offset := uint32(0)
	chunkSize := uint8(40)
	maxIterations := 1000 // Safety limit

	for i := 0; i < maxIterations; i++ {
		// Send identify command
		chunk, err := m.sendIdentify(offset, chunkSize)
		if err != nil {
			return fmt.Errorf("failed to retrieve dictionary chunk at offset %d: %w", offset, err)
		}

		if len(chunk) == 0 {
			// No more data
			break
		}

		// Append chunk to buffer
		dictBuffer.Write(chunk)
		offset += uint32(len(chunk))

		// Progress indicator
		if i%10 == 0 {
			fmt.Printf("  Retrieved %d bytes...\n", offset)
		}

		// If we got less than requested, we're done
		if len(chunk) < int(chunkSize) {
			break
		}
	}

	m.dictionaryData = dictBuffer.Bytes()
	fmt.Printf("Dictionary retrieved: %d bytes\n", len(m.dictionaryData))

	// Try to decompress if it's compressed
	// (Gopper uses tinycompress/zlib, but we can use standard zlib for host)
	decompressed, err := m.tryDecompress(m.dictionaryData)
	if err == nil && len(decompressed) > 0 {
		fmt.Printf("Dictionary decompressed: %d -> %d bytes\n", len(m.dictionaryData), len(decompressed))
		m.dictionaryData = decompressed
	}

	// Parse dictionary JSON
	if err := m.parseDictionary(); err != nil {
		return fmt.Errorf("failed to parse dictionary: %w", err)
	}

	return nil
}

// sendIdentify sends an identify command and waits for response
func (m *MCU) sendIdentify(offset uint32, count uint8) ([]byte, error) {
	// Build identify command: cmdID=1, offset (VLQ uint), count (VLQ uint)
	err := m.transport.SendCommand(1, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, uint32(count))
	})

	if err != nil {
		return nil, fmt.Errorf("failed to send identify command: %w", err)
	}

	// Wait for response (identify_response has cmdID=0)
	resp, err := m.transport.ReceiveResponse(1 * time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to receive identify response: %w", err)
	}

	// Parse response payload: cmdID (VLQ), offset (VLQ), data (VLQ bytes)
	payload := resp.Payload

	// Decode command ID (should be 0 for identify_response)
	cmdID, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response command ID: %w", err)
	}

	if cmdID != 0 {
		return nil, fmt.Errorf("unexpected response command ID: %d (expected 0)", cmdID)
	}

	// Decode offset (should match our request)
	respOffset, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response offset: %w", err)
	}

	if respOffset != offset {
		return nil, fmt.Errorf("offset mismatch: expected %d, got %d", offset, respOffset)
	}

	// Decode data (VLQ-encoded byte array)
	data, err := protocol.DecodeVLQBytes(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response data: %w", err)
	}

	return data, nil
}

// tryDecompress attempts to decompress the dictionary data
func (m *MCU) tryDecompress(data []byte) ([]byte, error) {
	// Check if data looks like zlib (starts with 0x78)
	if len(data) < 2 || data[0] != 0x78 {
		return nil, fmt.Errorf("not zlib compressed")
	}

	// TODO: Implement zlib decompression for compressed dictionaries
	// For now, just try to parse as JSON directly
	// Most MCUs send uncompressed for simplicity
	return nil, fmt.Errorf("decompression not yet implemented")
}

// parseDictionary parses the dictionary JSON
func (m *MCU) parseDictionary() error {
	dict := &Dictionary{}
	if err := json.Unmarshal(m.dictionaryData, dict); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	m.dictionary = dict
	return nil
}

// handleResponse handles responses from the MCU (async callback). It
// watches specifically for endstop_state responses and fires the
// matching HomeStart callback registered for that oid.
func (m *MCU) handleResponse(cmdID uint16, data *[]byte) error {
	if m.dictionary == nil {
		return nil
	}
	id, ok := m.dictionary.Responses["endstop_state"]
	if !ok || int(cmdID) != id {
		return nil
	}
	payload := *data
	trig, err := protocol.DecodeEndstopTrigger(&payload)
	if err != nil {
		return nil
	}
	m.endstopMu.Lock()
	cb := m.pendingEndstops[trig.OID]
	delete(m.pendingEndstops, trig.OID)
	m.endstopMu.Unlock()
	if cb == nil {
		return nil
	}
	if trig.Homing {
		cb(trig.Clock, nil)
	}
	return nil
}

// SendStep is the motion.StepCompress.send callback: it issues
// set_next_step_dir only when dir actually changes from the last step
// sent for oid, then queues a single-step burst (count=1, add=0). The
// real wire protocol's step-run compression is out of scope here (the
// core spec treats transport framing as a non-goal); this adapter keeps
// the host-to-MCU contract simple at one queue_step per step clock.
func (m *MCU) SendStep(oid int, clock int64, dir int64) error {
	m.dirMu.Lock()
	last, ok := m.lastDir[oid]
	needDir := !ok || last != dir
	if needDir {
		m.lastDir[oid] = dir
	}
	m.dirMu.Unlock()

	if needDir {
		if err := m.SetNextStepDir(oid, dir); err != nil {
			return err
		}
	}
	return m.QueueStep(oid, uint32(clock), 1, 0)
}

// QueueStep streams one run-length-compressed step burst to oid, the
// wire-level sink StepCompress.Flush drains into.
func (m *MCU) QueueStep(oid int, interval uint32, count uint32, add int32) error {
	return m.SendCommand("queue_step", func(out protocol.OutputBuffer) {
		protocol.EncodeQueueStep(out, oid, interval, count, add)
	})
}

// SetNextStepDir sets the direction pin state the next queued step burst
// on oid will use.
func (m *MCU) SetNextStepDir(oid int, dir int64) error {
	return m.SendCommand("set_next_step_dir", func(out protocol.OutputBuffer) {
		protocol.EncodeSetNextStepDir(out, oid, dir)
	})
}

// ResetStepClock discards oid's queued steps and rebases its clock,
// used after homing completes.
func (m *MCU) ResetStepClock(oid int, clock int64) error {
	return m.SendCommand("reset_step_clock", func(out protocol.OutputBuffer) {
		protocol.EncodeResetStepClock(out, oid, clock)
	})
}

// ConfigStepper issues the one-time config_stepper command binding oid
// to its step/dir pins.
func (m *MCU) ConfigStepper(oid int, stepPin, dirPin uint32, invertStep bool, stepPulseTicks uint32) error {
	return m.SendCommand("config_stepper", func(out protocol.OutputBuffer) {
		protocol.EncodeConfigStepper(out, oid, stepPin, dirPin, invertStep, stepPulseTicks)
	})
}

// GetStepperPosition queries oid's current MCU step position.
func (m *MCU) GetStepperPosition(oid int) (int64, error) {
	if err := m.SendCommand("stepper_get_position", func(out protocol.OutputBuffer) {
		protocol.EncodeStepperGetPosition(out, oid)
	}); err != nil {
		return 0, err
	}
	resp, err := m.transport.ReceiveResponse(2 * time.Second)
	if err != nil {
		return 0, err
	}
	payload := resp.Payload
	if _, err := protocol.DecodeVLQUint(&payload); err != nil {
		return 0, err
	}
	sp, err := protocol.DecodeStepperPosition(&payload)
	if err != nil {
		return 0, err
	}
	return sp.Position, nil
}

// HomeStart arms oid's endstop per homing.Link's contract: onTrigger
// fires exactly once, asynchronously, when the endstop_state response
// for this oid arrives (or with a communication error on timeout,
// handled by the HomingMove/Endstop layer's own wait deadline).
func (m *MCU) HomeStart(oid int, clock int64, sampleTicks int64, sampleCount int, restTicks int64, triggered bool, onTrigger func(triggerClock int64, commErr error)) error {
	m.endstopMu.Lock()
	m.pendingEndstops[oid] = onTrigger
	m.endstopMu.Unlock()
	return m.SendCommand("endstop_home", func(out protocol.OutputBuffer) {
		protocol.EncodeEndstopHome(out, oid, clock, sampleTicks, sampleCount, restTicks, triggered)
	})
}

// QueryEndstop reads oid's instantaneous pin state.
func (m *MCU) QueryEndstop(oid int) (bool, error) {
	if err := m.SendCommand("endstop_query_state", func(out protocol.OutputBuffer) {
		protocol.EncodeEndstopQuery(out, oid)
	}); err != nil {
		return false, err
	}
	resp, err := m.transport.ReceiveResponse(2 * time.Second)
	if err != nil {
		return false, err
	}
	payload := resp.Payload
	if _, err := protocol.DecodeVLQUint(&payload); err != nil {
		return false, err
	}
	trig, err := protocol.DecodeEndstopTrigger(&payload)
	if err != nil {
		return false, err
	}
	return trig.Pin, nil
}

// GetDictionary returns the parsed dictionary
func (m *MCU) GetDictionary() *Dictionary {
	return m.dictionary
}

// GetDictionaryRaw returns the raw dictionary data
func (m *MCU) GetDictionaryRaw() []byte {
	return m.dictionaryData
}

// PrintDictionary prints a summary of the dictionary
func (m *MCU) PrintDictionary() {
	if m.dictionary == nil {
		fmt.Println("No dictionary loaded")
		return
	}

	fmt.Println("\n=== MCU Dictionary ===")
	fmt.Printf("Version: %s\n", m.dictionary.Version)
	fmt.Printf("Build: %s\n", m.dictionary.BuildVersions)

	fmt.Println("\nConfig:")
	for k, v := range m.dictionary.Config {
		fmt.Printf("  %s = %s\n", k, v)
	}

	fmt.Printf("\nCommands (%d):\n", len(m.dictionary.Commands))
	for name, id := range m.dictionary.Commands {
		if id < 10 { // Only show first few
			fmt.Printf("  [%d] %s\n", id, name)
		}
	}
	if len(m.dictionary.Commands) > 10 {
		fmt.Printf("  ... and %d more\n", len(m.dictionary.Commands)-10)
	}

	fmt.Printf("\nResponses (%d):\n", len(m.dictionary.Responses))
	for name, id := range m.dictionary.Responses {
		if id < 10 { // Only show first few
			fmt.Printf("  [%d] %s\n", id, name)
		}
	}
	if len(m.dictionary.Responses) > 10 {
		fmt.Printf("  ... and %d more\n", len(m.dictionary.Responses)-10)
	}

	if len(m.dictionary.Enumerations) > 0 {
		fmt.Printf("\nEnumerations (%d):\n", len(m.dictionary.Enumerations))
		for name, values := range m.dictionary.Enumerations {
			fmt.Printf("  %s: %d values\n", name, len(values))
		}
	}

	fmt.Println("======================\n")
}

// SendCommand sends a generic command to the MCU
func (m *MCU) SendCommand(name string, args func(output protocol.OutputBuffer)) error {
	if !m.connected {
		return fmt.Errorf("not connected to MCU")
	}

	if m.dictionary == nil {
		return fmt.Errorf("dictionary not loaded")
	}

	// Look up command ID
	cmdID, ok := m.dictionary.Commands[name]
	if !ok {
		return fmt.Errorf("unknown command: %s", name)
	}

	return m.transport.SendCommand(uint16(cmdID), args)
}

// IsConnected returns whether the MCU is connected
func (m *MCU) IsConnected() bool {
	return m.connected
}
