package testing

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"
)

// CommandResponse defines a canned response for a specific command pattern.
type CommandResponse struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Error    error
	// Delay holds the response back; a cancelled context wins over it.
	Delay time.Duration
}

type patternResponse struct {
	re   *regexp.Regexp
	resp CommandResponse
}

// MockClient simulates an SSH connection for testing. Commands are
// answered from canned responses: exact matches first, then regex
// patterns in registration order. Unknown commands exit 127.
type MockClient struct {
	mu           sync.Mutex
	host         string
	address      string
	closed       bool
	exact        map[string]CommandResponse
	patterns     []patternResponse
	calls        []string
	inFlight     int
	maxInFlight  int
	keepAliveErr error
}

// NewMockClient creates a new mock SSH client.
func NewMockClient(host string) *MockClient {
	return &MockClient{
		host:    host,
		address: host + ":22",
		exact:   make(map[string]CommandResponse),
	}
}

// Exec answers cmd from the registered responses.
func (m *MockClient) Exec(ctx context.Context, cmd string) (stdout, stderr []byte, exitCode int, err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, nil, -1, errors.New("use of closed network connection")
	}
	m.calls = append(m.calls, cmd)
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	resp, found := m.lookup(cmd)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if !found {
		return nil, []byte("command not found"), 127, nil
	}

	if resp.Delay > 0 {
		timer := time.NewTimer(resp.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, nil, -1, ctx.Err()
		case <-timer.C:
		}
	} else if ctx.Err() != nil {
		return nil, nil, -1, ctx.Err()
	}

	if resp.Error != nil {
		return nil, nil, -1, resp.Error
	}
	return resp.Stdout, resp.Stderr, resp.ExitCode, nil
}

func (m *MockClient) lookup(cmd string) (CommandResponse, bool) {
	if resp, ok := m.exact[cmd]; ok {
		return resp, true
	}
	for _, p := range m.patterns {
		if p.re.MatchString(cmd) {
			return p.resp, true
		}
	}
	return CommandResponse{}, false
}

// SetCommandResponse registers a canned response for an exact command.
func (m *MockClient) SetCommandResponse(cmd string, resp CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exact[cmd] = resp
}

// SetPatternResponse registers a canned response for commands matching
// the regex pattern. Re-registering a pattern replaces its response.
func (m *MockClient) SetPatternResponse(pattern string, resp CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.patterns {
		if p.re.String() == pattern {
			m.patterns[i].resp = resp
			return
		}
	}
	m.patterns = append(m.patterns, patternResponse{re: regexp.MustCompile(pattern), resp: resp})
}

// Calls returns every command executed so far.
func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many executed commands match pattern.
func (m *MockClient) CallCount(pattern string) int {
	re := regexp.MustCompile(pattern)
	n := 0
	for _, c := range m.Calls() {
		if re.MatchString(c) {
			n++
		}
	}
	return n
}

// MaxConcurrent returns the highest number of overlapping Exec calls seen.
func (m *MockClient) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// SetKeepAliveError makes KeepAlive fail with err.
func (m *MockClient) SetKeepAliveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keepAliveErr = err
}

// KeepAlive reports the configured error, or a closed error after Close.
func (m *MockClient) KeepAlive() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("use of closed network connection")
	}
	return m.keepAliveErr
}

// Close marks the connection as closed.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (m *MockClient) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// GetHost returns the host name.
func (m *MockClient) GetHost() string {
	return m.host
}

// GetAddress returns the host:port address.
func (m *MockClient) GetAddress() string {
	return m.address
}
