package decode

import (
	"sync"

	"github.com/makiuchi-d/gozxing"
)

// MockDecoder is a test implementation of the Decoder interface.
// It allows tests to control the decode results.
type MockDecoder struct {
	mu      sync.Mutex
	results []*Result
	text    string
	err     error
	calls   int
	closed  bool
}

// NewMockDecoder creates a MockDecoder that finds nothing until told otherwise.
func NewMockDecoder() *MockDecoder {
	return &MockDecoder{}
}

// SetText makes every Decode call return a fresh result with text.
func (m *MockDecoder) SetText(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = text
}

// Queue adds results returned, in order, before falling back to SetText.
func (m *MockDecoder) Queue(results ...*Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, results...)
}

// SetError sets the error that will be returned by Decode.
func (m *MockDecoder) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Decode returns the pre-configured result or error.
func (m *MockDecoder) Decode(src gozxing.LuminanceSource) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.results) > 0 {
		r := m.results[0]
		m.results = m.results[1:]
		return r, nil
	}
	if m.text != "" {
		return NewResult(m.text, "QR_CODE"), nil
	}
	return nil, ErrNoCode
}

// Calls returns how many times Decode ran.
func (m *MockDecoder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Close marks the decoder closed.
func (m *MockDecoder) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockDecoder) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
