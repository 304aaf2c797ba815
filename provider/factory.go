package provider

import (
	"log"
	"os"
	"time"
)

const (
	// EnvMode is the environment variable name for backend selection.
	EnvMode = "CHATSTREAM_MODE"
	// ModeMock indicates the mock backend should be used.
	ModeMock = "MOCK"
)

// NewBackend creates a backend based on the CHATSTREAM_MODE environment
// variable. If CHATSTREAM_MODE=MOCK, returns a MockBackend; otherwise an
// OpenAI-compatible HTTP backend.
func NewBackend(name, baseURL, apiKey string, timeout time.Duration) Backend {
	if os.Getenv(EnvMode) == ModeMock {
		log.Println("CHATSTREAM_MODE=MOCK detected, using mock backend")
		return NewMockBackend()
	}
	return NewOpenAIBackend(name, baseURL, apiKey, timeout)
}
