package errs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		fatal     bool
		perPacket bool
		shutdown  bool
	}{
		{"network", fmt.Errorf("recv failed: %w", ErrNetwork), true, false, false},
		{"mac", fmt.Errorf("packet dropped: %w", ErrInvalidMAC), false, true, false},
		{"invalid data", ErrInvalidData, false, true, false},
		{"buf too small", fmt.Errorf("av header: %w", ErrBufTooSmall), false, true, false},
		{"canceled", fmt.Errorf("recv: %w", ErrCanceled), false, false, true},
		{"timeout", ErrTimeout, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
			assert.Equal(t, tt.perPacket, IsPerPacket(tt.err))
			assert.Equal(t, tt.shutdown, IsShutdown(tt.err))
		})
	}
}
