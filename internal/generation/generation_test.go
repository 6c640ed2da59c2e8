package generation_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/phrazzld/prism-api/internal/generation"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", generation.ErrTransientFailure, true},
		{"wrapped transient", fmt.Errorf("%w: rate limited", generation.ErrTransientFailure), true},
		{"blocked", generation.ErrContentBlocked, false},
		{"invalid response", fmt.Errorf("%w: bad json", generation.ErrInvalidResponse), false},
		{"other", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, generation.IsRetryable(tt.err))
		})
	}
}
