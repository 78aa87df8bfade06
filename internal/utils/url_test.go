package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://gateway.cryptsync.io", false},
		{"http://127.0.0.1:8080", false},
		{"https://gateway.cryptsync.io/api", false},
		{"ftp://gateway.cryptsync.io", true},
		{"gateway.cryptsync.io", true},
		{"https://", true},
		{"", true},
		{"http://[::1", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
