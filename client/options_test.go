package client

import (
	"testing"
	"time"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if opts.BatchSize != 0 {
		t.Errorf("expected BatchSize=0, got %d", opts.BatchSize)
	}

	if opts.TextSize != 16777216 {
		t.Errorf("expected TextSize=16777216, got %d", opts.TextSize)
	}

	if opts.DebugMode != false {
		t.Errorf("expected DebugMode=false, got %v", opts.DebugMode)
	}

	if opts.LoginTimeout != 30*time.Second {
		t.Errorf("expected LoginTimeout=30s, got %v", opts.LoginTimeout)
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"defaults", DefaultOptions(), false},
		{"batch size", Options{BatchSize: 100}, false},
		{"negative batch size", Options{BatchSize: -1}, true},
		{"negative text size", Options{TextSize: -5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.validate()
			if tt.wantErr {
				if Code(err) != CodeParameter {
					t.Errorf("expected %s, got %v", CodeParameter, err)
				}
				return
			}
			if err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}
