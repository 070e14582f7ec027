package config

import "testing"

func TestNewLogger(t *testing.T) {
	cases := []struct {
		name    string
		cfg     LoggingConfig
		wantErr bool
	}{
		{name: "defaults", cfg: LoggingConfig{}},
		{name: "debug json", cfg: LoggingConfig{Level: "debug", Format: "json"}},
		{name: "warn console", cfg: LoggingConfig{Level: "warn", Format: "console"}},
		{name: "invalid level", cfg: LoggingConfig{Level: "banana"}, wantErr: true},
		{name: "invalid format", cfg: LoggingConfig{Level: "info", Format: "xml"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			logger, err := NewLogger(tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLogger: %v", err)
			}
			if logger == nil {
				t.Fatal("expected non-nil logger")
			}
		})
	}
}
