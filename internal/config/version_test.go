package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		name    string
		version int
		wantErr bool
	}{
		{name: "omitted", version: 0},
		{name: "current", version: CurrentVersion},
		{name: "negative", version: -1, wantErr: true},
		{name: "newer", version: CurrentVersion + 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVersion(tt.version)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateVersion(%d) error = %v, wantErr %v", tt.version, err, tt.wantErr)
			}
			if err == nil {
				return
			}
			var ve *VersionError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *VersionError, got %T", err)
			}
		})
	}
}

func TestVersionErrorMessages(t *testing.T) {
	if got := (*VersionError)(nil).Error(); got != "" {
		t.Fatalf("nil VersionError = %q", got)
	}
	newer := &VersionError{Version: 2, Current: 1}
	if !strings.Contains(newer.Error(), "upgrade ablate") {
		t.Errorf("newer message = %q", newer.Error())
	}
}
