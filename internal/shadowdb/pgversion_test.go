// SPDX-License-Identifier: Apache-2.0

package shadowdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMajorVersion(t *testing.T) {
	tests := []struct {
		name    string
		version string
		want    string
	}{
		{"full with suffix", "15.3 (Debian 15.3-1.pgdg120+1)", "15"},
		{"bare minor", "14.9", "14"},
		{"bare major", "16", "16"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MajorVersion(tt.version))
		})
	}
}

func TestCheckSupportedVersion(t *testing.T) {
	tests := []struct {
		name    string
		version string
		wantErr bool
	}{
		{"supported", "15.3 (Debian 15.3-1)", false},
		{"supported bare", "13", false},
		{"unsupported old", "9.6", true},
		{"unsupported future", "99", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckSupportedVersion(tt.version)
			if tt.wantErr {
				assert.Error(t, err)
				var verr UnsupportedVersionError
				assert.ErrorAs(t, err, &verr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalizeSemver(t *testing.T) {
	assert.Equal(t, "v15.0.0", normalizeSemver("15.3"))
	assert.Equal(t, "v13.0.0", normalizeSemver("13"))
}
