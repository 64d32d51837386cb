package binding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScannedCode(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		want    string
		wantErr bool
	}{
		{name: "bare identifier", code: "BAT-998877", want: "BAT-998877"},
		{name: "surrounding whitespace", code: "  BAT-998877\n", want: "BAT-998877"},
		{name: "json identifier field", code: `{"identifier":"BAT-998877"}`, want: "BAT-998877"},
		{name: "json serial field", code: `{"serial":"SN-12345"}`, want: "SN-12345"},
		{name: "identifier beats serial", code: `{"serial":"SN-12345","identifier":"BAT-998877"}`, want: "BAT-998877"},
		{name: "sn field", code: `{"sn":"SN-777"}`, want: "SN-777"},
		{name: "json without known fields falls back to raw", code: `{"vendor":"x"}`, want: `{"vendor":"x"}`},
		{name: "malformed json falls back to raw", code: `{not json`, want: `{not json`},
		{name: "empty", code: "", wantErr: true},
		{name: "whitespace only", code: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScannedCode(tt.code)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShortIdentifier(t *testing.T) {
	assert.Equal(t, "998877", ShortIdentifier("BAT-998877", 6))
	assert.Equal(t, "BAT", ShortIdentifier("BAT", 6))
	assert.Equal(t, "BAT-998877", ShortIdentifier("BAT-998877", 0))
}
