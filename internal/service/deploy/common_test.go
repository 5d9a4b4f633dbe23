package deploy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestParseVersionFromOutput covers the self-check output contract: the
// first line's second whitespace-delimited token is the version.
func TestParseVersionFromOutput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		output  string
		want    string
		wantErr bool
	}{
		{name: "plain", output: "tycana 0.4.0", want: "0.4.0"},
		{name: "labelled", output: "version: 0.4.0, commit: abc123", want: "0.4.0"},
		{name: "multiline", output: "tycana 0.4.0\nbuilt from source", want: "0.4.0"},
		{name: "padded", output: "  tycana 0.4.0  \n", want: "0.4.0"},
		{name: "single token", output: "0.4.0", wantErr: true},
		{name: "empty", output: "", wantErr: true},
		{name: "bare comma", output: "version: ,", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseVersionFromOutput(tt.output)
			if tt.wantErr {
				require.ErrorIs(t, err, errInvalidVersionOutput)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

// TestProbeWorkDir accepts a plain temp dir.
func TestProbeWorkDir(t *testing.T) {
	t.Parallel()

	require.NoError(t, probeWorkDir(context.Background(), t.TempDir()))
}
