package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/openmined/cryptsync/internal/version"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"version"}, version.Detailed()},
		{[]string{"version", "--short"}, version.Short()},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			cmd := &cobra.Command{Use: "cryptsync"}
			cmd.AddCommand(newVersionCmd())

			var out bytes.Buffer
			cmd.SetOut(&out)
			cmd.SetErr(&out)
			cmd.SetArgs(tt.args)

			require.NoError(t, cmd.Execute())
			require.Equal(t, tt.want, strings.TrimSpace(out.String()))
		})
	}
}
