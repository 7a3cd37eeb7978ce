package cli

import (
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epass/server/internal/auth"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "epass-station", cmd.Use)
	assert.Contains(t, cmd.Long, "queued locally")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"scan", "sync", "pull", "status"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "station.yaml", configFlag.DefValue)
}

func TestScanCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	scanCmd, _, err := cmd.Find([]string{"scan"})
	require.NoError(t, err)

	tokenFlag := scanCmd.Flags().Lookup("token")
	require.NotNil(t, tokenFlag)
	assert.Equal(t, "t", tokenFlag.Shorthand)
	assert.Equal(t, "", tokenFlag.DefValue)

	typeFlag := scanCmd.Flags().Lookup("type")
	require.NotNil(t, typeFlag)
	assert.Equal(t, "ARRIVAL", typeFlag.DefValue)

	require.NotNil(t, scanCmd.Flags().Lookup("session"))
}

func TestPullCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	pullCmd, _, err := cmd.Find([]string{"pull"})
	require.NoError(t, err)

	eventFlag := pullCmd.Flags().Lookup("event")
	require.NotNil(t, eventFlag)
	assert.Equal(t, "", eventFlag.DefValue)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "boom")))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
}

func TestScanHelpExamplesAreValid(t *testing.T) {
	cmd := NewRootCommand()
	scanCmd, _, err := cmd.Find([]string{"scan"})
	require.NoError(t, err)

	tokens := regexp.MustCompile(`--token (\S+)`).FindAllStringSubmatch(scanCmd.Long, -1)
	require.NotEmpty(t, tokens)
	for _, m := range tokens {
		assert.True(t, auth.WellFormed(m[1]), "example token %q", m[1])
	}

	for _, m := range regexp.MustCompile(`--session (\S+)`).FindAllStringSubmatch(scanCmd.Long, -1) {
		_, err := uuid.Parse(m[1])
		assert.NoError(t, err, "example session %q", m[1])
	}
}
