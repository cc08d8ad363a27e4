package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBashCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		names   []string
	}{
		{"simple", "ls -la", []string{"ls"}},
		{"pipeline", "cat file.txt | grep pattern", []string{"cat", "grep"}},
		{"and chain", "git add . && git commit -m 'message'", []string{"git", "git"}},
		{"or chain", "test -f file.txt || touch file.txt", []string{"test", "touch"}},
		{"semicolon", "echo hello; rm -f x", []string{"echo", "rm"}},
		{"redirect", "echo test > output.txt", []string{"echo"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			commands, err := ParseBashCommand(tt.command)
			require.NoError(t, err)
			var names []string
			for _, c := range commands {
				names = append(names, c.Name)
			}
			assert.Equal(t, tt.names, names)
		})
	}
}

func TestParseBashCommand_Subcommand(t *testing.T) {
	commands, err := ParseBashCommand("git push --force origin main")
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, "push", commands[0].Subcommand)
	assert.Equal(t, []string{"push", "--force", "origin", "main"}, commands[0].Args)
}

func TestParseBashCommand_CommandSubstitution(t *testing.T) {
	commands, err := ParseBashCommand("echo $(rm -rf build)")
	require.NoError(t, err)

	var found bool
	for _, c := range commands {
		if c.Name == "rm" {
			found = true
		}
	}
	assert.True(t, found, "commands inside $() must be visible to the policy")
}

func TestParseBashCommand_Quoted(t *testing.T) {
	commands, err := ParseBashCommand(`echo "hello world" 'single quoted' $HOME`)
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, []string{"hello world", "single quoted", "$HOME"}, commands[0].Args)
}

func TestParseBashCommand_Invalid(t *testing.T) {
	_, err := ParseBashCommand(`echo "unclosed`)
	assert.Error(t, err)
}
