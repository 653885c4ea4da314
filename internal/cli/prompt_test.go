package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubTerminal(t *testing.T, terminal bool, pw string, err error) {
	t.Helper()
	origRead, origTerm := readPassword, isTerminal
	readPassword = func(int) ([]byte, error) { return []byte(pw), err }
	isTerminal = func(int) bool { return terminal }
	t.Cleanup(func() { readPassword, isTerminal = origRead, origTerm })
}

func TestPrompter_Text(t *testing.T) {
	out := &bytes.Buffer{}
	p := NewPrompter(strings.NewReader("  carol \nlast"), out, 0)

	got, err := p.Text("Username")
	require.NoError(t, err)
	assert.Equal(t, "  carol ", got)
	assert.Equal(t, "Username: ", out.String())

	got, err = p.Text("Nickname")
	require.NoError(t, err)
	assert.Equal(t, "last", got)

	_, err = p.Text("More")
	assert.Error(t, err)
}

func TestPrompter_PasswordFromTerminal(t *testing.T) {
	stubTerminal(t, true, "s3cret", nil)
	out := &bytes.Buffer{}
	p := NewPrompter(strings.NewReader("ignored\n"), out, 0)

	got, err := p.Password("Password")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)
	assert.Equal(t, "Password: \n", out.String())
}

func TestPrompter_PasswordTerminalError(t *testing.T) {
	stubTerminal(t, true, "", errors.New("not a tty"))
	p := NewPrompter(strings.NewReader(""), &bytes.Buffer{}, 0)

	_, err := p.Password("Password")
	assert.Error(t, err)
}

func TestPrompter_PasswordPiped(t *testing.T) {
	stubTerminal(t, false, "", nil)
	p := NewPrompter(strings.NewReader("piped pw\r\n"), &bytes.Buffer{}, 0)

	got, err := p.Password("Password")
	require.NoError(t, err)
	assert.Equal(t, "piped pw", got)
}
