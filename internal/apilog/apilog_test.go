package apilog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNilLoggerIsNoOp(t *testing.T) {
	var l *Logger
	conn := l.NewConnection("id", "192.0.2.10", 4992)
	conn.Printf("[control %s] OUT %q", "id", "C0|sub slice all")
	require.NoError(t, l.Close())
}

func TestPrintfInfersDirectionAndWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.txt")
	l, err := New(path)
	require.NoError(t, err)
	defer l.Close()

	conn := l.NewConnection("abc", "192.0.2.10", 4992)
	conn.Printf("[control %s] OUT %q", "abc", "C0|sub slice all")
	conn.Printf("[control %s] IN %q", "abc", "R0|0|")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	contents := string(data)
	require.Contains(t, contents, " OUT ")
	require.Contains(t, contents, " IN  ")
	require.Contains(t, contents, "192.0.2.10:4992")
}

func TestEmptyPathDisablesLogging(t *testing.T) {
	l, err := New("")
	require.NoError(t, err)
	require.Nil(t, l)
}
