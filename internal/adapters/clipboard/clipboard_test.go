package clipboard

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func TestSystemClipboardPreferred(t *testing.T) {
	var got string
	var tty bytes.Buffer
	c := &Clipboard{
		system: func(s string) error { got = s; return nil },
		tty:    func() (io.WriteCloser, error) { return nopCloser{&tty}, nil },
	}
	require.NoError(t, c.WriteText("42"))
	require.Equal(t, "42", got)
	require.Zero(t, tty.Len())
}

func TestFallsBackToOSC52(t *testing.T) {
	var tty bytes.Buffer
	c := &Clipboard{
		system: func(string) error { return errors.New("xclip not found") },
		tty:    func() (io.WriteCloser, error) { return nopCloser{&tty}, nil },
	}
	require.NoError(t, c.WriteText("42"))
	require.Contains(t, tty.String(), "\x1b]52;c;"+base64.StdEncoding.EncodeToString([]byte("42")))
}

func TestNoClipboard(t *testing.T) {
	c := &Clipboard{
		tty: func() (io.WriteCloser, error) { return nil, errors.New("no tty") },
	}
	require.ErrorIs(t, c.WriteText("42"), ErrNoClipboard)
	require.ErrorIs(t, (&Clipboard{}).WriteText("42"), ErrNoClipboard)
}
