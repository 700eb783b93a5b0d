// Package clipboard copies text to the system clipboard, falling back to
// the OSC 52 terminal escape when no clipboard utility is installed.
package clipboard

import (
	"errors"
	"io"
	"os"

	"github.com/atotto/clipboard"
	"github.com/muesli/termenv"
	"github.com/rs/zerolog/log"
)

var ErrNoClipboard = errors.New("no clipboard available")

type Clipboard struct {
	system func(string) error
	tty    func() (io.WriteCloser, error)
}

func New() *Clipboard {
	c := &Clipboard{tty: openTTY}
	if !clipboard.Unsupported {
		c.system = clipboard.WriteAll
	}
	return c
}

func openTTY() (io.WriteCloser, error) {
	return os.OpenFile("/dev/tty", os.O_WRONLY, 0)
}

// WriteText copies text. The OSC 52 fallback writes straight to /dev/tty so
// it does not interleave with the UI renderer.
func (c *Clipboard) WriteText(text string) error {
	if c.system != nil {
		err := c.system(text)
		if err == nil {
			return nil
		}
		log.Debug().Err(err).Str("module", "adapters.clipboard").Msg("system clipboard failed, trying OSC 52")
	}
	if c.tty == nil {
		return ErrNoClipboard
	}
	w, err := c.tty()
	if err != nil {
		return errors.Join(ErrNoClipboard, err)
	}
	defer w.Close()

	termenv.NewOutput(w).Copy(text)
	return nil
}
