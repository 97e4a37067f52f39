// Package logging configures the log15 root logger.
package logging

import (
	"fmt"
	"io"
	"strings"

	log "github.com/inconshreveable/log15"
)

// Setup installs a root handler that writes logfmt records at or above
// level to w.
func Setup(level string, w io.Writer) error {
	lvl, err := log.LvlFromString(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(w, log.LogfmtFormat())))
	return nil
}

// Discard silences the root logger.
func Discard() {
	log.Root().SetHandler(log.DiscardHandler())
}
