package bridge

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/bascanada/epidata/pkg/log"
)

// PumpLog forwards the lines of an engine side stream (usually stderr) to
// the application logger until r is exhausted. Lines carrying an ERROR or
// WARN marker keep their level, others are logged at debug.
func PumpLog(name string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch lineLevel(line) {
		case "ERROR":
			log.Error("%s: %s", name, line)
		case "WARN":
			log.Warn("%s: %s", name, line)
		default:
			log.Debug("%s: %s", name, line)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
		log.Debug("%s: stream ended: %v", name, err)
	}
}

func lineLevel(line string) string {
	for _, level := range []string{"ERROR", "WARN"} {
		if strings.HasPrefix(line, "["+level+"]") || strings.Contains(line, " "+level+" ") {
			return level
		}
	}
	return ""
}
