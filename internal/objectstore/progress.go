package objectstore

import (
	"strconv"
	"strings"
)

// parseProgressLine decodes one "fraction message" line written by
// the ostree subprocess's --progress side channel and forwards it to
// sink. Lines that don't parse are silently dropped; progress is
// advisory and must never fail the operation it's reporting on.
func parseProgressLine(sink ProgressSink, line string) {
	if sink == nil {
		return
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return
	}
	parts := strings.SplitN(line, " ", 2)
	fraction, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return
	}
	message := ""
	if len(parts) == 2 {
		message = parts[1]
	}
	sink.Update(fraction, message)
}
