package objectstore

import (
	"github.com/coreos/go-systemd/v22/journal"
	log "github.com/sirupsen/logrus"
)

// logJournal mirrors the consumed contract's connect_journal_msg
// hook: every lifecycle event the store reports is sent to the
// systemd journal (when available) and always to the structured
// logger, so a host without systemd still gets the event.
func logJournal(event string, fields map[string]string) {
	entry := log.WithField("event", event)
	for k, v := range fields {
		entry = entry.WithField(k, v)
	}
	entry.Info("object store event")

	vars := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		vars[k] = v
	}
	vars["RLXOS_EVENT"] = event
	_ = journal.Send(event, journal.PriInfo, vars)
}
