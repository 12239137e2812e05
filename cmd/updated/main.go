// Command updated is the long-lived privileged daemon that owns the
// sysroot and exposes it over the system bus as dev.rlxos.updates.
package main

import (
	"context"
	"flag"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/coreos/go-systemd/v22/journal"
	log "github.com/sirupsen/logrus"

	"github.com/rlxos/updated/internal/dbusapi"
	"github.com/rlxos/updated/internal/engine"
	"github.com/rlxos/updated/internal/objectstore"
)

func main() {
	sysroot := flag.String("sysroot", "/", "path to the sysroot")
	osname := flag.String("osname", "rlxos", "osname of the deployment this daemon manages")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		log.SetLevel(log.DebugLevel)
	}
	if ok, _ := journal.StderrIsJournalStream(); !ok {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	store := objectstore.NewCLIStore(*sysroot, *osname)
	e := engine.New(store, *osname)

	ctx := context.Background()
	if err := e.Load(ctx); err != nil {
		log.WithError(err).Fatal("failed to initialize engine")
	}

	svc, err := dbusapi.Export(e)
	if err != nil {
		log.WithError(err).Fatal("failed to export control surface")
	}
	defer svc.Close()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.WithError(err).Warn("failed to notify readiness")
	} else if sent {
		log.Debug("sent READY=1 to the service manager")
	}

	log.WithFields(log.Fields{"sysroot": *sysroot, "osname": *osname}).Info("rlxos update engine ready")

	select {}
}
