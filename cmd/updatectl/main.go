// Command updatectl is the CLI surface for the update daemon: it
// talks to dev.rlxos.updates over the system bus and never touches
// the sysroot directly.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	busName    = "dev.rlxos.updates"
	objectPath = dbus.ObjectPath("/dev/rlxos/updates")
	ifaceName  = "dev.rlxos.updates"
)

var (
	includeExtensions []string
	excludeExtensions []string
	updateChannel     string
	resetFlag         bool
	checkOnly         bool

	listRemote string
	listAll    bool

	root = &cobra.Command{
		Use:   "updatectl",
		Short: "control the rlxos update engine",
	}

	cmdUpdate = &cobra.Command{
		Use:   "update",
		Short: "check for and apply updates",
		RunE:  runUpdate,
	}

	cmdStatus = &cobra.Command{
		Use:   "status",
		Short: "show the current deployment state",
		RunE:  runStatus,
	}

	cmdUnlock = &cobra.Command{
		Use:   "unlock",
		Short: "report whether the engine is currently busy",
		RunE:  runUnlock,
	}

	cmdList = &cobra.Command{
		Use:   "list",
		Short: "list refs advertised by the remote",
		RunE:  runList,
	}
)

func init() {
	log.SetOutput(os.Stderr)

	cmdUpdate.Flags().StringArrayVar(&includeExtensions, "include", nil, "extension id to add")
	cmdUpdate.Flags().StringArrayVar(&excludeExtensions, "exclude", nil, "extension id to remove (unsupported: the engine only adds)")
	cmdUpdate.Flags().StringVar(&updateChannel, "channel", "", "switch to this channel before updating")
	cmdUpdate.Flags().BoolVar(&resetFlag, "reset", false, "clear extensions when switching channel")
	cmdUpdate.Flags().BoolVar(&checkOnly, "check", false, "dry run: report changes without applying them")

	cmdList.Flags().StringVar(&listRemote, "remote", "", "accepted but not sent to the daemon, which always lists the store's first remote")
	cmdList.Flags().BoolVar(&listAll, "all", false, "include extension refs in addition to os refs")

	root.AddCommand(cmdUpdate, cmdStatus, cmdUnlock, cmdList)
}

func main() {
	if err := root.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func dial() (dbus.BusObject, *dbus.Conn, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, nil, errors.Wrap(err, "connecting to system bus")
	}
	return conn.Object(busName, objectPath), conn, nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	obj, conn, err := dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	if updateChannel != "" {
		var changed bool
		method := ifaceName + ".Switch"
		if resetFlag {
			method = ifaceName + ".Reset"
		}
		if err := obj.Call(method, 0, updateChannel).Store(&changed); err != nil {
			return errors.Wrap(unwrapBusy(err), "switching channel")
		}
		fmt.Println(resultLine(changed))
		return nil
	}

	if len(includeExtensions) > 0 {
		var changed bool
		if err := obj.Call(ifaceName+".AddExtension", 0, includeExtensions).Store(&changed); err != nil {
			return errors.Wrap(unwrapBusy(err), "adding extensions")
		}
		fmt.Println(resultLine(changed))
		return nil
	}

	if checkOnly {
		var changed bool
		var changelog string
		if err := obj.Call(ifaceName+".Check", 0).Store(&changed, &changelog); err != nil {
			return errors.Wrap(unwrapBusy(err), "checking for updates")
		}
		if changed {
			fmt.Println("update available")
		} else {
			fmt.Println(resultLine(changed))
		}
		if changelog != "" {
			fmt.Print(changelog)
		}
		return nil
	}

	var changed bool
	if err := obj.Call(ifaceName+".Apply", 0).Store(&changed); err != nil {
		return errors.Wrap(unwrapBusy(err), "applying update")
	}
	fmt.Println(resultLine(changed))
	return nil
}

func resultLine(changed bool) string {
	if changed {
		return "update applied"
	}
	return "already up to date"
}

type deployInfo struct {
	Refspec  string
	Revision string
}

type stateTuple struct {
	Core       deployInfo
	Extensions []deployInfo
}

func runStatus(cmd *cobra.Command, args []string) error {
	obj, conn, err := dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	var st stateTuple
	if err := obj.Call(ifaceName+".State", 0).Store(&st); err != nil {
		return errors.Wrap(unwrapBusy(err), "fetching state")
	}

	fmt.Printf("core:     %s @ %s\n", st.Core.Refspec, shortRev(st.Core.Revision))
	for _, ext := range st.Extensions {
		fmt.Printf("extension: %s @ %s\n", ext.Refspec, shortRev(ext.Revision))
	}
	return nil
}

func runUnlock(cmd *cobra.Command, args []string) error {
	obj, conn, err := dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	variant, err := obj.GetProperty(ifaceName + ".status")
	if err != nil {
		return errors.Wrap(err, "reading status")
	}
	status, ok := variant.Value().(uint8)
	if !ok {
		return errors.New("unexpected status property type")
	}
	fmt.Println(statusName(status))
	return nil
}

func statusName(s uint8) string {
	switch s {
	case 0:
		return "idle"
	case 1:
		return "checking"
	case 2:
		return "deploying"
	default:
		return "unknown"
	}
}

func runList(cmd *cobra.Command, args []string) error {
	obj, conn, err := dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	var refs []string
	if err := obj.Call(ifaceName+".List", 0).Store(&refs); err != nil {
		return errors.Wrap(unwrapBusy(err), "listing refs")
	}
	for _, ref := range refs {
		if !listAll && isExtensionRef(ref) {
			continue
		}
		fmt.Println(ref)
	}
	return nil
}

func isExtensionRef(ref string) bool {
	return strings.Contains(ref, "/extension/")
}

func shortRev(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// unwrapBusy turns the bus-level EngineIsBusy error name into a
// message the errors.Wrap chain renders cleanly, matching the exit
// code policy of §6: any surfaced error is exit code 1.
func unwrapBusy(err error) error {
	if dbusErr, ok := err.(*dbus.Error); ok && dbusErr.Name == ifaceName+".EngineIsBusy" {
		return errors.New("engine is busy, try again")
	}
	return err
}
