// Package dbusapi exposes the engine over the system bus at the
// well-known name "dev.rlxos.updates", object path
// "/dev/rlxos/updates" (§6, "Control transport").
package dbusapi

import (
	"context"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	log "github.com/sirupsen/logrus"

	"github.com/rlxos/updated/internal/engine"
	"github.com/rlxos/updated/internal/engineerr"
	"github.com/rlxos/updated/internal/gate"
	"github.com/rlxos/updated/internal/progress"
)

const (
	busName    = "dev.rlxos.updates"
	objectPath = dbus.ObjectPath("/dev/rlxos/updates")
	ifaceName  = "dev.rlxos.updates"
)

// Service binds an *engine.Engine to the system bus connection conn.
type Service struct {
	conn   *dbus.Conn
	engine *engine.Engine
	props  *prop.Properties
}

// deployInfo is the ((refspec, revision)) wire tuple.
type deployInfo struct {
	Refspec  string
	Revision string
}

// stateTuple is the ((refspec, revision), [(refspec, revision)]) wire
// tuple returned by State().
type stateTuple struct {
	Core       deployInfo
	Extensions []deployInfo
}

// Export connects to the system bus, requests busName, and exports
// the engine's methods and the status property at objectPath. It does
// not check whether engine.Load succeeded: callers must call
// engine.Load and check its error before calling Export, per S6.
func Export(e *engine.Engine) (*Service, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindObjectStore, "connect system bus", err)
	}

	svc := &Service{conn: conn, engine: e}

	propsSpec := map[string]map[string]*prop.Prop{
		ifaceName: {
			"status": {
				Value:    uint8(gate.Idle),
				Writable: false,
				Emit:     prop.EmitTrue,
				Callback: nil,
			},
		},
	}
	props, err := prop.Export(conn, objectPath, propsSpec)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindObjectStore, "export properties", err)
	}
	svc.props = props

	if err := conn.Export(svc, objectPath, ifaceName); err != nil {
		return nil, engineerr.Wrap(engineerr.KindObjectStore, "export methods", err)
	}

	node := &introspect.Node{
		Name: string(objectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name: ifaceName,
				Methods: []introspect.Method{
					{Name: "Check", Out: []introspect.Arg{{Name: "changed", Type: "b"}, {Name: "changelog", Type: "s"}}},
					{Name: "Apply", Out: []introspect.Arg{{Name: "changed", Type: "b"}}},
					{Name: "State", Out: []introspect.Arg{{Name: "state", Type: "((ss)a(ss))"}}},
					{Name: "Switch", In: []introspect.Arg{{Name: "channel", Type: "s"}}, Out: []introspect.Arg{{Name: "changed", Type: "b"}}},
					{Name: "Reset", In: []introspect.Arg{{Name: "channel", Type: "s"}}, Out: []introspect.Arg{{Name: "changed", Type: "b"}}},
					{Name: "AddExtension", In: []introspect.Arg{{Name: "ids", Type: "as"}}, Out: []introspect.Arg{{Name: "changed", Type: "b"}}},
					{Name: "List", Out: []introspect.Arg{{Name: "refs", Type: "as"}}},
				},
				Properties: props.Introspection(ifaceName),
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), objectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, engineerr.Wrap(engineerr.KindObjectStore, "export introspection", err)
	}

	// Mirror every gate transition onto the property live, so a
	// concurrent client's GetProperty/PropertiesChanged observes
	// Checking/Deploying for the span of the call instead of only the
	// Idle value left behind once it has already returned.
	e.OnStatusChange(svc.setStatus)

	reply, err := conn.RequestName(busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindObjectStore, "request bus name "+busName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, engineerr.Newf(engineerr.KindObjectStore, "bus name "+busName+" already owned")
	}

	log.WithField("name", busName).Info("claimed bus name")
	return svc, nil
}

// Close releases the bus name and closes the connection.
func (s *Service) Close() error {
	_, _ = s.conn.ReleaseName(busName)
	return s.conn.Close()
}

func (s *Service) setStatus(st gate.Status) {
	_ = s.props.Set(ifaceName, "status", dbus.MakeVariant(uint8(st)))
}

// Check implements the "check" D-Bus method.
func (s *Service) Check() (bool, string, *dbus.Error) {
	changed, changelog, err := s.engine.Check(context.Background(), progress.NewLogSink(0, log.Fields{"op": "check"}))
	if err != nil {
		return false, "", asDBusError(err)
	}
	return changed, changelog, nil
}

// Apply implements the "apply" D-Bus method.
func (s *Service) Apply() (bool, *dbus.Error) {
	changed, err := s.engine.Apply(context.Background(), progress.NewLogSink(0, log.Fields{"op": "apply"}))
	if err != nil {
		return false, asDBusError(err)
	}
	return changed, nil
}

// State implements the "state" D-Bus method.
func (s *Service) State() (stateTuple, *dbus.Error) {
	st, err := s.engine.State(context.Background())
	if err != nil {
		return stateTuple{}, asDBusError(err)
	}
	return toWireTuple(st), nil
}

// Switch implements the "switch" D-Bus method.
func (s *Service) Switch(channel string) (bool, *dbus.Error) {
	changed, err := s.engine.Switch(context.Background(), channel, progress.NewLogSink(0, log.Fields{"op": "switch"}))
	if err != nil {
		return false, asDBusError(err)
	}
	return changed, nil
}

// Reset implements the "reset" D-Bus method.
func (s *Service) Reset(channel string) (bool, *dbus.Error) {
	changed, err := s.engine.Reset(context.Background(), channel, progress.NewLogSink(0, log.Fields{"op": "reset"}))
	if err != nil {
		return false, asDBusError(err)
	}
	return changed, nil
}

// AddExtension implements the "add_extension" D-Bus method.
func (s *Service) AddExtension(ids []string) (bool, *dbus.Error) {
	changed, err := s.engine.AddExtension(context.Background(), ids, progress.NewLogSink(0, log.Fields{"op": "add_extension"}))
	if err != nil {
		return false, asDBusError(err)
	}
	return changed, nil
}

// List implements the "list" D-Bus method. It always targets the
// store's default remote; the method takes no remote argument, so the
// CLI's "--remote" flag is not forwarded to it (§6).
func (s *Service) List() ([]string, *dbus.Error) {
	refs, err := s.engine.List(context.Background(), "")
	if err != nil {
		return nil, asDBusError(err)
	}
	return refs, nil
}

func toWireTuple(st engine.States) stateTuple {
	exts := make([]deployInfo, len(st.Extensions))
	for i, e := range st.Extensions {
		exts[i] = deployInfo{Refspec: e.Refspec, Revision: e.Revision}
	}
	return stateTuple{
		Core:       deployInfo{Refspec: st.Core.Refspec, Revision: st.Core.Revision},
		Extensions: exts,
	}
}

// asDBusError maps an engineerr.Error onto the two bus-visible error
// names §6 documents: EngineIsBusy is reported by name, everything
// else collapses to the generic wrapped Engine(string) error.
func asDBusError(err error) *dbus.Error {
	if engineerr.KindOf(err) == engineerr.KindEngineIsBusy {
		return dbus.NewError(ifaceName+".EngineIsBusy", nil)
	}
	return dbus.NewError(ifaceName+".Engine", []interface{}{err.Error()})
}
