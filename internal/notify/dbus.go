package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/mbrock/backendshell/internal/process"
)

const (
	busName   = "org.freedesktop.Notifications"
	busPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	busIface  = "org.freedesktop.Notifications"
	sigAction = busIface + ".ActionInvoked"
	sigClosed = busIface + ".NotificationClosed"

	actionRestart = "restart"

	urgencyCritical = byte(2)
)

// DefaultAnswerTimeout bounds how long a restart prompt waits for the user.
const DefaultAnswerTimeout = 2 * time.Minute

// DBus shows desktop notifications through org.freedesktop.Notifications.
type DBus struct {
	AppName string
	// AnswerTimeout bounds the wait for a click on a restart prompt.
	AnswerTimeout time.Duration

	conn *dbus.Conn
	obj  dbus.BusObject
	log  *slog.Logger
}

var _ Notifier = (*DBus)(nil)

// ConnectDBus connects to the session bus. It fails if no notification
// server owns the well-known name.
func ConnectDBus(appName string, log *slog.Logger) (*DBus, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connecting to session bus: %w", err)
	}

	var hasOwner bool
	err = conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, busName).Store(&hasOwner)
	if err != nil || !hasOwner {
		conn.Close()
		if err == nil {
			err = fmt.Errorf("no owner for %s", busName)
		}
		return nil, fmt.Errorf("notification service unavailable: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}
	return &DBus{
		AppName:       appName,
		AnswerTimeout: DefaultAnswerTimeout,
		conn:          conn,
		obj:           conn.Object(busName, busPath),
		log:           log.With("component", "notify"),
	}, nil
}

// Detect returns a desktop notifier when one is available and a Log
// notifier otherwise.
func Detect(appName string, log *slog.Logger) Notifier {
	n, err := ConnectDBus(appName, log)
	if err != nil {
		if log != nil {
			log.Debug("desktop notifications unavailable", "error", err)
		}
		return &Log{Logger: log, AutoRestart: true}
	}
	return n
}

func (n *DBus) Close() error {
	return n.conn.Close()
}

func (n *DBus) BackendExited(ctx context.Context, st process.Status) (bool, error) {
	match := []dbus.MatchOption{
		dbus.WithMatchInterface(busIface),
		dbus.WithMatchObjectPath(busPath),
	}
	if err := n.conn.AddMatchSignal(match...); err != nil {
		return false, fmt.Errorf("subscribing to notification signals: %w", err)
	}
	defer n.conn.RemoveMatchSignal(match...)

	signals := make(chan *dbus.Signal, 16)
	n.conn.Signal(signals)
	defer n.conn.RemoveSignal(signals)

	id, err := n.notify(ctx, "Backend stopped", describeExit(st)+" Restart it?",
		[]string{"default", "Restart", actionRestart, "Restart"})
	if err != nil {
		return false, err
	}

	timeout := n.AnswerTimeout
	if timeout <= 0 {
		timeout = DefaultAnswerTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	restart, answered := awaitAnswer(ctx, signals, id)
	if !answered {
		n.dismiss(id)
		n.log.Info("restart prompt unanswered", "id", id)
	}
	return restart, nil
}

func (n *DBus) Fatal(ctx context.Context, msg string) error {
	_, err := n.notify(ctx, n.AppName+" could not start", msg, nil)
	return err
}

func (n *DBus) notify(ctx context.Context, summary, body string, actions []string) (uint32, error) {
	if actions == nil {
		actions = []string{}
	}
	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(urgencyCritical),
	}

	var id uint32
	err := n.obj.CallWithContext(ctx, busIface+".Notify", 0,
		n.AppName, uint32(0), "dialog-error", summary, body, actions, hints, int32(0)).Store(&id)
	if err != nil {
		return 0, fmt.Errorf("sending notification: %w", err)
	}
	return id, nil
}

func (n *DBus) dismiss(id uint32) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if call := n.obj.CallWithContext(ctx, busIface+".CloseNotification", 0, id); call.Err != nil {
		n.log.Debug("closing notification", "id", id, "error", call.Err)
	}
}

// awaitAnswer waits for the user to act on notification id. It reports
// whether a restart was requested and whether any answer arrived.
func awaitAnswer(ctx context.Context, signals <-chan *dbus.Signal, id uint32) (restart, answered bool) {
	for {
		select {
		case <-ctx.Done():
			return false, false
		case sig, ok := <-signals:
			if !ok {
				return false, false
			}
			if sig.Path != busPath || len(sig.Body) < 2 {
				continue
			}
			if sigID, ok := sig.Body[0].(uint32); !ok || sigID != id {
				continue
			}
			switch sig.Name {
			case sigAction:
				key, _ := sig.Body[1].(string)
				return key == actionRestart || key == "default", true
			case sigClosed:
				return false, true
			}
		}
	}
}
