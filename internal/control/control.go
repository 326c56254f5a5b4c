// Package control implements the text command surface (spec §4.7,
// C10): short verb+argument instructions routed to the runtime itself
// rather than to a user service, each returning either an empty
// result or a short string.
package control

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/webitel/skywork/internal/actor"
	"github.com/webitel/skywork/internal/core"
	"github.com/webitel/skywork/internal/registry"
	"github.com/webitel/skywork/internal/timer"
)

// Launcher creates a new Service from a module name and argument
// string — bound by the kernel to its own service-creation sequence
// (module.Query → Factory.Create → registry.Register → Factory.Init)
// so this package never needs to know how a Service actually gets
// built.
type Launcher func(modname, args string) (core.Handle, error)

// Surface is the control command dispatcher. One Surface is shared by
// every worker; each method is safe for concurrent use.
type Surface struct {
	reg      *registry.Registry
	wheel    *timer.Wheel
	launch   Launcher
	bootTime time.Time

	envMu sync.RWMutex
	env   map[string]string

	monMu   sync.RWMutex
	monitor core.Handle
}

// New creates a Surface bound to reg for name/handle resolution, wheel
// for TIMEOUT, and launch for LAUNCH.
func New(reg *registry.Registry, wheel *timer.Wheel, launch Launcher, bootTime time.Time) *Surface {
	return &Surface{reg: reg, wheel: wheel, launch: launch, bootTime: bootTime, env: map[string]string{}}
}

// Dispatch executes one command line on behalf of caller (the
// issuing Service), returning the command's result string (empty for
// commands that return NULL per spec's table).
func (s *Surface) Dispatch(caller *actor.Service, line string) (string, error) {
	verb, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToUpper(verb) {
	case "TIMEOUT":
		return s.timeout(caller, rest)
	case "REG":
		return s.reg_(caller, rest)
	case "QUERY":
		return s.query(rest)
	case "NAME":
		return "", s.name(rest)
	case "EXIT":
		s.reg.Retire(caller.Handle())
		return "", nil
	case "KILL":
		return "", s.kill(rest)
	case "LAUNCH":
		return s.launchCmd(rest)
	case "GETENV":
		return s.getenv(rest), nil
	case "SETENV":
		return "", s.setenv(rest)
	case "STARTTIME":
		return strconv.FormatInt(s.bootTime.Unix(), 10), nil
	case "ABORT":
		s.reg.RetireAll()
		return "", nil
	case "MONITOR":
		return "", s.setMonitor(rest)
	case "STAT":
		return s.stat(caller, rest)
	case "LOGON":
		return "", s.logSwitch(rest, true)
	case "LOGOFF":
		return "", s.logSwitch(rest, false)
	case "SIGNAL":
		return "", s.signal(rest)
	default:
		return "", fmt.Errorf("control: unknown command %q", verb)
	}
}

func (s *Surface) timeout(caller *actor.Service, arg string) (string, error) {
	ticks, err := strconv.Atoi(arg)
	if err != nil {
		return "", fmt.Errorf("control: TIMEOUT: %w", err)
	}
	session := caller.NextSession()
	s.wheel.Insert(time.Duration(ticks)*timer.Tick, caller.Handle(), session)
	return strconv.Itoa(int(session)), nil
}

func (s *Surface) reg_(caller *actor.Service, arg string) (string, error) {
	if arg == "" || arg == "." {
		return caller.Handle().String(), nil
	}
	name := strings.TrimPrefix(arg, ".")
	if err := s.reg.BindName(name, caller.Handle()); err != nil {
		return "", err
	}
	return "", nil
}

func (s *Surface) query(arg string) (string, error) {
	name := strings.TrimPrefix(arg, ".")
	h, ok := s.reg.Find(name)
	if !ok {
		return "", nil
	}
	return h.String(), nil
}

func (s *Surface) name(arg string) error {
	parts := strings.SplitN(arg, " ", 2)
	if len(parts) != 2 {
		return fmt.Errorf("control: NAME requires .name :handle")
	}
	name := strings.TrimPrefix(parts[0], ".")
	h, err := core.ParseHandle(strings.TrimSpace(parts[1]))
	if err != nil {
		return err
	}
	return s.reg.BindName(name, h)
}

func (s *Surface) kill(arg string) error {
	h, err := s.resolve(arg)
	if err != nil {
		return err
	}
	s.reg.Retire(h)
	return nil
}

func (s *Surface) launchCmd(arg string) (string, error) {
	modname, args, _ := strings.Cut(arg, " ")
	h, err := s.launch(modname, strings.TrimSpace(args))
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

func (s *Surface) getenv(key string) string {
	s.envMu.RLock()
	defer s.envMu.RUnlock()
	return s.env[key]
}

func (s *Surface) setenv(arg string) error {
	key, value, _ := strings.Cut(arg, " ")
	if key == "" {
		return fmt.Errorf("control: SETENV requires a key")
	}
	s.envMu.Lock()
	s.env[key] = strings.TrimSpace(value)
	s.envMu.Unlock()
	return nil
}

func (s *Surface) setMonitor(arg string) error {
	h, err := core.ParseHandle(arg)
	if err != nil {
		return err
	}
	s.monMu.Lock()
	s.monitor = h
	s.monMu.Unlock()
	return nil
}

// Monitor returns the currently installed exit-watcher Handle, or the
// zero Handle if none was set. The kernel's retire path reads this to
// notify on every retirement.
func (s *Surface) Monitor() core.Handle {
	s.monMu.RLock()
	defer s.monMu.RUnlock()
	return s.monitor
}

func (s *Surface) stat(caller *actor.Service, what string) (string, error) {
	target := caller
	switch strings.ToLower(what) {
	case "mqlen":
		return strconv.Itoa(target.Mailbox().Length()), nil
	case "endless":
		if target.ClearEndless() {
			return "1", nil
		}
		return "0", nil
	case "cpu", "time":
		return strconv.FormatInt(target.CPUCost(), 10), nil
	case "message":
		return strconv.FormatUint(target.MessageCount(), 10), nil
	default:
		return "", fmt.Errorf("control: STAT: unknown field %q", what)
	}
}

func (s *Surface) logSwitch(arg string, on bool) error {
	h, err := core.ParseHandle(arg)
	if err != nil {
		return err
	}
	svc, ok := s.reg.Grab(h)
	if !ok {
		return fmt.Errorf("control: LOGON/LOGOFF: unknown handle %s", h)
	}
	defer svc.Release()
	if on {
		svc.EnableLog(stdoutSink{})
	} else {
		svc.DisableLog()
	}
	return nil
}

func (s *Surface) signal(arg string) error {
	handlePart, nPart, _ := strings.Cut(arg, " ")
	h, err := core.ParseHandle(handlePart)
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(strings.TrimSpace(nPart))
	if err != nil {
		return fmt.Errorf("control: SIGNAL: %w", err)
	}
	svc, ok := s.reg.Grab(h)
	if !ok {
		return fmt.Errorf("control: SIGNAL: unknown handle %s", h)
	}
	defer svc.Release()
	svc.Signal(n)
	return nil
}

func (s *Surface) resolve(arg string) (core.Handle, error) {
	if strings.HasPrefix(arg, ":") {
		return core.ParseHandle(arg)
	}
	name := strings.TrimPrefix(arg, ".")
	h, ok := s.reg.Find(name)
	if !ok {
		return 0, fmt.Errorf("control: unknown name %q", name)
	}
	return h, nil
}

// stdoutSink is the LOGON sink; another sink (such as the admin
// server's tap) can be installed via Service.EnableLog directly.
type stdoutSink struct{}

func (stdoutSink) Printf(format string, args ...any) { fmt.Printf(format+"\n", args...) }
