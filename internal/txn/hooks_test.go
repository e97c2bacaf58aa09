package txn

import (
	"errors"
	"testing"

	"github.com/meridianos/confd/internal/xmlnode"
)

type lifecyclePlugin struct {
	name    string
	events  *[]string
	initErr error
	state   *xmlnode.Node
}

func (p *lifecyclePlugin) Name() string { return p.name }

func (p *lifecyclePlugin) Init() error {
	*p.events = append(*p.events, p.name+":init")
	return p.initErr
}

func (p *lifecyclePlugin) Start() error {
	*p.events = append(*p.events, p.name+":start")
	return nil
}

func (p *lifecyclePlugin) Reset(db string) error {
	*p.events = append(*p.events, p.name+":reset:"+db)
	return errors.New("reset grumble")
}

func (p *lifecyclePlugin) StateData(xpath string) (*xmlnode.Node, error) {
	if p.state == nil {
		return nil, errors.New("no state today")
	}
	return p.state, nil
}

func (p *lifecyclePlugin) RPCHandler(name string) RPCFunc {
	if name != p.name+"-ping" {
		return nil
	}
	return func(input *xmlnode.Node) (*xmlnode.Node, error) {
		out := xmlnode.New("pong")
		return out, nil
	}
}

func TestInitStopsAtFirstFailure(t *testing.T) {
	var events []string
	bus := NewBus(nil)
	bus.Register(&lifecyclePlugin{name: "a", events: &events})
	bus.Register(&lifecyclePlugin{name: "b", events: &events, initErr: errors.New("nope")})
	bus.Register(&lifecyclePlugin{name: "c", events: &events})

	if err := bus.Init(); err == nil {
		t.Fatalf("expected init failure to propagate")
	}
	want := []string{"a:init", "b:init"}
	if len(events) != len(want) {
		t.Fatalf("expected %v, got %v", want, events)
	}
}

func TestResetErrorsAreSwallowed(t *testing.T) {
	var events []string
	bus := NewBus(nil)
	bus.Register(&lifecyclePlugin{name: "a", events: &events})

	bus.Reset("running")
	if len(events) != 1 || events[0] != "a:reset:running" {
		t.Fatalf("expected reset fan-out, got %v", events)
	}
}

func TestStateDataSkipsFailingPlugins(t *testing.T) {
	var events []string
	good := xmlnode.New("state")
	bus := NewBus(nil)
	bus.Register(&lifecyclePlugin{name: "broken", events: &events})
	bus.Register(&lifecyclePlugin{name: "ok", events: &events, state: good})

	out := bus.StateData("")
	if len(out) != 1 || out[0] != good {
		t.Fatalf("expected only the working plugin's state, got %v", out)
	}
}

func TestRPCResolvesFirstMatchingHandler(t *testing.T) {
	var events []string
	bus := NewBus(nil)
	bus.Register(&lifecyclePlugin{name: "a", events: &events})
	bus.Register(&lifecyclePlugin{name: "b", events: &events})

	if fn := bus.RPC("b-ping"); fn == nil {
		t.Fatalf("expected handler for b-ping")
	} else if out, err := fn(nil); err != nil || out.Name != "pong" {
		t.Fatalf("handler returned %v, %v", out, err)
	}
	if fn := bus.RPC("missing"); fn != nil {
		t.Fatalf("expected no handler for unknown rpc")
	}
}

func TestPluginByName(t *testing.T) {
	var events []string
	a := &lifecyclePlugin{name: "a", events: &events}
	bus := NewBus(nil)
	bus.Register(a)

	if got := bus.PluginByName("a"); got != Plugin(a) {
		t.Fatalf("expected plugin a, got %v", got)
	}
	if got := bus.PluginByName("z"); got != nil {
		t.Fatalf("expected nil for unknown plugin")
	}
}
