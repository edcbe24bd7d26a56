package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/morezero/editor-bridge/pkg/adapters"
	"github.com/morezero/editor-bridge/pkg/host"
	"github.com/morezero/editor-bridge/pkg/protocol"
	"github.com/morezero/editor-bridge/pkg/registry"
	"github.com/morezero/editor-bridge/pkg/scheduler"
)

// newEditorDispatcher wires the simulated editor to a running main loop.
func newEditorDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	loop := host.NewMainLoop(time.Millisecond)
	if err := loop.Start(ctx); err != nil {
		t.Fatalf("%s - start loop: %v", testPrefix, err)
	}
	t.Cleanup(loop.Stop)

	sched := scheduler.New(scheduler.Options{})
	if err := sched.Start(loop); err != nil {
		t.Fatalf("%s - start scheduler: %v", testPrefix, err)
	}
	t.Cleanup(sched.Stop)

	reg := registry.NewRegistry()
	if err := adapters.RegisterAll(reg, adapters.EditorDeps(host.NewEditor(), reg, nil)); err != nil {
		t.Fatalf("%s - register adapters: %v", testPrefix, err)
	}
	reg.Freeze()

	disp, err := New(Options{
		Registry:  reg,
		Scheduler: sched,
		Readiness: host.NewAvailability("5.4.0", host.AllSubsystems...),
		Timeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("%s - new dispatcher: %v", testPrefix, err)
	}
	return disp
}

func TestEditor_CreateNodeScenario(t *testing.T) {
	disp := newEditorDispatcher(t)
	conn := newFakeConn("c1")
	s := disp.OnConnect(conn)

	disp.HandleFrame(s, []byte(`{"id":"0","command":"create_blueprint","parameters":{"name":"BP_Test"}}`))
	if resp := conn.next(t); !resp.OK() {
		t.Fatalf("%s - create_blueprint failed: %+v", testPrefix, resp.Error)
	}

	disp.HandleFrame(s, []byte(`{"id":"1","command":"create_node","parameters":{"graph":"BP_Test","type":"Add"}}`))
	resp := conn.next(t)
	if resp.ID != "1" || !resp.OK() {
		t.Fatalf("%s - create_node failed: %+v", testPrefix, resp)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok || result["node_id"] == "" || result["node_id"] == nil {
		t.Fatalf("%s - expected a generated node_id, got %v", testPrefix, resp.Result)
	}

	disp.HandleFrame(s, []byte(`{"id":"1","command":"create_node","parameters":{"graph":"BP_Nope","type":"Add"}}`))
	resp = conn.next(t)
	if resp.ID != "1" || resp.Error == nil || resp.Error.Kind != protocol.KindAdapter {
		t.Fatalf("%s - expected AdapterError, got %+v", testPrefix, resp)
	}
	if resp.Error.Message != "graph not found" || resp.Error.Details["graph"] != "BP_Nope" {
		t.Fatalf("%s - unexpected error %q %v", testPrefix, resp.Error.Message, resp.Error.Details)
	}
}

func TestEditor_OrderedSetPropertyLastWriteWins(t *testing.T) {
	disp := newEditorDispatcher(t)
	conn := newFakeConn("writer")
	s := disp.OnConnect(conn)

	disp.OnMessage(s, req("bp", "create_blueprint", "name", "BP_Order"))
	disp.OnMessage(s, req("node", "create_node", "graph", "BP_Order", "type", "Add"))
	var nodeID string
	for i := 0; i < 2; i++ {
		resp := conn.next(t)
		if !resp.OK() {
			t.Fatalf("%s - setup failed: %+v", testPrefix, resp.Error)
		}
		if resp.ID == "node" {
			nodeID = resp.Result.(map[string]interface{})["node_id"].(string)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			other := newFakeConn(fmt.Sprintf("reader-%d", i))
			rs := disp.OnConnect(other)
			defer disp.OnDisconnect(rs)
			for j := 0; j < 25; j++ {
				disp.OnMessage(rs, req(fmt.Sprintf("%d", j), "list_nodes", "graph", "BP_Order"))
			}
			for j := 0; j < 25; j++ {
				select {
				case <-other.ch:
				case <-time.After(2 * time.Second):
					t.Errorf("%s - reader %d got %d of 25 responses", testPrefix, i, j)
					return
				}
			}
		}(i)
	}

	for round := 0; round < 20; round++ {
		disp.OnMessage(s, req(fmt.Sprintf("r%d-1", round), "set_property", "node", nodeID, "prop", "A", "val", 1))
		disp.OnMessage(s, req(fmt.Sprintf("r%d-2", round), "set_property", "node", nodeID, "prop", "A", "val", 2))
		for i := 0; i < 2; i++ {
			if resp := conn.next(t); !resp.OK() {
				t.Fatalf("%s - round %d: %+v", testPrefix, round, resp.Error)
			}
		}

		disp.OnMessage(s, req(fmt.Sprintf("r%d-get", round), "get_property", "node", nodeID, "prop", "A"))
		resp := conn.next(t)
		if !resp.OK() {
			t.Fatalf("%s - round %d: %+v", testPrefix, round, resp.Error)
		}
		if got := resp.Result.(map[string]interface{})["val"]; fmt.Sprint(got) != "2" {
			t.Fatalf("%s - round %d: expected 2, got %v", testPrefix, round, got)
		}
	}
	wg.Wait()
}
