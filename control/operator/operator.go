// Package operator implements the pipeline-ordered sequencing and
// system-level status aggregation spec.md §4.6 assigns to the Operator:
// it is the only component that calls Start/Stop on every other
// component, and it does so in an order that prevents the unbounded
// ZMQ subscriber queue growth §4.6 calls out as an observed incident.
package operator

import (
	"fmt"
	"sort"
	"time"

	"github.com/usnistgov/delila/control"
)

// Component names one addressable command endpoint and its position in
// the data-flow pipeline. Lower PipelineOrder is further upstream
// (sources); higher is further downstream (recorder, monitor).
//
// Label and Name are distinct because every Source process registers its
// control.Service under the same RPC name ("Source"): Name is that RPC
// service name (passed to control.Dial, prefixed onto every RPC method),
// while Label is a caller-assigned unique identifier (e.g. "Source-1")
// used to key the Operator's client map and status output so multiple
// same-kind components never collide.
type Component struct {
	Label         string
	Name          string
	Addr          string
	PipelineOrder int
}

// Operator dials every configured component's command endpoint and
// drives coordinated Start/Stop sequences across them.
type Operator struct {
	components []Component
	clients    map[string]*control.Client
	nextReqID  uint32
}

// New dials every component in components. On a dial failure for any one
// of them, already-dialed clients are closed and the error is returned.
func New(components []Component) (*Operator, error) {
	clients := make(map[string]*control.Client, len(components))
	for _, c := range components {
		cl, err := control.Dial(c.Name, c.Addr)
		if err != nil {
			for _, open := range clients {
				open.Close()
			}
			return nil, fmt.Errorf("operator: dial %s at %s: %w", c.Label, c.Addr, err)
		}
		clients[c.Label] = cl
	}
	return &Operator{components: components, clients: clients}, nil
}

// Close disconnects from every component.
func (o *Operator) Close() {
	for _, cl := range o.clients {
		cl.Close()
	}
}

func (o *Operator) reqID() uint32 {
	o.nextReqID++
	return o.nextReqID
}

// descendingGroups partitions components into batches sharing a
// PipelineOrder, ordered from highest (most downstream) to lowest.
// Components in the same batch may be commanded in parallel.
func descendingGroups(components []Component) [][]Component {
	return groupByOrder(components, true)
}

// ascendingGroups is the stop-sequence counterpart: lowest order first.
func ascendingGroups(components []Component) [][]Component {
	return groupByOrder(components, false)
}

func groupByOrder(components []Component, descending bool) [][]Component {
	byOrder := map[int][]Component{}
	var orders []int
	for _, c := range components {
		if _, ok := byOrder[c.PipelineOrder]; !ok {
			orders = append(orders, c.PipelineOrder)
		}
		byOrder[c.PipelineOrder] = append(byOrder[c.PipelineOrder], c)
	}
	sort.Ints(orders)
	if descending {
		for i, j := 0, len(orders)-1; i < j; i, j = i+1, j-1 {
			orders[i], orders[j] = orders[j], orders[i]
		}
	}
	groups := make([][]Component, len(orders))
	for i, ord := range orders {
		groups[i] = byOrder[ord]
	}
	return groups
}

// pollInterval is how often the Operator re-checks a component's state
// while waiting for it to reach Running after a Start command.
const pollInterval = 20 * time.Millisecond

// Start issues Start(runNumber) to every component in descending
// PipelineOrder, waiting for each batch to report Running before moving
// to the next, so a downstream recorder is always ready before an
// upstream source begins producing data.
func (o *Operator) Start(runNumber int, timeout time.Duration) error {
	for _, batch := range descendingGroups(o.components) {
		for _, c := range batch {
			cl := o.clients[c.Label]
			resp, err := cl.Start(o.reqID(), runNumber)
			if err != nil {
				return fmt.Errorf("operator: Start %s: %w", c.Label, err)
			}
			if !resp.Success {
				return fmt.Errorf("operator: Start %s rejected: %s", c.Label, resp.Message)
			}
		}
		for _, c := range batch {
			if err := o.waitForState(c, "Running", timeout); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stop issues Stop to every component in ascending PipelineOrder,
// draining sources before the merger and recorder so EndOfStream
// propagates cleanly (spec.md §4.6).
func (o *Operator) Stop(timeout time.Duration) error {
	for _, batch := range ascendingGroups(o.components) {
		for _, c := range batch {
			cl := o.clients[c.Label]
			resp, err := cl.Stop(o.reqID())
			if err != nil {
				return fmt.Errorf("operator: Stop %s: %w", c.Label, err)
			}
			if !resp.Success {
				return fmt.Errorf("operator: Stop %s rejected: %s", c.Label, resp.Message)
			}
		}
		for _, c := range batch {
			if err := o.waitForState(c, "Configured", timeout); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Operator) waitForState(c Component, want string, timeout time.Duration) error {
	cl := o.clients[c.Label]
	deadline := time.Now().Add(timeout)
	for {
		resp, err := cl.GetStatus(o.reqID())
		if err != nil {
			return fmt.Errorf("operator: GetStatus %s: %w", c.Label, err)
		}
		if resp.CurrentState == want {
			return nil
		}
		if resp.CurrentState == "Error" {
			return fmt.Errorf("operator: %s entered Error while waiting for %s", c.Label, want)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("operator: %s did not reach %s within %s (observed %s)", c.Label, want, timeout, resp.CurrentState)
		}
		time.Sleep(pollInterval)
	}
}

// statePrecedence ranks states from "weakest" to "strongest" per
// spec.md §7: Error > Idle > Configured > Armed > Running. A lower
// index here means the state dominates the system-level aggregate.
var statePrecedence = map[string]int{
	"Error":      0,
	"Idle":       1,
	"Configured": 2,
	"Armed":      3,
	"Running":    4,
}

// SystemState queries every component and returns the weakest observed
// state, the component that reported it, and the full per-component
// snapshot.
func (o *Operator) SystemState() (weakest string, weakestComponent string, all map[string]string, err error) {
	all = make(map[string]string, len(o.components))
	weakest = "Running"
	weakestRank := statePrecedence["Running"]

	for _, c := range o.components {
		resp, e := o.clients[c.Label].GetStatus(o.reqID())
		if e != nil {
			return "", "", nil, fmt.Errorf("operator: GetStatus %s: %w", c.Label, e)
		}
		all[c.Label] = resp.CurrentState
		if rank, ok := statePrecedence[resp.CurrentState]; ok && rank < weakestRank {
			weakestRank = rank
			weakest = resp.CurrentState
			weakestComponent = c.Label
		}
	}
	return weakest, weakestComponent, all, nil
}
