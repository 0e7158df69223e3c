package tui

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"

	"github.com/mattjoyce/intertalk/internal/dispatch"
	"github.com/mattjoyce/intertalk/internal/events"
	"github.com/mattjoyce/intertalk/internal/registry"
)

func TestReadSSE(t *testing.T) {
	t.Parallel()

	stream := strings.Join([]string{
		": keep-alive",
		"",
		"id: 1",
		"event: subscription.registered",
		`data: {"depth":0,"condition":"a","id":0}`,
		"",
		"id: 2",
		"event: condition.invoked",
		`data: {"depth":0,"condition":"a","duration_us":12}`,
		"",
	}, "\n")

	var got []events.Event
	if err := readSSE(strings.NewReader(stream), func(ev events.Event) { got = append(got, ev) }); err != nil {
		t.Fatalf("readSSE: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("events = %d, want 2", len(got))
	}
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, dispatch.EventRegistered, got[0].Type)
	assert.Equal(t, int64(2), got[1].ID)
	assert.JSONEq(t, `{"depth":0,"condition":"a","duration_us":12}`, string(got[1].Data))
}

func event(t *testing.T, typ string, data any) eventMsg {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return eventMsg(events.Event{Type: typ, At: time.Now(), Data: raw})
}

func TestMonitorCountsInvocations(t *testing.T) {
	t.Parallel()

	m := NewMonitor("http://127.0.0.1:0/", "k")
	assert.Equal(t, "http://127.0.0.1:0", m.apiURL)

	var model tea.Model = *m
	model, _ = model.Update(event(t, dispatch.EventRegistered, map[string]any{"depth": 1, "condition": "b", "id": 0}))
	model, _ = model.Update(event(t, dispatch.EventInvoked, map[string]any{"depth": 1, "condition": "b", "duration_us": 1500}))
	model, _ = model.Update(event(t, dispatch.EventFailed, map[string]any{"depth": 1, "condition": "b", "error": "boom"}))

	got := model.(Model)
	c := got.conditions[condKey{1, "b"}]
	if c == nil {
		t.Fatal("condition not tracked")
	}
	assert.Equal(t, 1, c.Live)
	assert.Equal(t, 2, c.Invokes)
	assert.Equal(t, 1, c.Failures)
	assert.Equal(t, "boom", c.LastErr)
	assert.Len(t, got.eventLog, 3)
	assert.Equal(t, dispatch.EventFailed, got.eventLog[0].Type)
	assert.Len(t, got.table.Rows(), 1)
}

func TestMonitorMergeDropsResetConditions(t *testing.T) {
	t.Parallel()

	m := NewMonitor("http://localhost", "k")
	var model tea.Model = *m
	model, _ = model.Update(conditionsMsg{Conditions: []registry.ConditionStats{
		{Depth: 0, Condition: "a", Slots: 3, Live: 2},
		{Depth: 0, Condition: "b", Slots: 1, Live: 1},
	}})
	model, _ = model.Update(conditionsMsg{Conditions: []registry.ConditionStats{
		{Depth: 0, Condition: "b", Slots: 1, Live: 0},
	}})

	got := model.(Model)
	assert.Len(t, got.conditions, 1)
	assert.Equal(t, 0, got.conditions[condKey{0, "b"}].Live)
}

func TestMonitorEventLogBounded(t *testing.T) {
	t.Parallel()

	m := NewMonitor("http://localhost", "k")
	var model tea.Model = *m
	for range maxEventLog + 10 {
		model, _ = model.Update(event(t, dispatch.EventResetApplied, map[string]any{"scope": "all"}))
	}
	assert.Len(t, model.(Model).eventLog, maxEventLog)
}

func TestMonitorView(t *testing.T) {
	t.Parallel()

	m := NewMonitor("http://localhost", "k")
	assert.Equal(t, "Initializing...", m.View())

	var model tea.Model = *m
	model, _ = model.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	model, _ = model.Update(healthMsg{Status: "ok", Layers: 2, UptimeSeconds: 90})
	view := model.View()
	assert.Contains(t, view, "Conditions")
	assert.Contains(t, view, "Layers: 2")
	assert.Contains(t, view, "No events yet")
}
