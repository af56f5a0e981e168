package agent

import (
	"context"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"vtagent/pkg/bus"
	"vtagent/pkg/config"
	"vtagent/pkg/input"
	"vtagent/pkg/memory"
)

var ignoreTimestamps = cmpopts.IgnoreFields(memory.Message{}, "At")

func completedTurn(t *testing.T, method string) *Agent {
	t.Helper()

	client := &scriptedClient{tokens: []string{"Hello", " world", ".", " Bye", "."}}
	a := newTestAgent(t, client, func(o *Options) { o.Config.Agent.InterruptMethod = method })

	seq, err := a.Chat(context.Background(), input.Text("hi"))
	require.NoError(t, err)
	_, err = collect(t, seq)
	require.NoError(t, err)
	return a
}

func TestHandleInterruptTruncatesReply(t *testing.T) {
	a := completedTurn(t, config.InterruptMethodUser)

	a.HandleInterrupt("Hello world.")

	want := []memory.Message{
		{Role: memory.RoleUser, Content: "hi"},
		{Role: memory.RoleAssistant, Content: "Hello world....", Name: "Mao", Avatar: "mao.png"},
		{Role: memory.RoleUser, Content: InterruptMarker},
	}
	if diff := cmp.Diff(want, a.Memory(), ignoreTimestamps, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("memory mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleInterruptIsIdempotent(t *testing.T) {
	once := completedTurn(t, config.InterruptMethodUser)
	once.HandleInterrupt("Hello")

	twice := completedTurn(t, config.InterruptMethodUser)
	twice.HandleInterrupt("Hello")
	twice.HandleInterrupt("Hello")
	twice.HandleInterrupt("something else")

	if diff := cmp.Diff(once.Memory(), twice.Memory(), ignoreTimestamps); diff != "" {
		t.Fatalf("repeated interrupt changed memory (-once +twice):\n%s", diff)
	}
}

func TestHandleInterruptSystemMarker(t *testing.T) {
	a := completedTurn(t, config.InterruptMethodSystem)

	a.HandleInterrupt("Hello")

	mem := a.Memory()
	last := mem[len(mem)-1]
	require.Equal(t, memory.RoleSystem, last.Role)
	require.Equal(t, InterruptMarker, last.Content)
}

func TestHandleInterruptWithoutHeardText(t *testing.T) {
	a := newTestAgent(t, &scriptedClient{}, nil)
	require.NoError(t, a.StartGroupConversation("Alice", nil))

	a.HandleInterrupt("")

	mem := a.Memory()
	require.Equal(t, []memory.Role{memory.RoleUser, memory.RoleUser}, roles(mem))
	require.Equal(t, InterruptMarker, mem[1].Content)
}

func TestHandleInterruptDuringStream(t *testing.T) {
	client := &scriptedClient{tokens: []string{"Hello world. ", "This part ", "was never heard."}}
	b := bus.New()
	defer b.Close()
	events, unsubscribe := b.Subscribe(context.Background(), 32)

	a := newTestAgent(t, client, func(o *Options) { o.Bus = b })

	seq, err := a.Chat(context.Background(), input.Text("hi"))
	require.NoError(t, err)

	heard := ""
	for output, err := range seq {
		require.NoError(t, err)
		if heard == "" {
			heard = output.Speech
			a.HandleInterrupt(heard)
		}
	}

	want := []memory.Message{
		{Role: memory.RoleUser, Content: "hi"},
		{Role: memory.RoleAssistant, Content: heard + "...", Name: "Mao", Avatar: "mao.png"},
		{Role: memory.RoleUser, Content: InterruptMarker},
	}
	if diff := cmp.Diff(want, a.Memory(), ignoreTimestamps, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("memory mismatch (-want +got):\n%s", diff)
	}

	unsubscribe()
	var completed, interrupted bool
	for event := range events {
		switch event.Type {
		case bus.EventTurnInterrupted:
			interrupted = true
			require.Equal(t, heard, event.Payload["heard"])
		case bus.EventTurnCompleted:
			completed = true
			require.Equal(t, "false", event.Payload["remembered"])
		}
	}
	require.True(t, interrupted)
	require.True(t, completed)
}

func TestInterruptRearmsOnNextTurn(t *testing.T) {
	a := completedTurn(t, config.InterruptMethodUser)
	a.HandleInterrupt("Hello")
	before := len(a.Memory())

	seq, err := a.Chat(context.Background(), input.Text("sorry, go on"))
	require.NoError(t, err)
	_, err = collect(t, seq)
	require.NoError(t, err)

	// user + assistant from the new turn
	require.Len(t, a.Memory(), before+2)

	a.HandleInterrupt("Hello")
	mem := a.Memory()
	require.Equal(t, InterruptMarker, mem[len(mem)-1].Content)
	require.Len(t, mem, before+3)
}

func TestInterruptControllerRoles(t *testing.T) {
	tests := []struct {
		method string
		want   memory.Role
	}{
		{method: config.InterruptMethodSystem, want: memory.RoleSystem},
		{method: config.InterruptMethodUser, want: memory.RoleUser},
		{method: "", want: memory.RoleUser},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			mem := memory.New()
			c := NewInterruptController(mem, tt.method)

			require.True(t, c.Handle("", memory.Message{}))
			require.False(t, c.Handle("", memory.Message{}))
			require.True(t, c.Fired())

			entries := mem.List()
			require.Len(t, entries, 1)
			require.Equal(t, tt.want, entries[0].Role)

			c.Reset()
			require.False(t, c.Fired())
		})
	}
}

func TestAppendUnlessFired(t *testing.T) {
	mem := memory.New()
	c := NewInterruptController(mem, config.InterruptMethodUser)

	require.True(t, c.AppendUnlessFired(memory.Message{Role: memory.RoleAssistant, Content: "first"}))
	require.True(t, c.Handle("fir", memory.Message{}))
	require.False(t, c.AppendUnlessFired(memory.Message{Role: memory.RoleAssistant, Content: "second"}))

	want := []memory.Message{
		{Role: memory.RoleAssistant, Content: "fir..."},
		{Role: memory.RoleUser, Content: InterruptMarker},
	}
	if diff := cmp.Diff(want, mem.List(), ignoreTimestamps, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("memory mismatch (-want +got):\n%s", diff)
	}

	c.Reset()
	require.True(t, c.AppendUnlessFired(memory.Message{Role: memory.RoleAssistant, Content: "third"}))
	require.Len(t, mem.List(), 3)
}

func TestAppendRacingInterruptKeepsOneReply(t *testing.T) {
	for range 50 {
		mem := memory.New()
		mem.Append(memory.Message{Role: memory.RoleUser, Content: "hi"})
		c := NewInterruptController(mem, config.InterruptMethodUser)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.AppendUnlessFired(memory.Message{Role: memory.RoleAssistant, Content: "Hello there. Bye."})
		}()
		go func() {
			defer wg.Done()
			c.Handle("Hello there.", memory.Message{})
		}()
		wg.Wait()

		// Either order leaves the heard part followed by the marker.
		want := []memory.Message{
			{Role: memory.RoleUser, Content: "hi"},
			{Role: memory.RoleAssistant, Content: "Hello there...."},
			{Role: memory.RoleUser, Content: InterruptMarker},
		}
		if diff := cmp.Diff(want, mem.List(), ignoreTimestamps, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("memory mismatch (-want +got):\n%s", diff)
		}
	}
}
