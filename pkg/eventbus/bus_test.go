package eventbus_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nexus/pkg/eventbus"
)

func TestPublishFansOutToAllListeners(t *testing.T) {
	b := eventbus.New()
	var got []eventbus.OperationEvent
	b.Subscribe(func(ev eventbus.OperationEvent) { got = append(got, ev) })
	b.Subscribe(func(ev eventbus.OperationEvent) { panic("boom") })

	var panicked bool
	func() {
		defer func() {
			if recover() != nil {
				panicked = true
			}
		}()
		b.Publish(eventbus.OperationEvent{Type: "write", Path: "/a"})
	}()

	require.False(t, panicked, "a panicking listener must not escape Publish")
	require.Len(t, got, 1)
	require.Equal(t, "write", got[0].Type)
}
