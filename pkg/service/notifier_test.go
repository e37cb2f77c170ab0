package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flovyn/flovyn/pkg/service"
)

func TestNotifier(t *testing.T) {
	t.Run("DeliversToSubscribers", func(t *testing.T) {
		n := service.NewNotifier()
		defer n.Close()
		ch, cancel := n.Subscribe(4)
		defer cancel()

		n.Notify(service.Notification{Type: service.TaskNotification, Queue: "default", Kind: "charge"})
		got := <-ch
		assert.Equal(t, service.TaskNotification, got.Type)
		assert.Equal(t, "default", got.Queue)
	})

	t.Run("FullBufferDropsInsteadOfBlocking", func(t *testing.T) {
		n := service.NewNotifier()
		defer n.Close()
		ch, cancel := n.Subscribe(1)
		defer cancel()

		// Second notification has nowhere to go; Notify must not block.
		n.Notify(service.Notification{Type: service.TaskNotification})
		n.Notify(service.Notification{Type: service.TaskNotification})
		assert.Len(t, ch, 1)
	})

	t.Run("CancelClosesChannel", func(t *testing.T) {
		n := service.NewNotifier()
		defer n.Close()
		ch, cancel := n.Subscribe(1)
		cancel()
		_, open := <-ch
		assert.False(t, open)
	})

	t.Run("CloseClosesAllSubscribers", func(t *testing.T) {
		n := service.NewNotifier()
		ch, _ := n.Subscribe(1)
		n.Close()
		_, open := <-ch
		assert.False(t, open)
	})
}
