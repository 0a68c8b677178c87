package cb

import (
	"testing"

	"github.com/stretchr/testify/require"

	ternutil "isc.org/tern/util"
)

// Check the subscription plumbing and the notification dispatch.
func TestNotifier(t *testing.T) {
	notifier := NewNotifier()

	var got []AuditEntry
	var gotFamily ternutil.IPType
	err := notifier.Subscribe("collector", func(family ternutil.IPType, entries []AuditEntry) {
		gotFamily = family
		got = append(got, entries...)
	})
	require.NoError(t, err)

	entries := []AuditEntry{{ID: 1, ObjectType: ObjectSubnet}}
	notifier.Notify(ternutil.IPv4, entries)
	require.Len(t, got, 1)
	require.Equal(t, ternutil.IPv4, gotFamily)

	// An empty batch is not dispatched.
	notifier.Notify(ternutil.IPv4, nil)
	require.Len(t, got, 1)

	// Unsubscribing stops the notifications.
	notifier.Unsubscribe("collector")
	notifier.Notify(ternutil.IPv4, entries)
	require.Len(t, got, 1)

	// Unknown name is fine.
	notifier.Unsubscribe("ghost")
}

// Check the subscription validation and the same-name replacement.
func TestNotifierSubscribe(t *testing.T) {
	notifier := NewNotifier()

	err := notifier.Subscribe("", func(family ternutil.IPType, entries []AuditEntry) {})
	require.ErrorIs(t, err, ErrInvalidParameter)

	err = notifier.Subscribe("collector", nil)
	require.ErrorIs(t, err, ErrInvalidParameter)

	var first, second int
	require.NoError(t, notifier.Subscribe("collector", func(family ternutil.IPType, entries []AuditEntry) {
		first++
	}))
	require.NoError(t, notifier.Subscribe("collector", func(family ternutil.IPType, entries []AuditEntry) {
		second++
	}))

	notifier.Notify(ternutil.IPv6, []AuditEntry{{ID: 1}})
	require.Zero(t, first)
	require.Equal(t, 1, second)
}

// Check that a panicking handler does not disturb the other handlers.
func TestNotifierPanicRecovery(t *testing.T) {
	notifier := NewNotifier()

	require.NoError(t, notifier.Subscribe("grumpy", func(family ternutil.IPType, entries []AuditEntry) {
		panic("no thanks")
	}))
	var called bool
	require.NoError(t, notifier.Subscribe("steady", func(family ternutil.IPType, entries []AuditEntry) {
		called = true
	}))

	require.NotPanics(t, func() {
		notifier.Notify(ternutil.IPv4, []AuditEntry{{ID: 1}})
	})
	require.True(t, called)
}
