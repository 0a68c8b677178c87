package cb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Check the strictly-after watermark comparison.
func TestAuditEntryAfter(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := AuditEntry{Revision: 5, ModificationTime: at}

	require.True(t, entry.After(at.Add(-time.Second), 5))
	require.True(t, entry.After(at, 4))
	require.False(t, entry.After(at, 5))
	require.False(t, entry.After(at, 6))
	require.False(t, entry.After(at.Add(time.Second), 0))
	require.True(t, entry.After(time.Time{}, 0))
}

// Check the audit feed ordering: time first, then revision, then the
// entry identifier.
func TestSortAuditEntries(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []AuditEntry{
		{ID: 5, Revision: 3, ModificationTime: at.Add(time.Second)},
		{ID: 4, Revision: 2, ModificationTime: at},
		{ID: 3, Revision: 2, ModificationTime: at},
		{ID: 2, Revision: 1, ModificationTime: at},
	}
	SortAuditEntries(entries)

	require.EqualValues(t, 2, entries[0].ID)
	require.EqualValues(t, 3, entries[1].ID)
	require.EqualValues(t, 4, entries[2].ID)
	require.EqualValues(t, 5, entries[3].ID)
}

// Check the modification type names.
func TestModificationTypeString(t *testing.T) {
	require.Equal(t, "create", ModificationCreate.String())
	require.Equal(t, "update", ModificationUpdate.String())
	require.Equal(t, "delete", ModificationDelete.String())
	require.Equal(t, "unknown", ModificationType(42).String())
}
