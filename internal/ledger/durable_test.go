package ledger

import (
	"context"
	"fmt"
	"testing"

	"github.com/angelmondragon/storefront-engine/pkg/db"
	"github.com/angelmondragon/storefront-engine/pkg/enums"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
)

func TestLedgerOverSQLiteStore(t *testing.T) {
	ctx := context.Background()
	client, err := db.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())))
	require.NoError(t, err)
	require.NoError(t, client.Migrate(ctx))
	t.Cleanup(func() { _ = client.Close() })

	store := client.NewKVStore("device-1")
	svc, err := NewService(store, nil)
	require.NoError(t, err)

	_, err = svc.Upsert(ctx, confirmedOrder("o-1"))
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, "o-1", enums.OrderStatusPreparing)
	require.NoError(t, err)

	reloaded, err := NewService(store, nil)
	require.NoError(t, err)
	require.NoError(t, reloaded.Load(ctx))

	record, ok := reloaded.Get("o-1")
	require.True(t, ok)
	assert.Equal(t, enums.OrderStatusPreparing, record.Status)
	assert.Equal(t, 1, reloaded.ActiveCount())
	assert.True(t, record.Totals.Subtotal.Equal(confirmedOrder("o-1").Totals.Subtotal))
}
