package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCategoryMetadata(t *testing.T) {
	require.Equal(t, 2, CategoryJoinExitV2.ProtocolVersion())
	require.Equal(t, 1, CategorySwapsCoW.ProtocolVersion())
	require.Equal(t, KindSnapshot, CategorySnapshotsV3.Kind())
	require.Equal(t, KindSwap, CategorySwapsV3.Kind())
	require.Len(t, AllCategories(), 8)
	require.Equal(t, []Category{CategoryJoinExitV3, CategorySwapsV3, CategorySnapshotsV3}, CategoriesFor(3))
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory("SWAPS_V2")
	require.NoError(t, err)
	require.Equal(t, CategorySwapsV2, c)

	_, err = ParseCategory("SWAPS")
	require.Error(t, err)

	_, err = SnapshotCategory(1)
	require.Error(t, err)

	_, err = ParseCategory(string(ReenrichCursor(CategorySwapsV2)))
	require.Error(t, err, "watermark rows are not sync categories")
	require.Equal(t, Category("REENRICH"), ReenrichCursor(""))
}

func TestTokenPriceSchema(t *testing.T) {
	schema := ColumnsToSchemaSQL(TokenPriceColumns)
	require.Contains(t, schema, "token_address String CODEC(ZSTD(1))")
	require.Equal(t, "pool1-86400", SnapshotID("pool1", 86400))
}
