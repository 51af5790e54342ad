package workflows

import (
	"embed"

	"github.com/amp-labs/osf-moderation/statemachine"
)

// Table names.
const (
	RequestsTable              = "requests"
	ReviewsTable               = "reviews"
	ApprovalsTable             = "approvals"
	CollectionSubmissionsTable = "collection_submissions"
)

//go:embed tables/*.yaml
var tablesFS embed.FS

// Loader resolves the embedded tables by name.
func Loader() statemachine.TableLoader {
	return statemachine.NewFSLoader(tablesFS, "tables")
}

// Load loads and validates an embedded table.
func Load(name string) (*statemachine.Table, error) {
	return statemachine.LoadTable(name, Loader())
}

// MustLoad panics if an embedded table does not load.
func MustLoad(name string) *statemachine.Table {
	table, err := Load(name)
	if err != nil {
		panic(err)
	}

	return table
}

// TableNames lists the embedded tables.
func TableNames() []string {
	return []string{RequestsTable, ReviewsTable, ApprovalsTable, CollectionSubmissionsTable}
}
