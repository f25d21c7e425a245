package dataset

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"business-copilot-be/pkg/permission"
)

var testDDL = []string{
	`CREATE TABLE timesheets (id TEXT PRIMARY KEY, user_id TEXT, project_id TEXT, date DATETIME, hours REAL, note TEXT)`,
	`CREATE TABLE projects (id TEXT PRIMARY KEY, client_id TEXT, name TEXT, status TEXT, manager_id TEXT, created_at DATETIME)`,
	`CREATE TABLE clients (id TEXT PRIMARY KEY, name TEXT, address TEXT, created_at DATETIME)`,
	`CREATE TABLE tasks (id TEXT PRIMARY KEY, project_id TEXT, assignee_id TEXT, status TEXT, estimated_hours REAL, created_at DATETIME)`,
	`CREATE TABLE quotes (id TEXT PRIMARY KEY, client_id TEXT, owner_id TEXT, status TEXT, total REAL, created_at DATETIME)`,
	`CREATE TABLE orders (id TEXT PRIMARY KEY, client_id TEXT, status TEXT, total REAL, created_at DATETIME)`,
	`CREATE TABLE invoices (id TEXT PRIMARY KEY, client_id TEXT, status TEXT, total REAL, issued_at DATETIME, due_at DATETIME, paid_at DATETIME)`,
	`CREATE TABLE payments (id TEXT PRIMARY KEY, invoice_id TEXT, amount REAL, method TEXT, paid_at DATETIME)`,
	`CREATE TABLE expenses (id TEXT PRIMARY KEY, user_id TEXT, category TEXT, amount REAL, date DATETIME, description TEXT)`,
	`CREATE TABLE suppliers (id TEXT PRIMARY KEY, name TEXT, address TEXT, created_at DATETIME)`,
	`CREATE TABLE supplier_quotes (id TEXT PRIMARY KEY, supplier_id TEXT, status TEXT, total REAL, created_at DATETIME)`,
	`CREATE TABLE catalog_items (id TEXT PRIMARY KEY, code TEXT, name TEXT, category TEXT, price REAL, active BOOLEAN)`,
	`CREATE TABLE special_bids (id TEXT PRIMARY KEY, client_id TEXT, supplier_id TEXT, status TEXT, discount REAL, created_at DATETIME)`,
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	for _, ddl := range testDDL {
		require.NoError(t, db.Exec(ddl).Error)
	}
	return db
}

var (
	testNow    = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	testWindow = Window{From: testNow.AddDate(-1, 0, 0), To: testNow}
)

func seedTimesheets(t *testing.T, db *gorm.DB, me, other uuid.UUID) {
	t.Helper()
	clientID := uuid.New()
	projectID := uuid.New()
	require.NoError(t, db.Exec(
		`INSERT INTO clients (id, name, address, created_at) VALUES (?, ?, ?, ?)`,
		clientID, "Acme", "Via Roma 1", testNow.AddDate(0, -6, 0),
	).Error)
	require.NoError(t, db.Exec(
		`INSERT INTO projects (id, client_id, name, status, manager_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		projectID, clientID, "Rollout", "active", other, testNow.AddDate(0, -5, 0),
	).Error)

	entries := []struct {
		user  uuid.UUID
		date  time.Time
		hours float64
	}{
		{me, testNow.AddDate(0, -1, 0), 8},
		{me, testNow.AddDate(0, -1, -1), 6.5},
		{other, testNow.AddDate(0, -1, 0), 4},
	}
	for _, e := range entries {
		require.NoError(t, db.Exec(
			`INSERT INTO timesheets (id, user_id, project_id, date, hours, note) VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.New(), e.user, projectID, e.date, e.hours, "worked",
		).Error)
	}
}

func fullPrincipal(id uuid.UUID) *permission.Principal {
	caps := []string{permission.CapChatUse}
	for _, spec := range sections {
		caps = append(caps, spec.qualifying...)
	}
	return &permission.Principal{ID: id, Capabilities: caps}
}

func TestBuildDeterministic(t *testing.T) {
	db := testDB(t)
	me, other := uuid.New(), uuid.New()
	seedTimesheets(t, db, me, other)

	a := NewAssembler(db, "EUR")
	a.now = func() time.Time { return testNow }
	p := fullPrincipal(me)

	first, err := a.Build(context.Background(), p, testWindow, nil)
	require.NoError(t, err)
	second, err := a.Build(context.Background(), p, testWindow, nil)
	require.NoError(t, err)

	assert.Equal(t, string(first.Serialized), string(second.Serialized))
	assert.Greater(t, first.QueryCount, 0)
	assert.Equal(t, first.QueryCount, second.QueryCount)
}

func TestBuildFinalCharCountMatchesSerialization(t *testing.T) {
	db := testDB(t)
	me, other := uuid.New(), uuid.New()
	seedTimesheets(t, db, me, other)

	a := NewAssembler(db, "EUR")
	a.now = func() time.Time { return testNow }

	ds, err := a.Build(context.Background(), fullPrincipal(me), testWindow, nil)
	require.NoError(t, err)
	assert.Equal(t, len(ds.Serialized), ds.Meta.Context.FinalCharCount)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(ds.Serialized, &doc))
	meta := doc["meta"].(map[string]any)
	count := meta["context"].(map[string]any)["finalCharCount"].(float64)
	assert.Equal(t, len(ds.Serialized), int(count))
}

func TestBuildPermissionContainment(t *testing.T) {
	db := testDB(t)
	me, other := uuid.New(), uuid.New()
	seedTimesheets(t, db, me, other)

	p := &permission.Principal{
		ID:           me,
		Capabilities: []string{permission.CapChatUse, permission.CapTimesheetsView},
	}

	a := NewAssembler(db, "EUR")
	a.now = func() time.Time { return testNow }

	// Explicitly requesting a forbidden section must not leak it.
	ds, err := a.Build(context.Background(), p, testWindow, []string{SectionTimesheets, SectionInvoices, SectionClients})
	require.NoError(t, err)

	_, hasTimesheets := ds.Document[SectionTimesheets]
	assert.True(t, hasTimesheets)
	_, hasInvoices := ds.Document[SectionInvoices]
	assert.False(t, hasInvoices)
	_, hasClients := ds.Document[SectionClients]
	assert.False(t, hasClients)

	assert.Equal(t, []string{SectionTimesheets}, ds.Meta.Context.IncludedSections)
	assert.Contains(t, ds.Meta.Context.RequestedSections, SectionInvoices)
	assert.NotContains(t, ds.Meta.Scope.Capabilities, permission.CapInvoicesView)
}

func TestBuildSelfScopedTimesheets(t *testing.T) {
	db := testDB(t)
	me, other := uuid.New(), uuid.New()
	seedTimesheets(t, db, me, other)

	p := &permission.Principal{
		ID:           me,
		Capabilities: []string{permission.CapChatUse, permission.CapTimesheetsView},
	}

	a := NewAssembler(db, "EUR")
	a.now = func() time.Time { return testNow }

	ds, err := a.Build(context.Background(), p, testWindow, nil)
	require.NoError(t, err)

	require.Len(t, ds.Meta.Context.IncludedSections, 1)
	fragment := ds.Document[SectionTimesheets].(map[string]any)
	assert.InDelta(t, 14.5, fragment["totalHours"], 0.001) // own hours only
	assert.EqualValues(t, 2, fragment["entryCount"])
}

func TestBuildManagedScopeIncludesManagedUsers(t *testing.T) {
	db := testDB(t)
	me, managed := uuid.New(), uuid.New()
	seedTimesheets(t, db, me, managed)

	p := &permission.Principal{
		ID:             me,
		Capabilities:   []string{permission.CapTimesheetsView},
		ManagedUserIDs: []uuid.UUID{managed},
	}

	a := NewAssembler(db, "EUR")
	a.now = func() time.Time { return testNow }

	ds, err := a.Build(context.Background(), p, testWindow, []string{SectionTimesheets})
	require.NoError(t, err)

	fragment := ds.Document[SectionTimesheets].(map[string]any)
	assert.InDelta(t, 18.5, fragment["totalHours"], 0.001)
}

func TestBuildTightBudgetCoversSealedOutput(t *testing.T) {
	db := testDB(t)
	me, other := uuid.New(), uuid.New()
	seedTimesheets(t, db, me, other)

	const budget = 3000
	a := NewAssembler(db, "EUR").WithBudget(budget)
	a.now = func() time.Time { return testNow }

	ds, err := a.Build(context.Background(), fullPrincipal(me), testWindow, nil)
	require.NoError(t, err)

	// The budget bounds the bytes a caller actually receives, truncation
	// bookkeeping included, not just the section payload.
	assert.LessOrEqual(t, len(ds.Serialized), budget)
	assert.True(t, ds.Meta.Truncation.Applied)
	assert.Equal(t, len(ds.Serialized), ds.Meta.Context.FinalCharCount)

	for _, section := range ds.Meta.Context.DroppedSections {
		_, present := ds.Document[section]
		assert.False(t, present, "dropped section %s still in document", section)
	}
}

func TestVariantKeyFoldsCapabilities(t *testing.T) {
	id := uuid.New()
	a := &permission.Principal{ID: id, Capabilities: []string{permission.CapTimesheetsView}}
	b := &permission.Principal{ID: id, Capabilities: []string{permission.CapTimesheetsView, permission.CapInvoicesView}}

	keyA := VariantKey(a, testWindow, nil)
	keyB := VariantKey(b, testWindow, nil)
	assert.NotEqual(t, keyA, keyB)

	// Same caps in a different order hash the same.
	c := &permission.Principal{ID: id, Capabilities: []string{permission.CapInvoicesView, permission.CapTimesheetsView}}
	assert.Equal(t, keyB, VariantKey(c, testWindow, nil))

	// Section selection is part of the key.
	assert.NotEqual(t,
		VariantKey(a, testWindow, []string{SectionTimesheets}),
		VariantKey(a, testWindow, nil))
}
