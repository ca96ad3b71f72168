package smart

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
)

// ---------------------------------------------------------------------------
// Mock pgConn (unit tests without a real DB)
// ---------------------------------------------------------------------------

type mockPGRow struct {
	data    []byte
	scanErr error
	noRows  bool
}

func (r *mockPGRow) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	if r.noRows {
		return errors.New("no rows in result set")
	}
	if len(dest) > 0 {
		if b, ok := dest[0].(*[]byte); ok {
			*b = r.data
		}
	}
	return nil
}

type mockPGRows struct {
	rows [][]byte
	pos  int
}

func (m *mockPGRows) Next() bool {
	if m.pos >= len(m.rows) {
		return false
	}
	m.pos++
	return true
}

func (m *mockPGRows) Scan(dest ...any) error {
	if len(dest) > 0 {
		if b, ok := dest[0].(*[]byte); ok {
			*b = m.rows[m.pos-1]
		}
	}
	return nil
}

func (m *mockPGRows) Err() error { return nil }
func (m *mockPGRows) Close()     {}

type mockRegistryEntry struct {
	key      string
	clientID string
	data     []byte
}

type mockPGConn struct {
	mu       sync.Mutex
	entries  map[string]mockRegistryEntry
	queryErr error
	execErr  error
}

func newMockPGConn() *mockPGConn {
	return &mockPGConn{entries: make(map[string]mockRegistryEntry)}
}

func (m *mockPGConn) QueryRow(ctx context.Context, sql string, args ...any) pgRow {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queryErr != nil {
		return &mockPGRow{scanErr: m.queryErr}
	}
	if len(args) == 0 {
		return &mockPGRow{noRows: true}
	}
	arg, _ := args[0].(string)

	byClientID := strings.Contains(sql, "client_id = $1")
	for _, e := range m.entries {
		if byClientID && e.clientID == arg {
			return &mockPGRow{data: e.data}
		}
		if !byClientID && e.key == arg {
			return &mockPGRow{data: e.data}
		}
	}
	return &mockPGRow{noRows: true}
}

func (m *mockPGConn) Query(ctx context.Context, sql string, args ...any) (pgRows, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queryErr != nil {
		return nil, m.queryErr
	}
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]byte, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, m.entries[k].data)
	}
	return &mockPGRows{rows: rows}, nil
}

func (m *mockPGConn) Exec(ctx context.Context, sql string, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.execErr != nil {
		return m.execErr
	}
	if strings.HasPrefix(sql, "INSERT") && len(args) >= 3 {
		key, _ := args[0].(string)
		clientID, _ := args[1].(string)
		data, _ := args[2].([]byte)
		m.entries[key] = mockRegistryEntry{key: key, clientID: clientID, data: data}
		return nil
	}
	if strings.HasPrefix(sql, "DELETE") && len(args) >= 1 {
		key, _ := args[0].(string)
		delete(m.entries, key)
		return nil
	}
	return nil
}

// ---------------------------------------------------------------------------
// PGRegistry tests
// ---------------------------------------------------------------------------

func TestPGRegistrySaveAndLookup(t *testing.T) {
	reg := NewPGRegistry(newMockPGConn())
	ctx := context.Background()

	app := &Application{
		Key:           "cardiac-review",
		ClientID:      "abc",
		RedirectURIs:  []string{"https://app.example.com/cb"},
		AllowedScopes: []string{"user/*.*", "openid"},
	}
	if err := reg.Save(ctx, app); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := reg.Lookup(ctx, "cardiac-review")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.ClientID != "abc" {
		t.Errorf("ClientID = %q", got.ClientID)
	}
	if len(got.AllowedScopes) != 2 {
		t.Errorf("AllowedScopes = %v", got.AllowedScopes)
	}

	got, err = reg.LookupByClientID(ctx, "abc")
	if err != nil {
		t.Fatalf("LookupByClientID: %v", err)
	}
	if got.Key != "cardiac-review" {
		t.Errorf("Key = %q", got.Key)
	}
}

func TestPGRegistryLookupMissing(t *testing.T) {
	reg := NewPGRegistry(newMockPGConn())

	if _, err := reg.Lookup(context.Background(), "nope"); !errors.Is(err, ErrApplicationNotFound) {
		t.Errorf("err = %v, want ErrApplicationNotFound", err)
	}
}

func TestPGRegistrySaveOverwrites(t *testing.T) {
	reg := NewPGRegistry(newMockPGConn())
	ctx := context.Background()

	reg.Save(ctx, &Application{Key: "app", ClientID: "first"})
	reg.Save(ctx, &Application{Key: "app", ClientID: "second"})

	got, err := reg.Lookup(ctx, "app")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.ClientID != "second" {
		t.Errorf("ClientID = %q, want second (overwrite)", got.ClientID)
	}
}

func TestPGRegistryList(t *testing.T) {
	reg := NewPGRegistry(newMockPGConn())
	ctx := context.Background()

	reg.Save(ctx, &Application{Key: "b-app", ClientID: "b"})
	reg.Save(ctx, &Application{Key: "a-app", ClientID: "a"})

	apps, err := reg.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(apps) != 2 || apps[0].Key != "a-app" || apps[1].Key != "b-app" {
		t.Errorf("List = %+v, want ordered by key", apps)
	}
}

func TestPGRegistryDelete(t *testing.T) {
	reg := NewPGRegistry(newMockPGConn())
	ctx := context.Background()

	reg.Save(ctx, &Application{Key: "app", ClientID: "abc"})
	if err := reg.Delete(ctx, "app"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := reg.Lookup(ctx, "app"); !errors.Is(err, ErrApplicationNotFound) {
		t.Errorf("err after Delete = %v, want ErrApplicationNotFound", err)
	}
	if err := reg.Delete(ctx, "absent"); err != nil {
		t.Errorf("Delete of an absent key should be a no-op, got %v", err)
	}
}

func TestPGRegistrySaveError(t *testing.T) {
	mock := newMockPGConn()
	mock.execErr = errors.New("db write failed")
	reg := NewPGRegistry(mock)

	if err := reg.Save(context.Background(), &Application{Key: "app"}); err == nil {
		t.Error("expected the exec error to propagate")
	}
}
