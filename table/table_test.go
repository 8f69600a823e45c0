package table

import (
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/flatdb/flatdb/codec"
	"github.com/flatdb/flatdb/record"
)

// newTestTable creates a users table keyed by id in the test's temp dir.
func newTestTable(t *testing.T) (*Table, string) {
	t.Helper()
	dir := t.TempDir()
	tbl, err := New(dir, "users", "id", nil, Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return tbl, dir
}

func mustInsert(t *testing.T, tbl *Table, rec record.Record) {
	t.Helper()
	if err := tbl.Insert(rec); err != nil {
		t.Fatalf("Insert(%v) failed: %v", rec, err)
	}
}

func TestInsert(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		tbl, _ := newTestTable(t)
		err := tbl.Insert(record.Record{"name": "Alice"})
		if !errors.Is(err, ErrMissingKey) {
			t.Errorf("err = %v, want ErrMissingKey", err)
		}
		if tbl.Len() != 0 {
			t.Errorf("failed insert mutated dataset, len = %d", tbl.Len())
		}
	})

	t.Run("duplicate key", func(t *testing.T) {
		tbl, _ := newTestTable(t)
		mustInsert(t, tbl, record.Record{"id": float64(1), "name": "Alice"})
		err := tbl.Insert(record.Record{"id": float64(1), "name": "Bob"})
		if !errors.Is(err, ErrDuplicateKey) {
			t.Errorf("err = %v, want ErrDuplicateKey", err)
		}
		rows := tbl.Select(nil)
		if len(rows) != 1 || rows[0]["name"] != "Alice" {
			t.Errorf("duplicate insert overwrote record: %v", rows)
		}
	})

	t.Run("tombstoned key still owns its slot", func(t *testing.T) {
		tbl, _ := newTestTable(t)
		mustInsert(t, tbl, record.Record{"id": float64(1), "name": "Alice"})
		tbl.Delete(map[string]any{"id": float64(1)})
		err := tbl.Insert(record.Record{"id": float64(1), "name": "Bob"})
		if !errors.Is(err, ErrDuplicateKey) {
			t.Errorf("err = %v, want ErrDuplicateKey for tombstoned key", err)
		}
	})

	t.Run("defaults fill absent fields only", func(t *testing.T) {
		dir := t.TempDir()
		defaults := record.Record{"role": "user", "score": float64(0)}
		tbl, err := New(dir, "users", "id", defaults, Options{})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		mustInsert(t, tbl, record.Record{"id": float64(1), "score": float64(9)})
		r, ok := tbl.Get(float64(1))
		if !ok {
			t.Fatal("record not found")
		}
		if r["role"] != "user" {
			t.Errorf("default not applied: role = %v", r["role"])
		}
		if r["score"] != float64(9) {
			t.Errorf("default overwrote present field: score = %v", r["score"])
		}
	})

	t.Run("caller record is not aliased", func(t *testing.T) {
		tbl, _ := newTestTable(t)
		rec := record.Record{"id": float64(1), "name": "Alice"}
		mustInsert(t, tbl, rec)
		rec["name"] = "Mallory"
		r, _ := tbl.Get(float64(1))
		if r["name"] != "Alice" {
			t.Errorf("insert aliased the caller's map: %v", r["name"])
		}
	})
}

func TestSelect(t *testing.T) {
	tbl, _ := newTestTable(t)
	mustInsert(t, tbl, record.Record{"id": float64(1), "name": "Alice", "age": float64(30)})
	mustInsert(t, tbl, record.Record{"id": float64(2), "name": "Bob", "age": float64(25)})

	t.Run("empty predicate selects all live", func(t *testing.T) {
		rows := tbl.Select(nil)
		if len(rows) != 2 {
			t.Fatalf("len = %d, want 2", len(rows))
		}
	})

	t.Run("equality predicate", func(t *testing.T) {
		rows := tbl.Select(map[string]any{"name": "Bob"})
		if len(rows) != 1 || rows[0]["age"] != float64(25) {
			t.Errorf("rows = %v", rows)
		}
	})

	t.Run("repeated select is idempotent", func(t *testing.T) {
		a := tbl.Select(map[string]any{"age": float64(30)})
		b := tbl.Select(map[string]any{"age": float64(30)})
		if !reflect.DeepEqual(a, b) {
			t.Errorf("selects differ:\n%v\n%v", a, b)
		}
	})

	t.Run("results are clones", func(t *testing.T) {
		rows := tbl.Select(map[string]any{"name": "Alice"})
		rows[0]["name"] = "Eve"
		again := tbl.Select(map[string]any{"name": "Alice"})
		if len(again) != 1 {
			t.Error("mutating a result leaked into the dataset")
		}
	})
}

func TestUpdate(t *testing.T) {
	t.Run("literal and transform", func(t *testing.T) {
		tbl, _ := newTestTable(t)
		mustInsert(t, tbl, record.Record{"id": float64(1), "name": "Alice", "age": float64(30)})
		mustInsert(t, tbl, record.Record{"id": float64(2), "name": "Bob", "age": float64(25)})

		n := tbl.Update(map[string]any{"name": "Alice"}, map[string]record.Mutation{
			"age":  record.Apply(func(cur any) any { return cur.(float64) + 1 }),
			"role": record.Set("admin"),
		})
		if n != 1 {
			t.Fatalf("n = %d, want 1", n)
		}
		r, _ := tbl.Get(float64(1))
		if r["age"] != float64(31) || r["role"] != "admin" {
			t.Errorf("record = %v", r)
		}
		b, _ := tbl.Get(float64(2))
		if b["age"] != float64(25) {
			t.Errorf("unmatched record mutated: %v", b)
		}
	})

	t.Run("transform on absent field gets empty container", func(t *testing.T) {
		tbl, _ := newTestTable(t)
		mustInsert(t, tbl, record.Record{"id": float64(1)})
		tbl.Update(map[string]any{}, map[string]record.Mutation{
			"meta": record.Apply(func(cur any) any {
				m := cur.(map[string]any)
				m["seen"] = true
				return m
			}),
		})
		r, _ := tbl.Get(float64(1))
		meta, ok := r["meta"].(map[string]any)
		if !ok || meta["seen"] != true {
			t.Errorf("meta = %v", r["meta"])
		}
	})

	t.Run("stored values are not aliased to the caller", func(t *testing.T) {
		tbl, _ := newTestTable(t)
		mustInsert(t, tbl, record.Record{"id": float64(1)})

		shared := map[string]any{"k": "v"}
		tbl.Update(map[string]any{}, map[string]record.Mutation{
			"meta": record.Set(shared),
		})
		shared["k"] = "mutated-by-caller"

		r, _ := tbl.Get(float64(1))
		meta := r["meta"].(map[string]any)
		if meta["k"] != "v" {
			t.Errorf("caller mutation reached the dataset: meta = %v", meta)
		}
	})

	t.Run("scan does not skip soft-deleted records", func(t *testing.T) {
		tbl, _ := newTestTable(t)
		mustInsert(t, tbl, record.Record{"id": float64(1), "name": "Alice"})
		tbl.Delete(map[string]any{"name": "Alice"})

		n := tbl.Update(map[string]any{"name": "Alice"}, map[string]record.Mutation{
			"age": record.Set(float64(40)),
		})
		if n != 1 {
			t.Fatalf("n = %d, want 1 (deleted records still match)", n)
		}
		snap := tbl.Snapshot()
		if snap.Dataset["1"]["age"] != float64(40) {
			t.Errorf("deleted record not mutated: %v", snap.Dataset["1"])
		}
		if rows := tbl.Select(nil); len(rows) != 0 {
			t.Errorf("deleted record visible to select: %v", rows)
		}
	})
}

func TestDelete(t *testing.T) {
	tbl, dir := newTestTable(t)
	mustInsert(t, tbl, record.Record{"id": float64(1), "name": "Alice"})
	mustInsert(t, tbl, record.Record{"id": float64(2), "name": "Bob"})

	n := tbl.Delete(map[string]any{"name": "Bob"})
	if n != 1 {
		t.Fatalf("n = %d, want 1", n)
	}

	t.Run("hidden from select", func(t *testing.T) {
		rows := tbl.Select(nil)
		if len(rows) != 1 || rows[0]["name"] != "Alice" {
			t.Errorf("rows = %v", rows)
		}
		if rows := tbl.Select(map[string]any{"name": "Bob"}); len(rows) != 0 {
			t.Errorf("deleted record matched: %v", rows)
		}
	})

	t.Run("still occupies the dataset", func(t *testing.T) {
		if tbl.Len() != 2 {
			t.Errorf("len = %d, want 2", tbl.Len())
		}
		if !tbl.Has(float64(2)) {
			t.Error("deleted key vacated its slot")
		}
	})

	t.Run("survives a reload with deleted state", func(t *testing.T) {
		tbl.Save()
		re, err := New(dir, "users", "id", nil, Options{})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if !re.Has(float64(2)) {
			t.Error("deleted record not persisted")
		}
		if _, ok := re.Get(float64(2)); ok {
			t.Error("deleted record readable after reload")
		}
		snap := re.Snapshot()
		if snap.Dataset["2"][record.DeletedField] != true {
			t.Errorf("persisted record not flagged: %v", snap.Dataset["2"])
		}
		if !snap.Tombstones["2"].Deleted {
			t.Error("persisted tombstone not flagged")
		}
	})
}

func TestPersistence(t *testing.T) {
	t.Run("save and reload reproduce the dataset", func(t *testing.T) {
		tbl, dir := newTestTable(t)
		mustInsert(t, tbl, record.Record{"id": float64(1), "name": "Alice", "tags": []any{"a"}})
		mustInsert(t, tbl, record.Record{"id": float64(2), "name": "Bob", "meta": map[string]any{"x": float64(1)}})
		tbl.Save()

		re, err := New(dir, "users", "id", nil, Options{})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if !reflect.DeepEqual(tbl.Select(nil), re.Select(nil)) {
			t.Errorf("reloaded dataset differs:\n%v\n%v", tbl.Select(nil), re.Select(nil))
		}
	})

	t.Run("save clears the dirty marker", func(t *testing.T) {
		tbl, _ := newTestTable(t)
		mustInsert(t, tbl, record.Record{"id": float64(1)})
		if !tbl.Dirty() {
			t.Fatal("insert did not mark dirty")
		}
		tbl.Save()
		if tbl.Dirty() {
			t.Error("save did not clear dirty marker")
		}
	})

	t.Run("absent files load as empty", func(t *testing.T) {
		tbl, err := New(t.TempDir(), "nothing", "id", nil, Options{})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if rows := tbl.Select(nil); len(rows) != 0 {
			t.Errorf("rows = %v", rows)
		}
	})

	t.Run("corrupt data file loads as empty", func(t *testing.T) {
		dir := t.TempDir()
		tbl, err := New(dir, "users", "id", nil, Options{})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if err := os.WriteFile(tbl.DataPath(), []byte("{ not decodable"), 0o644); err != nil {
			t.Fatal(err)
		}
		re, err := New(dir, "users", "id", nil, Options{})
		if err != nil {
			t.Fatalf("New failed on corrupt file: %v", err)
		}
		if re.Len() != 0 {
			t.Errorf("len = %d, want 0", re.Len())
		}
	})

	t.Run("missing tombstone file is rebuilt from records", func(t *testing.T) {
		tbl, dir := newTestTable(t)
		mustInsert(t, tbl, record.Record{"id": float64(1)})
		mustInsert(t, tbl, record.Record{"id": float64(2)})
		tbl.Delete(map[string]any{"id": float64(2)})
		tbl.Save()
		if err := os.Remove(tbl.TombstonePath()); err != nil {
			t.Fatal(err)
		}

		re, err := New(dir, "users", "id", nil, Options{})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		snap := re.Snapshot()
		if snap.Tombstones["1"].Deleted || !snap.Tombstones["2"].Deleted {
			t.Errorf("tombstones = %v", snap.Tombstones)
		}
	})

	t.Run("yaml codec round trip", func(t *testing.T) {
		dir := t.TempDir()
		tbl, err := New(dir, "users", "id", nil, Options{Codec: codec.YAML})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		mustInsert(t, tbl, record.Record{"id": "a", "name": "Alice"})
		tbl.Save()
		re, err := New(dir, "users", "id", nil, Options{Codec: codec.YAML})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		r, ok := re.Get("a")
		if !ok || r["name"] != "Alice" {
			t.Errorf("record = %v, ok = %v", r, ok)
		}
	})
}

func TestLifecycle(t *testing.T) {
	t.Run("CheckSave flushes after the interval", func(t *testing.T) {
		dir := t.TempDir()
		tbl, err := New(dir, "users", "id", nil, Options{SaveInterval: time.Nanosecond})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		mustInsert(t, tbl, record.Record{"id": float64(1)})
		time.Sleep(time.Millisecond)
		tbl.CheckSave()
		if tbl.Dirty() {
			t.Error("CheckSave did not flush")
		}
		if _, err := os.Stat(tbl.DataPath()); err != nil {
			t.Errorf("data file not written: %v", err)
		}
	})

	t.Run("CheckSave before the interval is a no-op", func(t *testing.T) {
		dir := t.TempDir()
		tbl, err := New(dir, "users", "id", nil, Options{SaveInterval: time.Hour})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		mustInsert(t, tbl, record.Record{"id": float64(1)})
		tbl.CheckSave()
		if !tbl.Dirty() {
			t.Error("CheckSave flushed before the interval")
		}
	})

	t.Run("CheckUnload releases and access reloads lazily", func(t *testing.T) {
		dir := t.TempDir()
		tbl, err := New(dir, "users", "id", nil, Options{IdleUnloadThreshold: time.Nanosecond})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		mustInsert(t, tbl, record.Record{"id": float64(1), "name": "Alice"})
		time.Sleep(time.Millisecond)
		tbl.CheckUnload()

		// A dirty table flushes before releasing, so nothing is lost.
		rows := tbl.Select(nil)
		if len(rows) != 1 || rows[0]["name"] != "Alice" {
			t.Errorf("rows after reload = %v", rows)
		}
	})

	t.Run("Close flushes and the table stays usable", func(t *testing.T) {
		tbl, _ := newTestTable(t)
		mustInsert(t, tbl, record.Record{"id": float64(1)})
		tbl.Close()
		if _, err := os.Stat(tbl.DataPath()); err != nil {
			t.Errorf("close did not flush: %v", err)
		}
		if rows := tbl.Select(nil); len(rows) != 1 {
			t.Errorf("rows after close = %v", rows)
		}
	})

	t.Run("Invalidate picks up external edits", func(t *testing.T) {
		tbl, dir := newTestTable(t)
		mustInsert(t, tbl, record.Record{"id": float64(1), "name": "Alice"})
		tbl.Save()

		other, err := New(dir, "users", "id", nil, Options{})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		mustInsert(t, other, record.Record{"id": float64(2), "name": "Bob"})
		other.Save()

		if !tbl.Invalidate() {
			t.Fatal("clean table refused to invalidate")
		}
		if len(tbl.Select(nil)) != 2 {
			t.Error("reload did not pick up external record")
		}
	})

	t.Run("Invalidate refuses to drop unflushed edits", func(t *testing.T) {
		tbl, _ := newTestTable(t)
		mustInsert(t, tbl, record.Record{"id": float64(1)})
		if tbl.Invalidate() {
			t.Error("dirty table invalidated")
		}
	})
}

func TestSnapshotRestore(t *testing.T) {
	tbl, _ := newTestTable(t)
	mustInsert(t, tbl, record.Record{"id": float64(1), "name": "Alice"})

	snap := tbl.Snapshot()

	t.Run("snapshot is independent", func(t *testing.T) {
		snap.Dataset["1"]["name"] = "Eve"
		r, _ := tbl.Get(float64(1))
		if r["name"] != "Alice" {
			t.Errorf("snapshot aliased live dataset: %v", r)
		}
		snap.Dataset["1"]["name"] = "Alice"
	})

	t.Run("restore replaces live state", func(t *testing.T) {
		mustInsert(t, tbl, record.Record{"id": float64(2), "name": "Bob"})
		tbl.Restore(snap)
		rows := tbl.Select(nil)
		if len(rows) != 1 || rows[0]["name"] != "Alice" {
			t.Errorf("rows = %v", rows)
		}
		if !tbl.Dirty() {
			t.Error("restore did not mark dirty")
		}
	})
}
