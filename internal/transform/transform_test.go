package transform

import (
	"strings"
	"testing"
	"time"

	"mapload/internal/config"
)

func testMappings() []config.ColumnMapping {
	return []config.ColumnMapping{
		{Source: "id", Target: "customer_id", Type: "int", Role: config.RoleKey},
		{Source: "name", Target: "name", Type: "text", Role: config.RoleValue},
		{Source: "balance", Target: "balance", Type: "float", Role: config.RoleValue, Nullable: true},
		{Expression: `"GOLD" if ltv > 10000 else "STANDARD"`, Target: "tier", Type: "text", Role: config.RoleValue},
		{Source: "loaded_by", Target: "loaded_by", Type: "text", Role: config.RoleAudit, Default: "mapload"},
	}
}

func srcRow() map[string]any {
	return map[string]any{
		"id":      int64(7),
		"name":    "Ada",
		"balance": float64(12.5),
		"ltv":     int64(20000),
	}
}

// TestApply checks copy+coerce, derivation expressions, and defaults in one
// pass.
func TestApply(t *testing.T) {
	t.Parallel()

	tr, err := New(testMappings())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	row, err := tr.Apply(srcRow(), 3)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if row.Index != 3 {
		t.Errorf("Index = %d, want 3", row.Index)
	}

	want := []any{int64(7), "Ada", float64(12.5), "GOLD", "mapload"}
	if len(row.Values) != len(want) {
		t.Fatalf("Values = %v", row.Values)
	}
	for i := range want {
		if row.Values[i] != want[i] {
			t.Errorf("Values[%d] = %#v, want %#v", i, row.Values[i], want[i])
		}
	}
	if row.Hash == "" || len(row.Hash) != 16 {
		t.Errorf("Hash = %q, want 16 hex chars", row.Hash)
	}
}

// TestColumns checks column ordering and VALUE-role selection.
func TestColumns(t *testing.T) {
	t.Parallel()

	tr, err := New(testMappings())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := strings.Join(tr.Columns(), ","); got != "customer_id,name,balance,tier,loaded_by" {
		t.Errorf("Columns = %q", got)
	}
	if got := strings.Join(tr.ValueColumns(), ","); got != "name,balance,tier" {
		t.Errorf("ValueColumns = %q", got)
	}
}

// TestApplyRejectsRow covers the per-row failure modes: non-nullable NULL
// without a default, bad coercion, and a failing expression.
func TestApplyRejectsRow(t *testing.T) {
	t.Parallel()

	tr, err := New(testMappings())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	missingKey := srcRow()
	delete(missingKey, "id")
	if _, err := tr.Apply(missingKey, 0); err == nil {
		t.Errorf("Apply should reject a NULL non-nullable key")
	}

	badInt := srcRow()
	badInt["id"] = "not-a-number"
	if _, err := tr.Apply(badInt, 0); err == nil {
		t.Errorf("Apply should reject an uncoercible int")
	}

	noLtv := srcRow()
	delete(noLtv, "ltv")
	if _, err := tr.Apply(noLtv, 0); err == nil {
		t.Errorf("Apply should reject a failing expression")
	}
}

// TestCoercions spot-checks the per-type conversions including date layouts.
func TestCoercions(t *testing.T) {
	t.Parallel()

	tr, err := New([]config.ColumnMapping{
		{Source: "k", Target: "k", Type: "int", Role: config.RoleKey},
		{Source: "d", Target: "d", Type: "date", Role: config.RoleValue},
		{Source: "ts", Target: "ts", Type: "timestamp", Role: config.RoleValue},
		{Source: "ok", Target: "ok", Type: "bool", Role: config.RoleValue},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	row, err := tr.Apply(map[string]any{
		"k":  "41",
		"d":  "2024-05-06",
		"ts": "2024-05-06T07:08:09Z",
		"ok": "true",
	}, 0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if row.Values[0] != int64(41) {
		t.Errorf("int coercion = %#v", row.Values[0])
	}
	if d := row.Values[1].(time.Time); d.Year() != 2024 || d.Month() != 5 {
		t.Errorf("date coercion = %v", d)
	}
	if ts := row.Values[2].(time.Time); ts.Hour() != 7 {
		t.Errorf("timestamp coercion = %v", ts)
	}
	if row.Values[3] != true {
		t.Errorf("bool coercion = %#v", row.Values[3])
	}
}

// TestHashStability: the hash covers VALUE columns only, is independent of
// driver integer width, and normalizes text to NFC.
func TestHashStability(t *testing.T) {
	t.Parallel()

	tr, err := New(testMappings())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a, err := tr.Apply(srcRow(), 0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// AUDIT and KEY changes must not affect the hash.
	changedAudit := srcRow()
	changedAudit["loaded_by"] = "someone-else"
	changedAudit["id"] = int64(8)
	b, err := tr.Apply(changedAudit, 1)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if a.Hash != b.Hash {
		t.Errorf("hash changed on non-VALUE columns: %q vs %q", a.Hash, b.Hash)
	}

	// A VALUE change must.
	changedName := srcRow()
	changedName["name"] = "Grace"
	c, err := tr.Apply(changedName, 2)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if a.Hash == c.Hash {
		t.Errorf("hash did not change on a VALUE column")
	}

	// int32 from another driver hashes like int64.
	widened := srcRow()
	widened["id"] = int32(7)
	d, err := tr.Apply(widened, 3)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if a.Hash != d.Hash {
		t.Errorf("hash depends on integer width")
	}

	// NFC: decomposed é must hash like the precomposed form.
	formA := srcRow()
	formA["name"] = "Amélie"
	formB := srcRow()
	formB["name"] = "Amélie"
	e1, _ := tr.Apply(formA, 4)
	e2, _ := tr.Apply(formB, 5)
	if e1.Hash != e2.Hash {
		t.Errorf("hash not NFC-normalized: %q vs %q", e1.Hash, e2.Hash)
	}
}

// TestHashNamed ensures the name-keyed hash (used by merge lookups) matches
// the positional hash for the same logical row.
func TestHashNamed(t *testing.T) {
	t.Parallel()

	tr, err := New(testMappings())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	row, err := tr.Apply(srcRow(), 0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	named := map[string]any{"name": "Ada", "balance": float64(12.5), "tier": "GOLD"}
	if got := tr.HashNamed(named); got != row.Hash {
		t.Errorf("HashNamed = %q, positional = %q", got, row.Hash)
	}
}

// TestNullValueInHash ensures NULL and empty string hash differently.
func TestNullValueInHash(t *testing.T) {
	t.Parallel()

	tr, err := New([]config.ColumnMapping{
		{Source: "k", Target: "k", Type: "int", Role: config.RoleKey},
		{Source: "v", Target: "v", Type: "text", Role: config.RoleValue, Nullable: true},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	withNull, _ := tr.Apply(map[string]any{"k": int64(1), "v": nil}, 0)
	withEmpty, _ := tr.Apply(map[string]any{"k": int64(1), "v": ""}, 1)
	if withNull.Hash == withEmpty.Hash {
		t.Errorf("NULL and empty string must not collide")
	}
}
