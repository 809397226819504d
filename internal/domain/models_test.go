package domain

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestTableNames(t *testing.T) {
	if (RoutineDocument{}).TableName() != "routines" {
		t.Fatalf("RoutineDocument.TableName() = %q; want %q", (RoutineDocument{}).TableName(), "routines")
	}
	if (Product{}).TableName() != "products" {
		t.Fatalf("Product.TableName() = %q; want %q", (Product{}).TableName(), "products")
	}
}

func TestMigrations_Indexes(t *testing.T) {
	db := newTestDB(t)
	if err := db.AutoMigrate(&RoutineDocument{}, &Product{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	if !m.HasIndex(&RoutineDocument{}, "idx_routine_key") {
		t.Fatalf("expected index idx_routine_key on routines")
	}
	if !m.HasIndex(&Product{}, "ux_products_url") {
		t.Fatalf("expected unique index ux_products_url on products")
	}

	now := time.Now().UTC()
	p := &Product{ID: "p1", URL: "https://shop/x", Title: "X", CreatedAt: now, UpdatedAt: now}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("insert product: %v", err)
	}
	dup := *p
	dup.ID = "p2"
	if err := db.Create(&dup).Error; err == nil {
		t.Fatalf("expected unique violation on products.url")
	}
}

func TestRoutineKey_NormalizeValidate(t *testing.T) {
	k := RoutineKey{SkinType: "  Oily ", SkinConcern: "\tAcne\n"}
	if got := k.CacheKey(); got != "routine:Oily:Acne" {
		t.Fatalf("CacheKey = %q", got)
	}
	if k.Normalize() != (RoutineKey{SkinType: "Oily", SkinConcern: "Acne"}) {
		t.Fatalf("Normalize = %+v", k.Normalize())
	}
	if err := k.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for _, bad := range []RoutineKey{{SkinType: "   ", SkinConcern: "Acne"}, {SkinType: "Oily"}, {}} {
		if err := bad.Validate(); err != ErrInvalidKey {
			t.Fatalf("Validate(%+v) = %v; want ErrInvalidKey", bad, err)
		}
	}
	// case is significant
	if (RoutineKey{SkinType: "oily", SkinConcern: "acne"}).CacheKey() == k.CacheKey() {
		t.Fatalf("keys differing in case must not collide")
	}
}

func TestRoutineRecord_JSONShape(t *testing.T) {
	rec := RoutineRecord{
		Routine: Routine{
			Morning: []RoutineStep{{Step: 1, ProductName: "Cleanser", ProductURL: "https://x", Reasoning: "r", HowToUse: "h"}},
			Evening: []RoutineStep{{Step: 1, ProductName: "Serum", Reasoning: "r", HowToUse: "h"}},
		},
		WeeklyTreatments: []WeeklyTreatment{{TreatmentType: "mask", HowToUse: "once"}},
		GeneralNotes:     []string{"drink water"},
	}
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	_ = json.Unmarshal(b, &raw)
	routine, _ := raw["routine"].(map[string]any)
	if _, ok := routine["morning"]; !ok {
		t.Fatalf("missing routine.morning in %s", b)
	}
	if _, ok := raw["general_notes"]; !ok {
		t.Fatalf("missing general_notes in %s", b)
	}

	var back RoutineRecord
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(rec, back) {
		t.Fatalf("round trip mismatch:\n%+v\n%+v", rec, back)
	}
	if err := back.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	back.Routine.Evening = nil
	if err := back.Validate(); err != ErrIncompleteRoutine {
		t.Fatalf("expected ErrIncompleteRoutine, got %v", err)
	}
}

func TestValidSessionID(t *testing.T) {
	for _, ok := range []string{"3f2c1a9e-6b7d-4c1e-9a55-0d6f1b2c3d4e", "V1StGXR8_Z5jdHi6B-myT"} {
		if !ValidSessionID(ok) {
			t.Fatalf("expected %q to be valid", ok)
		}
	}
	for _, bad := range []string{"", "short", "has space here", "../../etc/passwd"} {
		if ValidSessionID(bad) {
			t.Fatalf("expected %q to be invalid", bad)
		}
	}
}

func TestEventName_IsTerminal(t *testing.T) {
	if !EventComplete.IsTerminal() || !EventError.IsTerminal() {
		t.Fatal("complete and error are terminal")
	}
	if EventStatus.IsTerminal() || EventChunk.IsTerminal() || EventWarning.IsTerminal() {
		t.Fatal("status, chunk and warning are not terminal")
	}
}
