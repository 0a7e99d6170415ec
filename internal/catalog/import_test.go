package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/intermernet/runtracker/internal/database"
)

func workbook(t *testing.T, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		r := row
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+1), &r); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf
}

var header = []interface{}{"name", "uid", "value", "latitude", "longitude", "picture"}

func TestParse(t *testing.T) {
	buf := workbook(t, [][]interface{}{
		header,
		{"Gold coin", "coin-1", 10, 55.7558, 37.6173, "https://example.com/coin.png"},
		{"", "", "", "", "", ""},
		{"Bad lat", "bad-1", "5", "95", "10", "https://example.com/x.png"},
		{"Bad value", "bad-2", "lots", "1", "1", "https://example.com/x.png"},
		{"No picture", "bad-3", "1", "1", "1", "not a url"},
		{"Silver", "coin-2", "3", "-33.8688", "151.2093", "https://example.com/silver.png"},
	})

	res, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("items = %+v, want 2", res.Items)
	}
	if res.Items[0].UID != "coin-1" || res.Items[0].Value != 10 || res.Items[0].Latitude != 55.7558 {
		t.Errorf("first item = %+v", res.Items[0])
	}

	if len(res.Invalid) != 3 {
		t.Fatalf("invalid = %+v, want 3", res.Invalid)
	}
	wantRows := []int{4, 5, 6}
	wantReasons := []string{"latitude", "value", "picture"}
	for i, inv := range res.Invalid {
		if inv.Row != wantRows[i] {
			t.Errorf("invalid[%d].Row = %d, want %d", i, inv.Row, wantRows[i])
		}
		if !strings.Contains(inv.Reason, wantReasons[i]) {
			t.Errorf("invalid[%d].Reason = %q, want mention of %q", i, inv.Reason, wantReasons[i])
		}
	}
}

func TestParseRejectsNonWorkbook(t *testing.T) {
	if _, err := Parse(strings.NewReader("name,uid\nx,y\n")); !errors.Is(err, ErrInvalidWorkbook) {
		t.Errorf("err = %v, want ErrInvalidWorkbook for a CSV upload", err)
	}
}

func TestImport(t *testing.T) {
	db, err := database.NewService(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(db.Close)
	if err := db.InitMainDB(); err != nil {
		t.Fatal(err)
	}
	if _, err := db.CreateCollectibleItem(db.GetMainDB(), &database.CollectibleItem{Name: "Old", UID: "taken", Picture: "https://example.com/o.png"}); err != nil {
		t.Fatal(err)
	}

	buf := workbook(t, [][]interface{}{
		header,
		{"Fresh", "fresh-1", "7", "10", "20", "https://example.com/f.png"},
		{"Clash", "taken", "7", "10", "20", "https://example.com/c.png"},
		{"Repeat", "fresh-1", "7", "10", "20", "https://example.com/r.png"},
		{"Broken", "broken", "x", "10", "20", "https://example.com/b.png"},
	})

	report, err := Import(db, buf)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(report.Created) != 1 || report.Created[0].UID != "fresh-1" || report.Created[0].ID == 0 {
		t.Errorf("created = %+v", report.Created)
	}
	if len(report.Invalid) != 3 {
		t.Errorf("invalid = %+v, want 3", report.Invalid)
	}

	items, _ := db.ListCollectibleItems(db.GetMainDB())
	if len(items) != 2 {
		t.Errorf("catalog has %d items, want 2", len(items))
	}
}
