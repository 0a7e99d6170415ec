// Package catalog reads collectible item catalogs from xlsx spreadsheets.
//
// The first sheet is read. The first row is a header and is skipped. Each
// remaining row holds, in order: name, uid, value, latitude, longitude,
// picture URL.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/intermernet/runtracker/internal/database"
	"github.com/intermernet/runtracker/internal/validation"
)

// Item is one validated catalog row.
type Item struct {
	Name      string  `xlsx:"name" validate:"required,max=255"`
	UID       string  `xlsx:"uid" validate:"required,max=255"`
	Value     int     `xlsx:"value" validate:"gte=0"`
	Latitude  float64 `xlsx:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `xlsx:"longitude" validate:"gte=-180,lte=180"`
	Picture   string  `xlsx:"picture" validate:"required,url"`
}

// InvalidRow is a row that could not be turned into an Item.
type InvalidRow struct {
	Row    int      `json:"row"` // 1-based spreadsheet row number
	Values []string `json:"values"`
	Reason string   `json:"reason"`
}

// Result splits a sheet into usable items and rejected rows.
type Result struct {
	Items   []Item
	Invalid []InvalidRow
	rows    []int // spreadsheet row of each entry in Items
}

const columnCount = 6

// ErrInvalidWorkbook marks uploads that are not a readable xlsx workbook.
var ErrInvalidWorkbook = errors.New("invalid workbook")

// Parse reads a workbook and validates each data row. A malformed workbook is
// an error; malformed rows are reported in Result.Invalid.
func Parse(r io.Reader) (*Result, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkbook, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: no sheets", ErrInvalidWorkbook)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %q: %v", ErrInvalidWorkbook, sheets[0], err)
	}

	res := &Result{}
	for i, row := range rows {
		if i == 0 || blank(row) {
			continue
		}
		rowNum := i + 1
		item, err := parseRow(row)
		if err != nil {
			res.Invalid = append(res.Invalid, InvalidRow{Row: rowNum, Values: row, Reason: err.Error()})
			continue
		}
		res.Items = append(res.Items, item)
		res.rows = append(res.rows, rowNum)
	}
	return res, nil
}

func parseRow(row []string) (Item, error) {
	cells := make([]string, columnCount)
	for i := 0; i < columnCount && i < len(row); i++ {
		cells[i] = strings.TrimSpace(row[i])
	}

	value, err := strconv.Atoi(cells[2])
	if err != nil {
		return Item{}, fmt.Errorf("value %q is not an integer", cells[2])
	}
	lat, err := strconv.ParseFloat(cells[3], 64)
	if err != nil {
		return Item{}, fmt.Errorf("latitude %q is not a number", cells[3])
	}
	lon, err := strconv.ParseFloat(cells[4], 64)
	if err != nil {
		return Item{}, fmt.Errorf("longitude %q is not a number", cells[4])
	}

	item := Item{
		Name:      cells[0],
		UID:       cells[1],
		Value:     value,
		Latitude:  lat,
		Longitude: lon,
		Picture:   cells[5],
	}
	if verr := validation.ValidateStruct(item); verr != nil {
		return Item{}, verr
	}
	return item, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Report is the outcome of an import.
type Report struct {
	Created []database.CollectibleItem
	Invalid []InvalidRow
}

// Import parses a workbook and stores every valid row in one transaction.
// Rows whose uid already exists, in the store or earlier in the sheet, are
// reported as invalid instead of failing the import.
func Import(db *database.Service, r io.Reader) (*Report, error) {
	res, err := Parse(r)
	if err != nil {
		return nil, err
	}

	report := &Report{Invalid: res.Invalid}
	err = db.WriteToMainDB(func(tx *sql.Tx) error {
		seen := make(map[string]bool, len(res.Items))
		for i, it := range res.Items {
			exists, err := db.ItemUIDExists(tx, it.UID)
			if err != nil {
				return fmt.Errorf("check uid %q: %w", it.UID, err)
			}
			if exists || seen[it.UID] {
				report.Invalid = append(report.Invalid, InvalidRow{
					Row:    res.rows[i],
					Values: []string{it.Name, it.UID, strconv.Itoa(it.Value), formatFloat(it.Latitude), formatFloat(it.Longitude), it.Picture},
					Reason: fmt.Sprintf("uid %q already exists", it.UID),
				})
				continue
			}
			seen[it.UID] = true

			created, err := db.CreateCollectibleItem(tx, &database.CollectibleItem{
				Name:      it.Name,
				UID:       it.UID,
				Latitude:  it.Latitude,
				Longitude: it.Longitude,
				Picture:   it.Picture,
				Value:     it.Value,
			})
			if err != nil {
				return fmt.Errorf("create item %q: %w", it.UID, err)
			}
			report.Created = append(report.Created, *created)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
