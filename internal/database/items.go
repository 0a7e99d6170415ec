package database

// --- Collectible Item Queries ---

const itemColumns = `id, name, uid, latitude, longitude, picture, value`

func scanItem(row interface{ Scan(...interface{}) error }, it *CollectibleItem) error {
	return row.Scan(&it.ID, &it.Name, &it.UID, &it.Latitude, &it.Longitude, &it.Picture, &it.Value)
}

func (s *Service) CreateCollectibleItem(db DBorTx, it *CollectibleItem) (*CollectibleItem, error) {
	res, err := db.Exec(
		`INSERT INTO collectible_items (name, uid, latitude, longitude, picture, value) VALUES (?, ?, ?, ?, ?, ?);`,
		it.Name, it.UID, it.Latitude, it.Longitude, it.Picture, it.Value,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	created := *it
	created.ID = id
	return &created, nil
}

func (s *Service) ItemUIDExists(db DBorTx, uid string) (bool, error) {
	var exists bool
	err := db.QueryRow(`SELECT EXISTS (SELECT 1 FROM collectible_items WHERE uid = ?);`, uid).Scan(&exists)
	return exists, err
}

// ListCollectibleItems returns the whole catalog.
func (s *Service) ListCollectibleItems(db DBorTx) ([]CollectibleItem, error) {
	return queryItems(db, `SELECT `+itemColumns+` FROM collectible_items ORDER BY id;`)
}

// ListItemsByCollector returns the items an athlete has collected.
func (s *Service) ListItemsByCollector(db DBorTx, athleteID int64) ([]CollectibleItem, error) {
	return queryItems(db, `
		SELECT i.id, i.name, i.uid, i.latitude, i.longitude, i.picture, i.value
		FROM collectible_items i
		JOIN item_collectors ic ON ic.item_id = i.id
		WHERE ic.athlete_id = ?
		ORDER BY i.id;`, athleteID)
}

// AddItemCollector records that the athlete collected the item. It reports
// false when the athlete already had it.
func (s *Service) AddItemCollector(db DBorTx, itemID, athleteID int64) (bool, error) {
	res, err := db.Exec(`INSERT OR IGNORE INTO item_collectors (item_id, athlete_id) VALUES (?, ?);`, itemID, athleteID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *Service) CountItemCollectors(db DBorTx, itemID int64) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM item_collectors WHERE item_id = ?;`, itemID).Scan(&n)
	return n, err
}

func queryItems(db DBorTx, query string, args ...interface{}) ([]CollectibleItem, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []CollectibleItem{}
	for rows.Next() {
		var it CollectibleItem
		if err := scanItem(rows, &it); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
