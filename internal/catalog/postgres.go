package catalog

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"car-market-monitor/internal/models"
)

// PostgresStore is a plain-SQL Store implementation for deployments that run
// against Postgres instead of MySQL.
type PostgresStore struct {
	conn *sql.DB
}

// OpenPostgres opens a Postgres-backed store.
func OpenPostgres(host string, port int, user, password, dbname, sslmode string) (*PostgresStore, error) {
	if sslmode == "" {
		sslmode = "disable"
	}
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)

	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		return nil, err
	}

	return &PostgresStore{conn: conn}, nil
}

func (s *PostgresStore) Close() error {
	return s.conn.Close()
}

// Init creates the catalog tables if they don't exist
func (s *PostgresStore) Init() error {
	query := `
	CREATE TABLE IF NOT EXISTS listings (
		id BIGSERIAL PRIMARY KEY,
		blocket_id VARCHAR(32) NOT NULL UNIQUE,
		reg_no VARCHAR(16),
		make VARCHAR(64),
		model VARCHAR(128),
		year INTEGER,
		mileage INTEGER,
		fuel VARCHAR(32),
		price INTEGER,
		region VARCHAR(32),
		published TIMESTAMPTZ,
		seller_name VARCHAR(255),
		seller_type VARCHAR(16),
		url VARCHAR(500),
		image_url TEXT,
		gearbox VARCHAR(32),
		body_type VARCHAR(32),
		color VARCHAR(32),
		city VARCHAR(64),
		vat_listed BOOLEAN NOT NULL DEFAULT FALSE,
		price_ex_vat INTEGER,
		first_seen TIMESTAMPTZ NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL,
		removed_at TIMESTAMPTZ,
		removed_reason VARCHAR(20),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS price_events (
		id BIGSERIAL PRIMARY KEY,
		listing_id BIGINT NOT NULL REFERENCES listings(id),
		price INTEGER NOT NULL,
		observed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS run_logs (
		id BIGSERIAL PRIMARY KEY,
		run_type VARCHAR(10) NOT NULL,
		status VARCHAR(20) NOT NULL,
		regions TEXT,
		makes TEXT,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		found INTEGER NOT NULL DEFAULT 0,
		new INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		price_changes INTEGER NOT NULL DEFAULT 0,
		enriched INTEGER NOT NULL DEFAULT 0,
		removed INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS market_stats (
		id BIGSERIAL PRIMARY KEY,
		stat_date DATE NOT NULL,
		region VARCHAR(32) NOT NULL,
		make VARCHAR(64) NOT NULL,
		listing_count INTEGER NOT NULL,
		mean_price INTEGER,
		median_price INTEGER,
		min_price INTEGER,
		max_price INTEGER,
		private_count INTEGER NOT NULL,
		dealer_count INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (stat_date, region, make)
	);

	CREATE TABLE IF NOT EXISTS delete_logs (
		id BIGSERIAL PRIMARY KEY,
		listing_id BIGINT NOT NULL,
		blocket_id VARCHAR(32) NOT NULL,
		make VARCHAR(64),
		model VARCHAR(128),
		url VARCHAR(500),
		removed_at TIMESTAMPTZ,
		deleted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		reason VARCHAR(50) NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_listings_last_seen ON listings(last_seen);
	CREATE INDEX IF NOT EXISTS idx_listings_removed_at ON listings(removed_at);
	CREATE INDEX IF NOT EXISTS idx_price_events_listing ON price_events(listing_id);
	CREATE INDEX IF NOT EXISTS idx_run_logs_started ON run_logs(started_at DESC);
	`
	_, err := s.conn.Exec(query)
	return err
}

const listingColumns = `id, blocket_id, reg_no, make, model, year, mileage, fuel, price, region,
	published, seller_name, seller_type, url, image_url,
	gearbox, body_type, color, city, vat_listed, price_ex_vat,
	first_seen, last_seen, removed_at, removed_reason, created_at, updated_at`

func scanListing(row interface{ Scan(...interface{}) error }) (*models.Listing, error) {
	var l models.Listing
	var regNo, mk, model, fuel, region, sellerName, sellerType, url, imageURL, removedReason sql.NullString
	var published, removedAt sql.NullTime

	err := row.Scan(
		&l.ID, &l.BlocketID, &regNo, &mk, &model, &l.Year, &l.Mileage, &fuel, &l.Price, &region,
		&published, &sellerName, &sellerType, &url, &imageURL,
		&l.Gearbox, &l.BodyType, &l.Color, &l.City, &l.VATListed, &l.PriceExVAT,
		&l.FirstSeen, &l.LastSeen, &removedAt, &removedReason, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.RegNo = regNo.String
	l.Make = mk.String
	l.Model = model.String
	l.Fuel = fuel.String
	l.Region = region.String
	l.SellerName = sellerName.String
	l.SellerType = sellerType.String
	l.URL = url.String
	l.ImageURL = imageURL.String
	l.RemovedReason = removedReason.String
	if published.Valid {
		t := published.Time
		l.Published = &t
	}
	if removedAt.Valid {
		t := removedAt.Time
		l.RemovedAt = &t
	}
	return &l, nil
}

func (s *PostgresStore) queryListings(query string, args ...interface{}) ([]models.Listing, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

func (s *PostgresStore) FindByBlocketID(blocketID string) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE blocket_id = $1`
	l, err := scanListing(s.conn.QueryRow(query, blocketID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (s *PostgresStore) CreateListing(l *models.Listing) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
	INSERT INTO listings (
		blocket_id, reg_no, make, model, year, mileage, fuel, price, region,
		published, seller_name, seller_type, url, image_url,
		gearbox, body_type, color, city, vat_listed, price_ex_vat,
		first_seen, last_seen
	)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
	RETURNING id, created_at, updated_at`

	err = tx.QueryRow(query,
		l.BlocketID, l.RegNo, l.Make, l.Model, l.Year, l.Mileage, l.Fuel, l.Price, l.Region,
		l.Published, l.SellerName, l.SellerType, l.URL, l.ImageURL,
		l.Gearbox, l.BodyType, l.Color, l.City, l.VATListed, l.PriceExVAT,
		l.FirstSeen, l.LastSeen,
	).Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return err
	}

	if l.Price != nil {
		_, err = tx.Exec(`INSERT INTO price_events (listing_id, price, observed_at) VALUES ($1, $2, $3)`,
			l.ID, *l.Price, l.FirstSeen)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) SaveListing(l *models.Listing) error {
	query := `
	UPDATE listings SET
		reg_no = $2, make = $3, model = $4, year = $5, mileage = $6, fuel = $7,
		price = $8, region = $9, published = $10, seller_name = $11, seller_type = $12,
		url = $13, image_url = $14, gearbox = $15, body_type = $16, color = $17,
		city = $18, vat_listed = $19, price_ex_vat = $20,
		first_seen = $21, last_seen = $22, removed_at = $23, removed_reason = $24,
		updated_at = NOW()
	WHERE id = $1`
	_, err := s.conn.Exec(query,
		l.ID, l.RegNo, l.Make, l.Model, l.Year, l.Mileage, l.Fuel,
		l.Price, l.Region, l.Published, l.SellerName, l.SellerType,
		l.URL, l.ImageURL, l.Gearbox, l.BodyType, l.Color,
		l.City, l.VATListed, l.PriceExVAT,
		l.FirstSeen, l.LastSeen, l.RemovedAt, nullIfEmpty(l.RemovedReason))
	return err
}

func (s *PostgresStore) TouchLastSeen(id int64, seen time.Time) error {
	_, err := s.conn.Exec(`UPDATE listings SET last_seen = $2, updated_at = NOW() WHERE id = $1`, id, seen)
	return err
}

func (s *PostgresStore) UpdatePrice(id int64, price int, seen time.Time) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`UPDATE listings SET price = $2, last_seen = $3, updated_at = NOW() WHERE id = $1`,
		id, price, seen)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`INSERT INTO price_events (listing_id, price, observed_at) VALUES ($1, $2, $3)`,
		id, price, seen)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) AppendPriceEvent(listingID int64, price int, observedAt time.Time) error {
	_, err := s.conn.Exec(`INSERT INTO price_events (listing_id, price, observed_at) VALUES ($1, $2, $3)`,
		listingID, price, observedAt)
	return err
}

func (s *PostgresStore) PriceEvents(listingID int64) ([]models.PriceEvent, error) {
	rows, err := s.conn.Query(
		`SELECT id, listing_id, price, observed_at FROM price_events WHERE listing_id = $1 ORDER BY observed_at ASC`,
		listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.PriceEvent
	for rows.Next() {
		var e models.PriceEvent
		if err := rows.Scan(&e.ID, &e.ListingID, &e.Price, &e.ObservedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) ListActive() ([]models.Listing, error) {
	return s.queryListings(`SELECT ` + listingColumns + ` FROM listings WHERE removed_at IS NULL`)
}

func (s *PostgresStore) ListActiveNotSeenSince(cutoff time.Time) ([]models.Listing, error) {
	return s.queryListings(
		`SELECT `+listingColumns+` FROM listings WHERE removed_at IS NULL AND last_seen < $1`, cutoff)
}

func (s *PostgresStore) ListNeedingDetails(limit int) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings
		WHERE removed_at IS NULL AND (gearbox IS NULL OR (gearbox <> '' AND city IS NULL))`
	if limit > 0 {
		return s.queryListings(query+` LIMIT $1`, limit)
	}
	return s.queryListings(query)
}

func (s *PostgresStore) MarkRemoved(id int64, reason string) error {
	_, err := s.conn.Exec(
		`UPDATE listings SET removed_at = NOW(), removed_reason = $2, updated_at = NOW()
		 WHERE id = $1 AND removed_at IS NULL`, id, reason)
	return err
}

func (s *PostgresStore) BulkMarkRemoved(ids []int64, reason string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var marked int64
	// Batch in groups of 50
	for i := 0; i < len(ids); i += 50 {
		end := i + 50
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[i:end]

		params := make([]interface{}, 0, len(batch)+1)
		params = append(params, reason)
		placeholders := ""
		for j, id := range batch {
			if j > 0 {
				placeholders += ","
			}
			placeholders += fmt.Sprintf("$%d", j+2)
			params = append(params, id)
		}

		result, err := s.conn.Exec(
			`UPDATE listings SET removed_at = NOW(), removed_reason = $1, updated_at = NOW()
			 WHERE removed_at IS NULL AND id IN (`+placeholders+`)`, params...)
		if err != nil {
			return marked, err
		}
		n, _ := result.RowsAffected()
		marked += n
	}
	return marked, nil
}

func (s *PostgresStore) StartRun(run *models.RunLog) error {
	return s.conn.QueryRow(
		`INSERT INTO run_logs (run_type, status, regions, makes, started_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		run.RunType, run.Status, run.Regions, run.Makes, run.StartedAt,
	).Scan(&run.ID)
}

func (s *PostgresStore) FinishRun(run *models.RunLog) error {
	_, err := s.conn.Exec(
		`UPDATE run_logs SET status = $2, finished_at = $3, found = $4, new = $5, updated = $6,
			price_changes = $7, enriched = $8, removed = $9, errors = $10, error_message = $11
		 WHERE id = $1`,
		run.ID, run.Status, run.FinishedAt, run.Found, run.New, run.Updated,
		run.PriceChanges, run.Enriched, run.Removed, run.Errors, nullIfEmpty(run.ErrorMessage))
	return err
}

func (s *PostgresStore) RecentRuns(limit int) ([]models.RunLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.Query(
		`SELECT id, run_type, status, regions, makes, started_at, finished_at,
			found, new, updated, price_changes, enriched, removed, errors, error_message
		 FROM run_logs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.RunLog
	for rows.Next() {
		var r models.RunLog
		var regions, makes, errMsg sql.NullString
		var finished sql.NullTime
		err := rows.Scan(&r.ID, &r.RunType, &r.Status, &regions, &makes, &r.StartedAt, &finished,
			&r.Found, &r.New, &r.Updated, &r.PriceChanges, &r.Enriched, &r.Removed, &r.Errors, &errMsg)
		if err != nil {
			return nil, err
		}
		r.Regions = regions.String
		r.Makes = makes.String
		r.ErrorMessage = errMsg.String
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *PostgresStore) UpsertMarketStat(stat *models.MarketStat) error {
	query := `
	INSERT INTO market_stats (
		stat_date, region, make, listing_count, mean_price, median_price,
		min_price, max_price, private_count, dealer_count
	)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	ON CONFLICT (stat_date, region, make) DO UPDATE SET
		listing_count = EXCLUDED.listing_count,
		mean_price = EXCLUDED.mean_price,
		median_price = EXCLUDED.median_price,
		min_price = EXCLUDED.min_price,
		max_price = EXCLUDED.max_price,
		private_count = EXCLUDED.private_count,
		dealer_count = EXCLUDED.dealer_count,
		updated_at = NOW()`
	_, err := s.conn.Exec(query,
		stat.StatDate, stat.Region, stat.Make, stat.ListingCount, stat.MeanPrice, stat.MedianPrice,
		stat.MinPrice, stat.MaxPrice, stat.PrivateCount, stat.DealerCount)
	return err
}

func (s *PostgresStore) MarketStatsForDate(date time.Time) ([]models.MarketStat, error) {
	rows, err := s.conn.Query(
		`SELECT id, stat_date, region, make, listing_count, mean_price, median_price,
			min_price, max_price, private_count, dealer_count, created_at, updated_at
		 FROM market_stats WHERE stat_date = $1`, date.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []models.MarketStat
	for rows.Next() {
		var m models.MarketStat
		err := rows.Scan(&m.ID, &m.StatDate, &m.Region, &m.Make, &m.ListingCount,
			&m.MeanPrice, &m.MedianPrice, &m.MinPrice, &m.MaxPrice,
			&m.PrivateCount, &m.DealerCount, &m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			return nil, err
		}
		stats = append(stats, m)
	}
	return stats, rows.Err()
}

func (s *PostgresStore) ListRemovedBefore(cutoff time.Time) ([]models.Listing, error) {
	return s.queryListings(
		`SELECT `+listingColumns+` FROM listings WHERE removed_at IS NOT NULL AND removed_at < $1`, cutoff)
}

func (s *PostgresStore) DeleteListing(l *models.Listing, reason string) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO delete_logs (listing_id, blocket_id, make, model, url, removed_at, reason)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		l.ID, l.BlocketID, l.Make, l.Model, l.URL, l.RemovedAt, reason)
	if err != nil {
		return err
	}
	if _, err = tx.Exec(`DELETE FROM price_events WHERE listing_id = $1`, l.ID); err != nil {
		return err
	}
	if _, err = tx.Exec(`DELETE FROM listings WHERE id = $1`, l.ID); err != nil {
		return err
	}
	return tx.Commit()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
