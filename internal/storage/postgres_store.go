package storage

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/Danylo93/uber-like-freelas-sub001/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveRequest(r *models.ServiceRequest) error {
	_, err := p.db.Exec(`INSERT INTO service_requests(id, client_id, provider_id, category, title, description, address, lat, lon, status, final_price, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		r.ID, r.ClientID, r.ProviderID, r.Category, r.Title, r.Description, r.Address,
		r.Location.Latitude, r.Location.Longitude, r.Status, r.FinalPrice, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) UpdateRequest(r *models.ServiceRequest) error {
	_, err := p.db.Exec(`UPDATE service_requests SET provider_id=$1, status=$2, final_price=$3, updated_at=$4 WHERE id=$5`,
		r.ProviderID, r.Status, r.FinalPrice, time.Now(), r.ID)
	return err
}

func (p *PostgresStore) GetRequest(id string) (*models.ServiceRequest, error) {
	row := p.db.QueryRow(`SELECT id, client_id, provider_id, category, title, description, address, lat, lon, status, final_price, created_at, updated_at
		FROM service_requests WHERE id=$1`, id)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) ListPendingRequests() ([]models.ServiceRequest, error) {
	return p.list(`SELECT id, client_id, provider_id, category, title, description, address, lat, lon, status, final_price, created_at, updated_at
		FROM service_requests WHERE status=$1 ORDER BY created_at`, string(models.StatusPending))
}

func (p *PostgresStore) ListCompletedByProvider(providerID string) ([]models.ServiceRequest, error) {
	return p.list(`SELECT id, client_id, provider_id, category, title, description, address, lat, lon, status, final_price, created_at, updated_at
		FROM service_requests WHERE status='completed' AND provider_id=$1 ORDER BY created_at`, providerID)
}

func (p *PostgresStore) list(query string, arg any) ([]models.ServiceRequest, error) {
	rows, err := p.db.Query(query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ServiceRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SaveOffer(o *models.Offer) error {
	_, err := p.db.Exec(`INSERT INTO offers(id, service_request_id, provider_id, price, estimated_time_min, status, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING`,
		o.ID, o.ServiceRequestID, o.ProviderID, o.Price, o.EstimatedTimeMin, o.Status, o.CreatedAt)
	return err
}

func (p *PostgresStore) UpdateOffer(o *models.Offer) error {
	_, err := p.db.Exec(`UPDATE offers SET status=$1 WHERE id=$2`, o.Status, o.ID)
	return err
}

func (p *PostgresStore) OffersByRequest(requestID string) ([]models.Offer, error) {
	rows, err := p.db.Query(`SELECT id, service_request_id, provider_id, price, estimated_time_min, status, created_at
		FROM offers WHERE service_request_id=$1 ORDER BY id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Offer
	for rows.Next() {
		var o models.Offer
		if err := rows.Scan(&o.ID, &o.ServiceRequestID, &o.ProviderID, &o.Price, &o.EstimatedTimeMin, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanRequest(row rowScanner) (*models.ServiceRequest, error) {
	var r models.ServiceRequest
	var providerID sql.NullString
	err := row.Scan(&r.ID, &r.ClientID, &providerID, &r.Category, &r.Title, &r.Description, &r.Address,
		&r.Location.Latitude, &r.Location.Longitude, &r.Status, &r.FinalPrice, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.ProviderID = providerID.String
	return &r, nil
}
