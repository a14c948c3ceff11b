package validators

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Schema creates the validators table
const Schema = `
CREATE TABLE IF NOT EXISTS validators (
	address TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	country TEXT NOT NULL DEFAULT '',
	region TEXT NOT NULL DEFAULT '',
	lat DOUBLE PRECISION NOT NULL,
	lng DOUBLE PRECISION NOT NULL,
	reputation DOUBLE PRECISION NOT NULL,
	specialties TEXT[] NOT NULL DEFAULT '{}',
	validations_completed INTEGER NOT NULL DEFAULT 0,
	validations_accepted INTEGER NOT NULL DEFAULT 0,
	validations_rejected INTEGER NOT NULL DEFAULT 0,
	avg_response_hours DOUBLE PRECISION NOT NULL,
	joined_at TIMESTAMPTZ NOT NULL,
	last_active_at TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL,
	contact_email TEXT NOT NULL DEFAULT '',
	contact_phone TEXT NOT NULL DEFAULT '',
	contact_telegram TEXT NOT NULL DEFAULT '',
	contact_twitter TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_validators_status ON validators (status);`

const validatorColumns = `address, name, country, region, lat, lng, reputation, specialties,
	validations_completed, validations_accepted, validations_rejected, avg_response_hours,
	joined_at, last_active_at, status, contact_email, contact_phone, contact_telegram, contact_twitter`

// validatorRow is the flat table shape of a Validator
type validatorRow struct {
	Address              string         `db:"address"`
	Name                 string         `db:"name"`
	Country              string         `db:"country"`
	Region               string         `db:"region"`
	Lat                  float64        `db:"lat"`
	Lng                  float64        `db:"lng"`
	Reputation           float64        `db:"reputation"`
	Specialties          pq.StringArray `db:"specialties"`
	ValidationsCompleted int            `db:"validations_completed"`
	ValidationsAccepted  int            `db:"validations_accepted"`
	ValidationsRejected  int            `db:"validations_rejected"`
	AvgResponseHours     float64        `db:"avg_response_hours"`
	JoinedAt             time.Time      `db:"joined_at"`
	LastActiveAt         time.Time      `db:"last_active_at"`
	Status               string         `db:"status"`
	ContactEmail         string         `db:"contact_email"`
	ContactPhone         string         `db:"contact_phone"`
	ContactTelegram      string         `db:"contact_telegram"`
	ContactTwitter       string         `db:"contact_twitter"`
}

func toRow(v *Validator) *validatorRow {
	specialties := make(pq.StringArray, len(v.Specialties))
	for i, s := range v.Specialties {
		specialties[i] = string(s)
	}
	return &validatorRow{
		Address:              v.Address,
		Name:                 v.Name,
		Country:              v.Location.Country,
		Region:               v.Location.Region,
		Lat:                  v.Location.Lat,
		Lng:                  v.Location.Lng,
		Reputation:           v.Reputation,
		Specialties:          specialties,
		ValidationsCompleted: v.ValidationsCompleted,
		ValidationsAccepted:  v.ValidationsAccepted,
		ValidationsRejected:  v.ValidationsRejected,
		AvgResponseHours:     v.AvgResponseHours,
		JoinedAt:             v.JoinedAt,
		LastActiveAt:         v.LastActiveAt,
		Status:               string(v.Status),
		ContactEmail:         v.Contact.Email,
		ContactPhone:         v.Contact.Phone,
		ContactTelegram:      v.Contact.Telegram,
		ContactTwitter:       v.Contact.Twitter,
	}
}

func (r *validatorRow) toValidator() *Validator {
	specialties := make([]Category, len(r.Specialties))
	for i, s := range r.Specialties {
		specialties[i] = Category(s)
	}
	return &Validator{
		Address: r.Address,
		Name:    r.Name,
		Location: Location{
			Country: r.Country,
			Region:  r.Region,
			Lat:     r.Lat,
			Lng:     r.Lng,
		},
		Reputation:           r.Reputation,
		Specialties:          specialties,
		ValidationsCompleted: r.ValidationsCompleted,
		ValidationsAccepted:  r.ValidationsAccepted,
		ValidationsRejected:  r.ValidationsRejected,
		AvgResponseHours:     r.AvgResponseHours,
		JoinedAt:             r.JoinedAt,
		LastActiveAt:         r.LastActiveAt,
		Status:               Status(r.Status),
		Contact: Contact{
			Email:    r.ContactEmail,
			Phone:    r.ContactPhone,
			Telegram: r.ContactTelegram,
			Twitter:  r.ContactTwitter,
		},
	}
}

type postgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a sqlx-backed repository
func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Create(ctx context.Context, v *Validator) error {
	query := `
		INSERT INTO validators (` + validatorColumns + `) VALUES (
			:address, :name, :country, :region, :lat, :lng, :reputation, :specialties,
			:validations_completed, :validations_accepted, :validations_rejected, :avg_response_hours,
			:joined_at, :last_active_at, :status, :contact_email, :contact_phone, :contact_telegram, :contact_twitter
		) ON CONFLICT (address) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, toRow(v))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrValidatorExists
	}
	return nil
}

func (r *postgresRepository) Get(ctx context.Context, address string) (*Validator, error) {
	var row validatorRow
	err := r.db.GetContext(ctx, &row, "SELECT "+validatorColumns+" FROM validators WHERE address = $1", address)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toValidator(), nil
}

func (r *postgresRepository) Update(ctx context.Context, v *Validator) error {
	query := `
		UPDATE validators SET
			reputation = :reputation,
			validations_completed = :validations_completed,
			validations_accepted = :validations_accepted,
			validations_rejected = :validations_rejected,
			avg_response_hours = :avg_response_hours,
			last_active_at = :last_active_at,
			status = :status
		WHERE address = :address`
	res, err := r.db.NamedExecContext(ctx, query, toRow(v))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrValidatorNotFound
	}
	return nil
}

func (r *postgresRepository) ListByStatus(ctx context.Context, status Status) ([]*Validator, error) {
	var rows []validatorRow
	err := r.db.SelectContext(ctx, &rows,
		"SELECT "+validatorColumns+" FROM validators WHERE status = $1 ORDER BY joined_at, address", string(status))
	if err != nil {
		return nil, err
	}
	out := make([]*Validator, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toValidator())
	}
	return out, nil
}

func (r *postgresRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM validators")
	return n, err
}
