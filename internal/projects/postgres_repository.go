package projects

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"impact-escrow/escrow-engine/internal/ledger"
	"impact-escrow/escrow-engine/internal/validators"
)

// Schema creates the project tables
const Schema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL,
	country TEXT NOT NULL DEFAULT '',
	region TEXT NOT NULL DEFAULT '',
	lat DOUBLE PRECISION NOT NULL,
	lng DOUBLE PRECISION NOT NULL,
	amount DOUBLE PRECISION NOT NULL,
	beneficiary TEXT NOT NULL DEFAULT '',
	urgency TEXT NOT NULL,
	risk_level DOUBLE PRECISION NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	photos_required INTEGER NOT NULL,
	photos_received INTEGER NOT NULL DEFAULT 0,
	validators_required INTEGER NOT NULL,
	validators_approved INTEGER NOT NULL DEFAULT 0,
	deadline TIMESTAMPTZ NOT NULL,
	fence_lat DOUBLE PRECISION,
	fence_lng DOUBLE PRECISION,
	fence_radius_m DOUBLE PRECISION,
	validators TEXT[] NOT NULL DEFAULT '{}',
	hold_id TEXT NOT NULL,
	hold_create_tx TEXT NOT NULL DEFAULT '',
	hold_amount DOUBLE PRECISION NOT NULL,
	hold_destination TEXT NOT NULL DEFAULT '',
	hold_finish_after TIMESTAMPTZ NOT NULL,
	hold_cancel_after TIMESTAMPTZ NOT NULL,
	pending_op TEXT NOT NULL DEFAULT '',
	pending_since TIMESTAMPTZ,
	conditions_met_at TIMESTAMPTZ,
	release_tx TEXT NOT NULL DEFAULT '',
	cancel_tx TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	funded_at TIMESTAMPTZ,
	alerted_at TIMESTAMPTZ,
	cancelled_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_projects_status ON projects (status);

CREATE TABLE IF NOT EXISTS project_proofs (
	project_id TEXT NOT NULL REFERENCES projects (id),
	validator_address TEXT NOT NULL,
	validator_name TEXT NOT NULL DEFAULT '',
	validator_reputation DOUBLE PRECISION NOT NULL,
	photo_url TEXT NOT NULL,
	photo_lat DOUBLE PRECISION NOT NULL,
	photo_lng DOUBLE PRECISION NOT NULL,
	photo_taken_at TIMESTAMPTZ NOT NULL,
	signature TEXT NOT NULL DEFAULT '',
	digest TEXT NOT NULL,
	approved_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (project_id, validator_address)
);`

const projectColumns = `id, title, description, category, country, region, lat, lng, amount, beneficiary,
	urgency, risk_level, status, photos_required, photos_received, validators_required, validators_approved,
	deadline, fence_lat, fence_lng, fence_radius_m, validators,
	hold_id, hold_create_tx, hold_amount, hold_destination, hold_finish_after, hold_cancel_after,
	pending_op, pending_since, conditions_met_at, release_tx, cancel_tx,
	created_at, updated_at, funded_at, alerted_at, cancelled_at`

const proofColumns = `project_id, validator_address, validator_name, validator_reputation, photo_url,
	photo_lat, photo_lng, photo_taken_at, signature, digest, approved_at`

type projectRow struct {
	ID                 string         `db:"id"`
	Title              string         `db:"title"`
	Description        string         `db:"description"`
	Category           string         `db:"category"`
	Country            string         `db:"country"`
	Region             string         `db:"region"`
	Lat                float64        `db:"lat"`
	Lng                float64        `db:"lng"`
	Amount             float64        `db:"amount"`
	Beneficiary        string         `db:"beneficiary"`
	Urgency            string         `db:"urgency"`
	RiskLevel          float64        `db:"risk_level"`
	Status             string         `db:"status"`
	PhotosRequired     int            `db:"photos_required"`
	PhotosReceived     int            `db:"photos_received"`
	ValidatorsRequired int            `db:"validators_required"`
	ValidatorsApproved int            `db:"validators_approved"`
	Deadline           time.Time      `db:"deadline"`
	FenceLat           *float64       `db:"fence_lat"`
	FenceLng           *float64       `db:"fence_lng"`
	FenceRadiusM       *float64       `db:"fence_radius_m"`
	Validators         pq.StringArray `db:"validators"`
	ledger.Hold
	PendingOp       string     `db:"pending_op"`
	PendingSince    *time.Time `db:"pending_since"`
	ConditionsMetAt *time.Time `db:"conditions_met_at"`
	ReleaseTx       string     `db:"release_tx"`
	CancelTx        string     `db:"cancel_tx"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
	FundedAt        *time.Time `db:"funded_at"`
	AlertedAt       *time.Time `db:"alerted_at"`
	CancelledAt     *time.Time `db:"cancelled_at"`
}

type proofRow struct {
	ProjectID           string    `db:"project_id"`
	ValidatorAddress    string    `db:"validator_address"`
	ValidatorName       string    `db:"validator_name"`
	ValidatorReputation float64   `db:"validator_reputation"`
	PhotoURL            string    `db:"photo_url"`
	PhotoLat            float64   `db:"photo_lat"`
	PhotoLng            float64   `db:"photo_lng"`
	PhotoTakenAt        time.Time `db:"photo_taken_at"`
	Signature           string    `db:"signature"`
	Digest              string    `db:"digest"`
	ApprovedAt          time.Time `db:"approved_at"`
}

func toProjectRow(p *Project) *projectRow {
	row := &projectRow{
		ID:                 p.ID,
		Title:              p.Title,
		Description:        p.Description,
		Category:           string(p.Category),
		Country:            p.Location.Country,
		Region:             p.Location.Region,
		Lat:                p.Location.Lat,
		Lng:                p.Location.Lng,
		Amount:             p.Amount,
		Beneficiary:        p.Beneficiary,
		Urgency:            string(p.Urgency),
		RiskLevel:          p.RiskLevel,
		Status:             string(p.Status),
		PhotosRequired:     p.Conditions.PhotosRequired,
		PhotosReceived:     p.Conditions.PhotosReceived,
		ValidatorsRequired: p.Conditions.ValidatorsRequired,
		ValidatorsApproved: p.Conditions.ValidatorsApproved,
		Deadline:           p.Conditions.Deadline,
		Validators:         pq.StringArray(append([]string{}, p.Validators...)),
		PendingOp:          string(p.PendingOp),
		PendingSince:       p.PendingSince,
		ConditionsMetAt:    p.ConditionsMet,
		ReleaseTx:          p.ReleaseTx,
		CancelTx:           p.CancelTx,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
		FundedAt:           p.FundedAt,
		AlertedAt:          p.AlertedAt,
		CancelledAt:        p.CancelledAt,
	}
	if f := p.Conditions.GeoFence; f != nil {
		row.FenceLat, row.FenceLng, row.FenceRadiusM = &f.Lat, &f.Lng, &f.RadiusMeters
	}
	if p.Hold != nil {
		row.Hold = *p.Hold
	}
	return row
}

func (r *projectRow) toProject(proofs []ValidationProof) *Project {
	p := &Project{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Category:    Category(r.Category),
		Location: Location{
			Lat:     r.Lat,
			Lng:     r.Lng,
			Country: r.Country,
			Region:  r.Region,
		},
		Amount:      r.Amount,
		Beneficiary: r.Beneficiary,
		Urgency:     validators.Urgency(r.Urgency),
		RiskLevel:   r.RiskLevel,
		Status:      Status(r.Status),
		Conditions: Conditions{
			PhotosRequired:     r.PhotosRequired,
			PhotosReceived:     r.PhotosReceived,
			ValidatorsRequired: r.ValidatorsRequired,
			ValidatorsApproved: r.ValidatorsApproved,
			Deadline:           r.Deadline,
		},
		Validators:    append([]string{}, r.Validators...),
		Proofs:        proofs,
		PendingOp:     Operation(r.PendingOp),
		PendingSince:  r.PendingSince,
		ConditionsMet: r.ConditionsMetAt,
		ReleaseTx:     r.ReleaseTx,
		CancelTx:      r.CancelTx,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		FundedAt:      r.FundedAt,
		AlertedAt:     r.AlertedAt,
		CancelledAt:   r.CancelledAt,
	}
	if r.FenceLat != nil && r.FenceLng != nil && r.FenceRadiusM != nil {
		p.Conditions.GeoFence = &GeoFence{Lat: *r.FenceLat, Lng: *r.FenceLng, RadiusMeters: *r.FenceRadiusM}
	}
	if r.Hold.ID != "" {
		hold := r.Hold
		p.Hold = &hold
	}
	if p.Proofs == nil {
		p.Proofs = []ValidationProof{}
	}
	return p
}

func toProofRow(projectID string, v ValidationProof) *proofRow {
	return &proofRow{
		ProjectID:           projectID,
		ValidatorAddress:    v.ValidatorAddress,
		ValidatorName:       v.ValidatorName,
		ValidatorReputation: v.ValidatorReputation,
		PhotoURL:            v.PhotoURL,
		PhotoLat:            v.PhotoGPS.Lat,
		PhotoLng:            v.PhotoGPS.Lng,
		PhotoTakenAt:        v.PhotoGPS.TakenAt,
		Signature:           v.Signature,
		Digest:              v.Digest,
		ApprovedAt:          v.ApprovedAt,
	}
}

func (r *proofRow) toProof() ValidationProof {
	return ValidationProof{
		ValidatorAddress:    r.ValidatorAddress,
		ValidatorName:       r.ValidatorName,
		ValidatorReputation: r.ValidatorReputation,
		PhotoURL:            r.PhotoURL,
		PhotoGPS: PhotoGPS{
			Lat:     r.PhotoLat,
			Lng:     r.PhotoLng,
			TakenAt: r.PhotoTakenAt,
		},
		Signature:  r.Signature,
		Digest:     r.Digest,
		ApprovedAt: r.ApprovedAt,
	}
}

type postgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a sqlx-backed repository
func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

const insertProject = `
	INSERT INTO projects (` + projectColumns + `) VALUES (
		:id, :title, :description, :category, :country, :region, :lat, :lng, :amount, :beneficiary,
		:urgency, :risk_level, :status, :photos_required, :photos_received, :validators_required, :validators_approved,
		:deadline, :fence_lat, :fence_lng, :fence_radius_m, :validators,
		:hold_id, :hold_create_tx, :hold_amount, :hold_destination, :hold_finish_after, :hold_cancel_after,
		:pending_op, :pending_since, :conditions_met_at, :release_tx, :cancel_tx,
		:created_at, :updated_at, :funded_at, :alerted_at, :cancelled_at
	)`

const updateProject = `
	UPDATE projects SET
		status = :status,
		photos_received = :photos_received,
		validators_approved = :validators_approved,
		validators = :validators,
		pending_op = :pending_op,
		pending_since = :pending_since,
		conditions_met_at = :conditions_met_at,
		release_tx = :release_tx,
		cancel_tx = :cancel_tx,
		updated_at = :updated_at,
		funded_at = :funded_at,
		alerted_at = :alerted_at,
		cancelled_at = :cancelled_at
	WHERE id = :id`

const insertProof = `
	INSERT INTO project_proofs (` + proofColumns + `) VALUES (
		:project_id, :validator_address, :validator_name, :validator_reputation, :photo_url,
		:photo_lat, :photo_lng, :photo_taken_at, :signature, :digest, :approved_at
	) ON CONFLICT (project_id, validator_address) DO NOTHING`

func (r *postgresRepository) Create(ctx context.Context, p *Project) error {
	_, err := r.db.NamedExecContext(ctx, insertProject, toProjectRow(p))
	return err
}

func (r *postgresRepository) Get(ctx context.Context, id string) (*Project, error) {
	var row projectRow
	err := r.db.GetContext(ctx, &row, "SELECT "+projectColumns+" FROM projects WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	proofs, err := r.proofs(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	return row.toProject(proofs[id]), nil
}

// Save updates the mutable columns and appends proofs not stored yet
func (r *postgresRepository) Save(ctx context.Context, p *Project) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.NamedExecContext(ctx, updateProject, toProjectRow(p))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	for _, proof := range p.Proofs {
		if _, err := tx.NamedExecContext(ctx, insertProof, toProofRow(p.ID, proof)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *postgresRepository) List(ctx context.Context) ([]*Project, error) {
	return r.list(ctx, "SELECT "+projectColumns+" FROM projects ORDER BY created_at, id")
}

func (r *postgresRepository) ListOpen(ctx context.Context) ([]*Project, error) {
	return r.list(ctx, "SELECT "+projectColumns+" FROM projects WHERE status NOT IN ('FUNDED', 'CANCELLED') ORDER BY created_at, id")
}

func (r *postgresRepository) list(ctx context.Context, query string) ([]*Project, error) {
	var rows []projectRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []*Project{}, nil
	}

	ids := make([]string, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
	}
	proofs, err := r.proofs(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]*Project, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toProject(proofs[rows[i].ID]))
	}
	return out, nil
}

func (r *postgresRepository) proofs(ctx context.Context, ids []string) (map[string][]ValidationProof, error) {
	var rows []proofRow
	err := r.db.SelectContext(ctx, &rows,
		"SELECT "+proofColumns+" FROM project_proofs WHERE project_id = ANY($1) ORDER BY approved_at, validator_address",
		pq.Array(ids))
	if err != nil {
		return nil, err
	}
	out := make(map[string][]ValidationProof, len(ids))
	for i := range rows {
		out[rows[i].ProjectID] = append(out[rows[i].ProjectID], rows[i].toProof())
	}
	return out, nil
}
