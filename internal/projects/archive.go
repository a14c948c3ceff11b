package projects

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"impact-escrow/escrow-engine/pkg/storage"
)

// Archiver stores the evidence trail of a settled project
type Archiver interface {
	Archive(ctx context.Context, p *Project) error
}

// EvidenceArchiver writes a JSON record of the project and its proofs to an
// object store once the project is FUNDED or CANCELLED
type EvidenceArchiver struct {
	store  storage.ObjectStore
	prefix string
}

// NewEvidenceArchiver creates an archiver writing under prefix
func NewEvidenceArchiver(store storage.ObjectStore, prefix string) *EvidenceArchiver {
	return &EvidenceArchiver{store: store, prefix: strings.Trim(prefix, "/")}
}

type evidenceRecord struct {
	Project  *Project `json:"project"`
	Outcome  Status   `json:"outcome"`
	Digests  []string `json:"proof_digests"`
	TxHash   string   `json:"tx_hash,omitempty"`
	Archived string   `json:"archived_at"`
}

func (a *EvidenceArchiver) Archive(ctx context.Context, p *Project) error {
	record := evidenceRecord{
		Project: p,
		Outcome: p.Status,
		Digests: make([]string, 0, len(p.Proofs)),
	}
	for _, proof := range p.Proofs {
		record.Digests = append(record.Digests, proof.Digest)
	}
	switch p.Status {
	case StatusFunded:
		record.TxHash = p.ReleaseTx
	case StatusCancelled:
		record.TxHash = p.CancelTx
	}
	record.Archived = p.UpdatedAt.UTC().Format(time.RFC3339)

	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode evidence: %w", err)
	}

	key := fmt.Sprintf("projects/%s/%s.json", p.ID, strings.ToLower(string(p.Status)))
	if a.prefix != "" {
		key = a.prefix + "/" + key
	}
	if _, err := a.store.Upload(ctx, key, "application/json", bytes.NewReader(body)); err != nil {
		return fmt.Errorf("failed to upload evidence: %w", err)
	}
	return nil
}
