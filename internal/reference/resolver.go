package reference

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ibimina/saccopay/internal/models"
	"github.com/ibimina/saccopay/internal/storage"
)

// Resolution is the outcome of matching one payment reference. The status
// drives posting policy: POSTED payments hit the ledger automatically,
// PENDING and UNALLOCATED go to the exception queue.
type Resolution struct {
	SaccoID  uuid.UUID
	GroupID  *uuid.UUID
	MemberID *uuid.UUID
	Status   models.PaymentStatus
}

// Resolver matches references against the active group directory.
type Resolver struct {
	dir storage.DirectoryStore
}

func NewResolver(dir storage.DirectoryStore) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve decodes a payment reference.
//
// An empty reference resolves to PENDING: the payment is waiting for a staff
// member to supply a reference, which is distinct from a reference that was
// supplied but matched nothing (UNALLOCATED). When the group matches, its
// sacco is authoritative over the caller's fallback. A matched member
// upgrades the status to POSTED.
func (r *Resolver) Resolve(ctx context.Context, referenceCode string, fallbackSaccoID uuid.UUID) (Resolution, error) {
	if referenceCode == "" {
		return Resolution{SaccoID: fallbackSaccoID, Status: models.PaymentStatusPending}, nil
	}

	groupCode, memberCode := SplitCodes(referenceCode)
	if groupCode == "" {
		return Resolution{SaccoID: fallbackSaccoID, Status: models.PaymentStatusUnallocated}, nil
	}

	group, err := r.dir.FindActiveGroupByCode(ctx, groupCode)
	if errors.Is(err, storage.ErrNotFound) {
		return Resolution{SaccoID: fallbackSaccoID, Status: models.PaymentStatusUnallocated}, nil
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("reference: group lookup %q: %w", groupCode, err)
	}

	res := Resolution{
		SaccoID: group.SaccoID,
		GroupID: &group.ID,
		Status:  models.PaymentStatusUnallocated,
	}
	if memberCode == "" {
		return res, nil
	}

	member, err := r.dir.FindActiveMember(ctx, group.ID, memberCode)
	if errors.Is(err, storage.ErrNotFound) {
		return res, nil
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("reference: member lookup %q: %w", memberCode, err)
	}

	res.MemberID = &member.ID
	res.Status = models.PaymentStatusPosted
	return res, nil
}
