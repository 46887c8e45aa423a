package reference

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/ibimina/saccopay/internal/models"
	"github.com/ibimina/saccopay/internal/storage/memory"
)

func TestResolver_Resolve(t *testing.T) {
	saccoID := uuid.New()
	fallbackSacco := uuid.New()
	groupID := uuid.New()
	memberID := uuid.New()

	store := memory.NewStore()
	store.AddGroup(&models.Group{ID: groupID, SaccoID: saccoID, Code: "GRP001", Active: true})
	store.AddMember(&models.Member{ID: memberID, GroupID: groupID, Code: "M007", Active: true})
	store.AddMember(&models.Member{ID: uuid.New(), GroupID: groupID, Code: "M099", Active: false})

	resolver := NewResolver(store)
	ctx := context.Background()

	tests := []struct {
		name       string
		reference  string
		wantStatus models.PaymentStatus
		wantSacco  uuid.UUID
		wantGroup  *uuid.UUID
		wantMember *uuid.UUID
	}{
		{
			name:       "no reference awaits manual entry",
			reference:  "",
			wantStatus: models.PaymentStatusPending,
			wantSacco:  fallbackSacco,
		},
		{
			name:       "too few segments",
			reference:  "NYA.SACCO1",
			wantStatus: models.PaymentStatusUnallocated,
			wantSacco:  fallbackSacco,
		},
		{
			name:       "unknown group code",
			reference:  "NYA.SACCO1.NOPE",
			wantStatus: models.PaymentStatusUnallocated,
			wantSacco:  fallbackSacco,
		},
		{
			name:       "group matched without member segment",
			reference:  "NYA.SACCO1.GRP001",
			wantStatus: models.PaymentStatusUnallocated,
			wantSacco:  saccoID,
			wantGroup:  &groupID,
		},
		{
			name:       "group matched but member unknown",
			reference:  "NYA.SACCO1.GRP001.M999",
			wantStatus: models.PaymentStatusUnallocated,
			wantSacco:  saccoID,
			wantGroup:  &groupID,
		},
		{
			name:       "inactive member does not match",
			reference:  "NYA.SACCO1.GRP001.M099",
			wantStatus: models.PaymentStatusUnallocated,
			wantSacco:  saccoID,
			wantGroup:  &groupID,
		},
		{
			name:       "full match posts",
			reference:  "NYA.SACCO1.GRP001.M007",
			wantStatus: models.PaymentStatusPosted,
			wantSacco:  saccoID,
			wantGroup:  &groupID,
			wantMember: &memberID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.Resolve(ctx, tt.reference, fallbackSacco)
			if err != nil {
				t.Fatalf("Resolve(%q) error: %v", tt.reference, err)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", got.Status, tt.wantStatus)
			}
			if got.SaccoID != tt.wantSacco {
				t.Errorf("sacco = %s, want %s", got.SaccoID, tt.wantSacco)
			}
			if !sameID(got.GroupID, tt.wantGroup) {
				t.Errorf("group = %v, want %v", got.GroupID, tt.wantGroup)
			}
			if !sameID(got.MemberID, tt.wantMember) {
				t.Errorf("member = %v, want %v", got.MemberID, tt.wantMember)
			}
		})
	}
}

func TestResolver_ResolveIsStable(t *testing.T) {
	saccoID := uuid.New()
	groupID := uuid.New()

	store := memory.NewStore()
	store.AddGroup(&models.Group{ID: groupID, SaccoID: saccoID, Code: "GRP001", Active: true})

	resolver := NewResolver(store)
	ctx := context.Background()

	first, err := resolver.Resolve(ctx, "NYA.SACCO1.GRP001", uuid.New())
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := resolver.Resolve(ctx, "NYA.SACCO1.GRP001", uuid.New())
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}

	if first.SaccoID != second.SaccoID || !sameID(first.GroupID, second.GroupID) {
		t.Errorf("resolution not stable: first %+v, second %+v", first, second)
	}
}

func sameID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
