package roomkey

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/fitlane/chatroom/pkg/domain"
)

func TestDirectKey_OrderIndependent(t *testing.T) {
	u1 := uuid.New()
	u2 := uuid.New()

	if DirectKey(u1, u2) != DirectKey(u2, u1) {
		t.Errorf("DirectKey depends on participant order: %q vs %q",
			DirectKey(u1, u2), DirectKey(u2, u1))
	}
}

func TestDirectKey_TenantIndependent(t *testing.T) {
	// Keys for the same pair never vary, so there is nothing tenant-shaped
	// to leak into them. The key is purely a function of the pair.
	u1 := uuid.New()
	u2 := uuid.New()

	first := DirectKey(u1, u2)
	for i := 0; i < 10; i++ {
		if got := DirectKey(u1, u2); got != first {
			t.Fatalf("DirectKey not stable: %q then %q", first, got)
		}
	}
}

func TestGroupKey_MemberOrderIndependent(t *testing.T) {
	tenant := uuid.New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	k1 := GroupKey(tenant, []uuid.UUID{a, b, c})
	k2 := GroupKey(tenant, []uuid.UUID{c, a, b})
	if k1 != k2 {
		t.Errorf("GroupKey depends on member order: %q vs %q", k1, k2)
	}

	k3 := GroupKey(tenant, []uuid.UUID{a, b})
	if k1 == k3 {
		t.Error("GroupKey for different member sets collided")
	}

	otherTenant := uuid.New()
	if GroupKey(tenant, []uuid.UUID{a, b, c}) == GroupKey(otherTenant, []uuid.UUID{a, b, c}) {
		t.Error("GroupKey for different tenants collided")
	}
}

func TestEventKey_RoundTrip(t *testing.T) {
	tenant := uuid.New()
	event := uuid.New()

	gotTenant, gotEvent, err := ParseEventKey(EventKey(tenant, event))
	if err != nil {
		t.Fatalf("ParseEventKey failed: %v", err)
	}
	if gotTenant != tenant || gotEvent != event {
		t.Errorf("ParseEventKey = (%v, %v), want (%v, %v)", gotTenant, gotEvent, tenant, event)
	}

	if _, _, err := ParseEventKey(BroadcastKey(tenant)); err == nil {
		t.Error("ParseEventKey accepted a broadcast key")
	}
}

func TestSelectOwningTenant(t *testing.T) {
	t1 := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	t2 := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	t3 := uuid.MustParse("33333333-3333-3333-3333-333333333333")

	tests := []struct {
		name       string
		shared     []uuid.UUID
		requesting uuid.UUID
		want       uuid.UUID
		wantErr    error
	}{
		{
			name:       "requesting tenant in shared set wins",
			shared:     []uuid.UUID{t1, t2, t3},
			requesting: t2,
			want:       t2,
		},
		{
			name:       "requesting tenant not shared falls back to minimum",
			shared:     []uuid.UUID{t3, t2},
			requesting: uuid.New(),
			want:       t2,
		},
		{
			name:       "single shared tenant",
			shared:     []uuid.UUID{t3},
			requesting: t1,
			want:       t3,
		},
		{
			name:       "no shared tenant",
			shared:     nil,
			requesting: t1,
			wantErr:    domain.ErrNoSharedTenant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectOwningTenant(tt.shared, tt.requesting)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("SelectOwningTenant failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("SelectOwningTenant = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelectOwningTenant_Deterministic(t *testing.T) {
	t1 := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	t2 := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	t3 := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	requesting := uuid.New() // not in the shared set

	// Any permutation of the shared set must produce the same pick.
	permutations := [][]uuid.UUID{
		{t1, t2, t3}, {t1, t3, t2}, {t2, t1, t3},
		{t2, t3, t1}, {t3, t1, t2}, {t3, t2, t1},
	}
	for _, p := range permutations {
		got, err := SelectOwningTenant(p, requesting)
		if err != nil {
			t.Fatalf("SelectOwningTenant failed: %v", err)
		}
		if got != t1 {
			t.Errorf("SelectOwningTenant(%v) = %v, want %v", p, got, t1)
		}
	}
}
