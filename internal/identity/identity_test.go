package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/benno1237/bennos-cogs/internal/hypixel"
	"github.com/benno1237/bennos-cogs/internal/storage"
	"github.com/benno1237/bennos-cogs/internal/transport/transporttest"
	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

type fakeNames map[string]string

func (f fakeNames) Lookup(_ context.Context, name string) (hypixel.Profile, error) {
	if id, ok := f[name]; ok {
		return hypixel.Profile{ID: id, Name: name}, nil
	}
	return hypixel.Profile{}, hypixel.ErrUnknownName
}

const (
	userID    = "175928847299117063"
	boundUUID = "069A79F4-44E9-4726-A5BE-FCA90E38AAF5"
	wantUUID  = "069a79f444e94726a5befca90e38aaf5"
)

func newResolver(t *testing.T) (*Resolver, *transporttest.Fake) {
	t.Helper()
	st := storage.NewMemory()
	b := StoreBindings{Store: st}
	if err := b.Bind(context.Background(), userID, boundUUID); err != nil {
		t.Fatalf("bind: %v", err)
	}
	f := transporttest.New()
	names := fakeNames{"Notch": "069a79f444e94726a5befca90e38aaf5", "jeb_": "853c80ef3c3749fdaa49938b674adae6"}
	return NewResolver(b, names, f, logx.Nop()), f
}

func TestResolveMentionAndSnowflake(t *testing.T) {
	r, _ := newResolver(t)
	for _, in := range []string{"<@" + userID + ">", "<@!" + userID + ">", userID} {
		id, err := r.Resolve(context.Background(), "g1", in)
		if err != nil || id.UUID != wantUUID || id.OwnerID != userID {
			t.Fatalf("%s: id=%+v err=%v", in, id, err)
		}
	}
	if _, err := r.Resolve(context.Background(), "g1", "<@175928847299117064>"); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("unbound mention: %v", err)
	}
}

func TestResolveName(t *testing.T) {
	r, _ := newResolver(t)
	id, err := r.Resolve(context.Background(), "g1", "jeb_")
	if err != nil || id.UUID != "853c80ef3c3749fdaa49938b674adae6" || id.Name != "jeb_" || id.OwnerID != "" {
		t.Fatalf("id=%+v err=%v", id, err)
	}
}

func TestResolveFallsBackToMemberBinding(t *testing.T) {
	r, f := newResolver(t)
	f.SetMemberName("g1", "benno", userID)
	id, err := r.Resolve(context.Background(), "g1", "benno")
	if err != nil || id.UUID != wantUUID {
		t.Fatalf("id=%+v err=%v", id, err)
	}
	if _, err := r.Resolve(context.Background(), "g2", "benno"); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("other guild should not resolve: %v", err)
	}
	if _, err := r.Resolve(context.Background(), "g1", "not a name!"); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("garbage: %v", err)
	}
}

func TestResolveNumericInputFallsThrough(t *testing.T) {
	r, f := newResolver(t)
	r.names = fakeNames{"1234567890123456": "853c80ef3c3749fdaa49938b674adae6"}
	id, err := r.Resolve(context.Background(), "g1", "1234567890123456")
	if err != nil || id.UUID != "853c80ef3c3749fdaa49938b674adae6" {
		t.Fatalf("numeric name: id=%+v err=%v", id, err)
	}

	// an unbound id that is also a member's display name
	const other = "175928847299117064"
	f.SetMemberName("g1", other, userID)
	id, err = r.Resolve(context.Background(), "g1", other)
	if err != nil || id.UUID != wantUUID || id.OwnerID != userID {
		t.Fatalf("member fallback: id=%+v err=%v", id, err)
	}
}

func TestUserRef(t *testing.T) {
	if _, ok := UserRef("12345"); ok {
		t.Fatalf("short id accepted")
	}
	if _, ok := UserRef("99999999999999999999"); ok {
		t.Fatalf("future id accepted")
	}
	if id, ok := UserRef("<@!" + userID + ">"); !ok || id != userID {
		t.Fatalf("mention: %q %v", id, ok)
	}
	if _, ok := UserRef("1234567890123456"); ok {
		t.Fatalf("16 digit bare id accepted")
	}
	if id, ok := UserRef("<@1234567890123456>"); !ok || id != "1234567890123456" {
		t.Fatalf("16 digit mention: %q %v", id, ok)
	}
}

func TestNormalizeUUID(t *testing.T) {
	if u, ok := NormalizeUUID(boundUUID); !ok || u != wantUUID {
		t.Fatalf("u=%q", u)
	}
	if u, ok := NormalizeUUID(wantUUID); !ok || u != wantUUID {
		t.Fatalf("undashed u=%q", u)
	}
	if _, ok := NormalizeUUID("nope"); ok {
		t.Fatalf("garbage accepted")
	}
}
