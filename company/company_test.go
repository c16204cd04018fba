package company

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/nfsebot/dbopen"
	"github.com/hazyhaar/nfsebot/idgen"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newStore(t *testing.T) (*Store, *Sealer) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	sealer, err := NewSealer(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	s := NewStore(db, dbopen.SQLite, sealer)
	s.newID = idgen.Sequence("emp_")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	s.now = func() time.Time { n++; return base.Add(time.Duration(n) * time.Second) }
	return s, sealer
}

func TestSealer_RoundTrip(t *testing.T) {
	s, err := NewSealer(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := s.Seal("s3nha")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(sealed, "s3nha") {
		t.Fatal("sealed value leaks plaintext")
	}
	again, _ := s.Seal("s3nha")
	if again == sealed {
		t.Fatal("nonce reuse: identical ciphertexts")
	}
	plain, err := s.Open(sealed)
	if err != nil || plain != "s3nha" {
		t.Fatalf("Open = %q, %v", plain, err)
	}
	if v, _ := s.Seal(""); v != "" {
		t.Fatalf("empty seal = %q", v)
	}
}

func TestSealer_WrongKey(t *testing.T) {
	a, _ := NewSealer(testSecret)
	b, _ := NewSealer(strings.Repeat("z", 40))
	sealed, _ := a.Seal("s3nha")
	if _, err := b.Open(sealed); !errors.Is(err, ErrSealed) {
		t.Fatalf("err = %v, want ErrSealed", err)
	}
	if _, err := a.Open("not base64 !!"); !errors.Is(err, ErrSealed) {
		t.Fatalf("err = %v, want ErrSealed", err)
	}
}

func TestNewSealer_ShortSecret(t *testing.T) {
	if _, err := NewSealer("short"); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestStore_CreateListDelete(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	a, err := s.Create(ctx, Company{OwnerID: "ana@x.com", Name: " Padaria ", CNPJ: "12.345.678/0001-95", PortalLogin: "padaria", PortalPassword: "pw1"})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != "emp_1" || a.Name != "Padaria" {
		t.Fatalf("created = %+v", a)
	}
	s.Create(ctx, Company{OwnerID: "ana@x.com", Name: "Oficina", CNPJ: "98765432000110"})
	s.Create(ctx, Company{OwnerID: "bia@x.com", Name: "Outra", CNPJ: "11111111000111", PortalPassword: "pw3"})

	list, err := s.List(ctx, "ana@x.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Name != "Padaria" || list[1].Name != "Oficina" {
		t.Fatalf("list = %+v", list)
	}
	if list[0].PortalPassword != "pw1" || !list[0].HasPassword() {
		t.Fatalf("password not opened: %+v", list[0])
	}
	if list[1].HasPassword() {
		t.Fatal("second company has no password")
	}

	var stored string
	s.db.QueryRow(`SELECT portal_password FROM companies WHERE id = 'emp_1'`).Scan(&stored)
	if stored == "" || stored == "pw1" {
		t.Fatalf("password stored as %q", stored)
	}

	if err := s.Delete(ctx, "bia@x.com", "emp_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-owner delete err = %v", err)
	}
	if err := s.Delete(ctx, "ana@x.com", "emp_1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "ana@x.com", "emp_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete err = %v", err)
	}
	got, err := s.Get(ctx, "ana@x.com", "emp_2")
	if err != nil || got.Name != "Oficina" {
		t.Fatalf("Get = %+v, %v", got, err)
	}
}

func TestStore_CreateValidation(t *testing.T) {
	s, _ := newStore(t)
	for _, c := range []Company{
		{OwnerID: "ana@x.com", CNPJ: "1"},
		{OwnerID: "ana@x.com", Name: "x"},
		{Name: "x", CNPJ: "1"},
	} {
		if _, err := s.Create(context.Background(), c); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Create(%+v) err = %v", c, err)
		}
	}
}

func TestStore_CreateRejectsDuplicateCNPJ(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	if _, err := s.Create(ctx, Company{OwnerID: "ana@x.com", Name: "Padaria", CNPJ: "11111111000111"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(ctx, Company{OwnerID: "ana@x.com", Name: "Padaria 2", CNPJ: " 11111111000111 "}); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate err = %v, want ErrExists", err)
	}
	if _, err := s.Create(ctx, Company{OwnerID: "bia@x.com", Name: "Padaria", CNPJ: "11111111000111"}); err != nil {
		t.Fatalf("other owner: %v", err)
	}
	list, _ := s.List(ctx, "ana@x.com")
	if len(list) != 1 {
		t.Fatalf("list = %+v", list)
	}
}
