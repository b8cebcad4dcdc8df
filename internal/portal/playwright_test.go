package portal

import (
	"testing"

	"github.com/playwright-community/playwright-go"

	"github.com/fieldgate/fieldgate/pkg/models"
)

func TestToPlaywrightCookies(t *testing.T) {
	cookies := []models.PortalCookie{
		{
			Name:     "sid",
			Value:    "abc",
			Domain:   "idme.moe.gov.my",
			Path:     "/",
			Expires:  1735689600,
			HTTPOnly: true,
			Secure:   true,
			SameSite: "Strict",
		},
		{Name: "theme", Value: "dark", SameSite: "lax"},
		{Name: "bare", Value: "x"},
	}

	got := toPlaywrightCookies(cookies)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}

	full := got[0]
	if full.Name != "sid" || full.Value != "abc" {
		t.Fatalf("cookie = %+v", full)
	}
	if full.Domain == nil || *full.Domain != "idme.moe.gov.my" {
		t.Fatalf("domain = %v", full.Domain)
	}
	if full.Expires == nil || *full.Expires != 1735689600 {
		t.Fatalf("expires = %v", full.Expires)
	}
	if full.HttpOnly == nil || !*full.HttpOnly || full.Secure == nil || !*full.Secure {
		t.Fatalf("flags = %v/%v", full.HttpOnly, full.Secure)
	}
	if full.SameSite != playwright.SameSiteAttributeStrict {
		t.Fatalf("samesite = %v", full.SameSite)
	}

	if got[1].SameSite != playwright.SameSiteAttributeLax {
		t.Fatalf("lowercase samesite not mapped: %v", got[1].SameSite)
	}

	bare := got[2]
	if bare.Domain != nil || bare.Path != nil || bare.Expires != nil ||
		bare.HttpOnly != nil || bare.Secure != nil || bare.SameSite != nil {
		t.Fatalf("unset fields must stay nil: %+v", bare)
	}
}

func TestSaveButtonLookup(t *testing.T) {
	if saveButtonRole != playwright.AriaRole("button") {
		t.Fatalf("save button role = %q, want button", saveButtonRole)
	}
}

func TestSimpanPattern(t *testing.T) {
	for _, s := range []string{"Simpan", "SIMPAN", "  simpan  ", "Simpan Maklumat"} {
		if !simpanPattern.MatchString(s) {
			t.Errorf("pattern did not match %q", s)
		}
	}
	if simpanPattern.MatchString("Batal") {
		t.Error("pattern matched unrelated label")
	}
}
