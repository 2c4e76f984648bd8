package scraper

import (
	"net/url"
	"testing"
)

func TestNextPageURL(t *testing.T) {
	tests := []struct {
		in       string
		wantPage string
	}{
		{"https://www.avito.ru/moskva/remont?p=3&q=x", "4"},
		{"https://www.avito.ru/moskva/remont?q=x", "2"},
		{"https://www.avito.ru/moskva/remont", "2"},
	}

	for _, tt := range tests {
		got, err := NextPageURL(tt.in)
		if err != nil {
			t.Fatalf("NextPageURL(%q): %v", tt.in, err)
		}
		u, err := url.Parse(got)
		if err != nil {
			t.Fatalf("unparseable result %q: %v", got, err)
		}
		if p := u.Query().Get("p"); p != tt.wantPage {
			t.Errorf("NextPageURL(%q) page = %q, want %q", tt.in, p, tt.wantPage)
		}
		in, _ := url.Parse(tt.in)
		if q := u.Query().Get("q"); q != in.Query().Get("q") {
			t.Errorf("NextPageURL(%q) changed q to %q", tt.in, q)
		}
		if u.Path != in.Path {
			t.Errorf("NextPageURL(%q) changed path to %q", tt.in, u.Path)
		}
	}

	if _, err := NextPageURL("https://example.com/?p=abc"); err == nil {
		t.Error("expected error for non-numeric page")
	}
}

func TestAddressURL(t *testing.T) {
	got, err := AddressURL("https://www.avito.ru/novorossiysk/kvartiry?q=sdam&p=2", "ул. Ленина 10")
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(got)
	q := u.Query()
	if q.Get("address") != "ул. Ленина 10" {
		t.Errorf("address = %q", q.Get("address"))
	}
	if q.Get("radius") != "0" {
		t.Errorf("radius = %q, want 0", q.Get("radius"))
	}
	if q.Get("q") != "sdam" || q.Get("p") != "2" {
		t.Errorf("existing parameters lost: %s", got)
	}
}

func TestResultNames(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"address", AddressResultName(7, "г. Новороссийск, ул. Ленина 10"), "report_7_address_г_Новороссийск_ул_Ленина_10.csv"},
		{"address with dashes", AddressResultName(7, "пр-т Мира -- 5"), "report_7_address_пр_т_Мира_5.csv"},
		{"keywords", GlobalResultName([]string{"Котёл", " газовый "}), "котёл-газовый.csv"},
		{"no keywords", GlobalResultName(nil), "all.csv"},
		{"blank keywords", GlobalResultName([]string{" ", "!!"}), "all.csv"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestListingIDFromURL(t *testing.T) {
	tests := []struct {
		in     string
		want   int64
		wantOK bool
	}{
		{"https://www.avito.ru/moskva/remont/kotel_baxi_3456789012", 3456789012, true},
		{"https://www.avito.ru/moskva/remont/kotel_baxi_3456789012/", 3456789012, true},
		{"https://www.avito.ru/moskva/remont/kotel_baxi_3456789012?context=abc", 3456789012, true},
		{"https://www.avito.ru/moskva/remont/kotel_baxi", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got, ok := listingIDFromURL(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("listingIDFromURL(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestShortURL(t *testing.T) {
	if got := shortURL("https://www.avito.ru/moskva/remont/kotel_42", 42); got != "https://www.avito.ru/42" {
		t.Errorf("shortURL = %q", got)
	}
	if got := shortURL("", 42); got != "42" {
		t.Errorf("shortURL without host = %q", got)
	}
}
