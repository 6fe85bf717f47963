package chat

import "testing"

func TestExtractListID(t *testing.T) {
	got := extractListID("Atlas Obscura List <123abc.list-id.mcsv.net>", "bounce@mcsv.net")
	if want := "123abc.list-id.mcsv.net"; got != want {
		t.Errorf("extractListID = %q, want %q", got, want)
	}

	got = extractListID("", "announce@example.com")
	if want := "announce@example.com"; got != want {
		t.Errorf("extractListID (sender fallback) = %q, want %q", got, want)
	}
}

func TestDeriveMailinglistNameNotificationSenderUsesFromName(t *testing.T) {
	name := deriveMailinglistName("Check out this place", "Atlas Obscura", "123abc.list-id.mcsv.net")
	if name != "Atlas Obscura" {
		t.Errorf("deriveMailinglistName = %q, want %q", name, "Atlas Obscura")
	}
}

func TestDeriveMailinglistNameSubjectTagWins(t *testing.T) {
	name := deriveMailinglistName("[golang-nuts] panic on nil map", "Go Nuts", "golang-nuts@googlegroups.com")
	if name != "golang-nuts" {
		t.Errorf("deriveMailinglistName = %q, want %q", name, "golang-nuts")
	}
}

func TestDeriveMailinglistNameStripsHexPrefix(t *testing.T) {
	listid := "0123456789abcdef0123456789abcdef.updates@example.com"
	name := deriveMailinglistName("no subject tag here", "", listid)
	if name != "updates@example.com" {
		t.Errorf("deriveMailinglistName = %q, want %q", name, "updates@example.com")
	}
}
