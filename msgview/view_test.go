package msgview_test

import (
	"context"
	"io/ioutil"
	"strings"
	"testing"

	"crawshaw.io/iox"

	"veilmail.dev/core/msgview"
	"veilmail.dev/core/pgpengine/pgptest"
)

func newTestFiler(t *testing.T) *iox.Filer {
	t.Helper()
	dir, err := ioutil.TempDir("", "msgview-test-")
	if err != nil {
		t.Fatal(err)
	}
	filer := iox.NewFiler(0)
	filer.SetTempdir(dir)
	t.Cleanup(func() { filer.Shutdown(context.Background()) })
	return filer
}

const basicMail = "From: Alice <alice@example.com>\r\n" +
	"To: Bob <bob@example.com>\r\n" +
	"Cc: carol@example.com\r\n" +
	"Subject: Hello\r\n" +
	"Message-Id: <m1@example.com>\r\n" +
	"Chat-Version: 1.0\r\n" +
	"Date: Mon, 1 Jun 2026 12:00:00 +0000\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"hi there\r\n"

func TestParseBasicEnvelope(t *testing.T) {
	filer := newTestFiler(t)
	v, err := msgview.Parse(context.Background(), filer, strings.NewReader(basicMail), pgptest.Engine{})
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	if v.From.Addr != "alice@example.com" {
		t.Errorf("From.Addr = %q, want alice@example.com", v.From.Addr)
	}
	if len(v.Recipients) != 2 {
		t.Fatalf("Recipients = %v, want 2 (To+Cc)", v.Recipients)
	}
	if !v.HasChatVersion() {
		t.Error("HasChatVersion() = false, want true")
	}
	if v.Msg().Date.IsZero() {
		t.Error("Msg().Date is zero, want the parsed Date header")
	}
	if got, want := v.Msg().Date.Unix(), int64(1780315200); got != want {
		t.Errorf("Msg().Date.Unix() = %d, want %d", got, want)
	}
}

func TestParseMissingDateHeaderLeavesZeroTime(t *testing.T) {
	filer := newTestFiler(t)
	noDate := "From: Alice <alice@example.com>\r\n" +
		"To: Bob <bob@example.com>\r\n" +
		"Message-Id: <m2@example.com>\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"no date here\r\n"

	v, err := msgview.Parse(context.Background(), filer, strings.NewReader(noDate), pgptest.Engine{})
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	if !v.Msg().Date.IsZero() {
		t.Errorf("Msg().Date = %v, want the zero time when no Date header is present", v.Msg().Date)
	}
}

func TestParseUnparseableDateLeavesZeroTime(t *testing.T) {
	filer := newTestFiler(t)
	badDate := "From: Alice <alice@example.com>\r\n" +
		"To: Bob <bob@example.com>\r\n" +
		"Message-Id: <m3@example.com>\r\n" +
		"Date: not a date\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"body\r\n"

	v, err := msgview.Parse(context.Background(), filer, strings.NewReader(badDate), pgptest.Engine{})
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	if !v.Msg().Date.IsZero() {
		t.Errorf("Msg().Date = %v, want the zero time for an unparseable Date header", v.Msg().Date)
	}
}
