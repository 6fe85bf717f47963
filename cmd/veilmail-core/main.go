// Command veilmail-core replays RFC 5322 fixture files through one
// reception pipeline, for local experimentation and debugging outside
// the test suite. It is the reception-only counterpart to
// cmd/spilld: no servers, no listeners, just one account database and
// a directory of .eml files fed through pipeline.Pipeline.Receive in
// filename order.
package main

import (
	"context"
	"flag"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"crawshaw.io/iox"

	"veilmail.dev/core/chat"
	"veilmail.dev/core/events"
	"veilmail.dev/core/peerstate"
	"veilmail.dev/core/pgpengine/pgptest"
	"veilmail.dev/core/pipeline"
	"veilmail.dev/core/store"
)

var version = "unknown" // filled in by "-ldflags=-X main.version=<val>"

func main() {
	log.SetFlags(0)

	flagDBFile := flag.String("db", "", "account database file (default: a temp file)")
	flagSelfAddr := flag.String("self", "me@example.com", "this account's own address")
	flagShowEmails := flag.String("show_emails", "accepted", "off|accepted|all")
	flag.Parse()

	if flag.NArg() == 0 {
		log.Fatal("usage: veilmail-core [flags] <fixture.eml | fixture-dir> ...")
	}

	log.Printf("veilmail-core, version %s, starting at %s", version, time.Now())

	dbfile := *flagDBFile
	if dbfile == "" {
		tempdir, err := ioutil.TempDir("", "veilmail-core-")
		if err != nil {
			log.Fatal(err)
		}
		dbfile = filepath.Join(tempdir, "account.db")
	}

	pool, err := store.Open(dbfile)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	filer := iox.NewFiler(0)
	tempdir, err := ioutil.TempDir("", "veilmail-core-filer-")
	if err != nil {
		log.Fatal(err)
	}
	filer.SetTempdir(tempdir)

	emitter := &events.Emitter{}
	go logEvents(emitter)

	acc := &pipeline.Account{
		DBPool:     pool,
		Filer:      filer,
		Engine:     pgptest.Engine{},
		Peerstates: peerstate.NewCache(),
		Events:     emitter,
		SelfAddrs:  map[string]bool{*flagSelfAddr: true},
		ShowEmails: parseShowEmails(*flagShowEmails),
		Logf:       log.Printf,
	}
	p := pipeline.New(acc)

	files, err := collectFixtures(flag.Args())
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	for _, path := range files {
		if err := replay(ctx, p, path); err != nil {
			log.Printf("%s: %v", path, err)
		}
	}
}

func replay(ctx context.Context, p *pipeline.Pipeline, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	result, err := p.Receive(ctx, f, info.ModTime().Unix(), store.DownloadDone, false)
	if err != nil {
		return err
	}
	log.Printf("%s: trashed=%v msgs=%v", path, result.Trashed, result.MsgIDs)
	return nil
}

func collectFixtures(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		entries, err := ioutil.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() {
				files = append(files, filepath.Join(arg, e.Name()))
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

func logEvents(emitter *events.Emitter) {
	for ev := range emitter.Subscribe(64) {
		log.Printf("event: %+v", ev)
	}
}

func parseShowEmails(s string) chat.ShowEmails {
	switch s {
	case "off":
		return chat.ShowEmailsOff
	case "all":
		return chat.ShowEmailsAll
	default:
		return chat.ShowEmailsAcceptedContacts
	}
}
