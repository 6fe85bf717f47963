// Package pgptest is a deterministic test double for pgpengine.Engine.
// It performs no real cryptography; it exists so tests elsewhere in
// this module can exercise the was_encrypted/signatures/gossip code
// paths without depending on a real OpenPGP implementation, which is
// out of scope for this module.
package pgptest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"veilmail.dev/core/pgpengine"
)

const marker = "FAKEPGP1:"

// Engine is a fake pgpengine.Engine. Seal and Decrypt are inverses; Decrypt
// rejects anything not produced by Seal.
type Engine struct{}

// Seal builds a fake ciphertext for plaintext, "signed" by signers and
// gossiping the given keys. It is the test-side counterpart to
// Decrypt, standing in for a real sender's encrypt step.
func Seal(plaintext []byte, signers []pgpengine.Fingerprint, gossip []pgpengine.GossipKey) []byte {
	var buf bytes.Buffer
	buf.WriteString(marker)
	for _, fp := range signers {
		buf.WriteString(fp.String())
		buf.WriteByte(',')
	}
	buf.WriteByte(';')
	for _, g := range gossip {
		buf.WriteString(g.Addr)
		buf.WriteByte('=')
		buf.WriteString(base64.StdEncoding.EncodeToString(g.Key.Data))
		buf.WriteByte(',')
	}
	buf.WriteByte('\n')
	buf.Write(plaintext)
	return buf.Bytes()
}

func (Engine) Decrypt(ctx context.Context, ciphertext io.Reader, ownKey *pgpengine.Key) (*pgpengine.DecryptResult, error) {
	data, err := io.ReadAll(ciphertext)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, []byte(marker)) {
		return nil, pgpengine.ErrNotEncrypted
	}
	data = data[len(marker):]
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return nil, errors.New("pgptest: malformed fake ciphertext")
	}
	header, body := string(data[:i]), data[i+1:]

	parts := strings.SplitN(header, ";", 2)
	var sigs []pgpengine.Fingerprint
	for _, s := range strings.Split(parts[0], ",") {
		if s == "" {
			continue
		}
		fp, err := parseFingerprint(s)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, fp)
	}

	var gossip []pgpengine.GossipKey
	if len(parts) == 2 {
		for _, kv := range strings.Split(parts[1], ",") {
			if kv == "" {
				continue
			}
			eq := strings.IndexByte(kv, '=')
			if eq < 0 {
				continue
			}
			addr := kv[:eq]
			keyData, err := base64.StdEncoding.DecodeString(kv[eq+1:])
			if err != nil {
				return nil, err
			}
			fp, _ := Engine{}.Fingerprint(keyData)
			gossip = append(gossip, pgpengine.GossipKey{
				Addr: addr,
				Key:  pgpengine.Key{Data: keyData, Fingerprint: fp},
			})
		}
	}

	return &pgpengine.DecryptResult{
		Plaintext:  bytes.NewReader(body),
		Signatures: sigs,
		Gossip:     gossip,
	}, nil
}

func (Engine) Fingerprint(keyData []byte) (pgpengine.Fingerprint, error) {
	sum := sha256.Sum256(keyData)
	var fp pgpengine.Fingerprint
	copy(fp[:], sum[:len(fp)])
	return fp, nil
}

func parseFingerprint(s string) (pgpengine.Fingerprint, error) {
	var fp pgpengine.Fingerprint
	if len(s) != 40 {
		return fp, errors.New("pgptest: bad fingerprint length")
	}
	for i := 0; i < 20; i++ {
		hi, err := hexVal(s[i*2])
		if err != nil {
			return fp, err
		}
		lo, err := hexVal(s[i*2+1])
		if err != nil {
			return fp, err
		}
		fp[i] = hi<<4 | lo
	}
	return fp, nil
}

func hexVal(c byte) (byte, error) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', nil
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, nil
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, nil
	}
	return 0, errors.New("pgptest: bad hex digit")
}

// KeyFor derives a deterministic fake key+fingerprint from a seed
// string, for building test fixtures without a real keyring.
func KeyFor(seed string) pgpengine.Key {
	data := []byte("fakekey:" + seed)
	fp, _ := Engine{}.Fingerprint(data)
	return pgpengine.Key{Data: data, Fingerprint: fp}
}
