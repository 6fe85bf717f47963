package msgview

import (
	"bufio"
	"context"
	"errors"
	"strings"

	"crawshaw.io/iox"

	"veilmail.dev/core/email"
	"veilmail.dev/core/internal/imf"
	"veilmail.dev/core/internal/mimewalk"
	"veilmail.dev/core/pgpengine"
)

// decryptIfNeeded looks for a multipart/encrypted envelope (the
// PGP/MIME shape: an application/pgp-encrypted control part plus an
// application/octet-stream ciphertext part) among the top-level
// parts. If found and engine is non-nil, it decrypts, re-walks the
// plaintext as a second MIME document, and replaces v.Parts with the
// plaintext's parts. The outer parts are discarded: Autocrypt forbids
// trusting anything about an encrypted envelope except the fact that
// it was encrypted and who signed it.
func (v *View) decryptIfNeeded(ctx context.Context, filer *iox.Filer, engine pgpengine.Engine) error {
	ciphertextIdx := -1
	for i, p := range v.Parts {
		if strings.EqualFold(p.ContentType, "application/octet-stream") && isEncryptedEnvelope(v.outerHeader) {
			ciphertextIdx = i
			break
		}
	}
	if ciphertextIdx < 0 || engine == nil {
		return nil
	}

	p := v.Parts[ciphertextIdx]
	if _, err := p.Content.Seek(0, 0); err != nil {
		return err
	}
	result, err := engine.Decrypt(ctx, p.Content, nil)
	if err != nil {
		if errors.Is(err, pgpengine.ErrNotEncrypted) {
			return nil
		}
		v.DecryptingFailed = true
		return nil
	}
	v.WasEncrypted = true
	for _, fp := range result.Signatures {
		v.Signatures[fp] = true
	}
	for _, g := range result.Gossip {
		addr := strings.ToLower(g.Addr)
		v.GossipedAddr[addr] = true
		v.gossipKeys = append(v.gossipKeys, pgpengine.GossipKey{Addr: addr, Key: g.Key})
	}

	inner := &email.Msg{}
	innerR := bufio.NewReader(result.Plaintext)
	imfr := imf.NewReader(innerR)
	innerHdr, err := imfr.ReadMIMEHeader()
	if err != nil && len(innerHdr.Entries) == 0 {
		// Ciphertext decrypted but carried no valid inner document;
		// keep the outer parts rather than losing the message body.
		return nil
	}
	inner.Headers = innerHdr
	if err := mimewalk.Walk(filer, innerHdr, imfr.R, inner); err != nil {
		return nil
	}

	v.protectedHeader = &innerHdr
	outer := v.msg
	v.msg = inner
	v.splitParts(inner)
	outer.Close()
	return nil
}

// isEncryptedEnvelope reports whether hdr declares
// multipart/encrypted with the PGP/MIME protocol parameter.
func isEncryptedEnvelope(hdr email.Header) bool {
	ct := strings.ToLower(string(hdr.Get("Content-Type")))
	return strings.Contains(ct, "multipart/encrypted") && strings.Contains(ct, "application/pgp-encrypted")
}
