package txcodec

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// wire encodes/decodes the sponsor-mode transaction blob. It is the only
// place that knows the byte layout; Parse and the re-serialization step
// inside Sign both go through it, which is what keeps parse∘serialize an
// identity (spec.md §8's round-trip law).
//
// Layout (big-endian throughout):
//   magic[4] "RLYX" | version byte (1) | authMode byte
//   originAddress   (len-prefixed string)
//   originNonce     uint64
//   originSigPresent byte ; originSignature [65]byte if present
//   sponsorAddress  (len-prefixed string, empty when pending)
//   sponsorNonce    uint64
//   sponsorSigPresent byte ; sponsorSignature [65]byte if present
//   fee             uint64
//   numEvents       uint16
//   events[numEvents]: tokenKind byte (0=native,1=ft) | assetID (len-prefixed)
//                       | amount (len-prefixed decimal string) | sender (len-prefixed)
//                       | recipient (len-prefixed)

var magic = [4]byte{'R', 'L', 'Y', 'X'}

const wireVersion = 1

type wireWriter struct {
	buf []byte
}

func (w *wireWriter) byte(b byte)   { w.buf = append(w.buf, b) }
func (w *wireWriter) bytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *wireWriter) u16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.bytes(b[:])
}

func (w *wireWriter) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.bytes(b[:])
}

func (w *wireWriter) str(s string) {
	if len(s) > 255 {
		s = s[:255]
	}
	w.byte(byte(len(s)))
	w.bytes([]byte(s))
}

type wireReader struct {
	buf []byte
	pos int
}

func (r *wireReader) remaining() int { return len(r.buf) - r.pos }

func (r *wireReader) byte() (byte, error) {
	if r.remaining() < 1 {
		return 0, fmt.Errorf("unexpected end of buffer")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *wireReader) bytesN(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, fmt.Errorf("unexpected end of buffer")
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *wireReader) u16() (uint16, error) {
	b, err := r.bytesN(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *wireReader) u64() (uint64, error) {
	b, err := r.bytesN(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *wireReader) str() (string, error) {
	n, err := r.byte()
	if err != nil {
		return "", err
	}
	b, err := r.bytesN(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// encode serializes a transaction to the wire layout. Callers pass
// sponsorSig = nil to produce the signing payload (sponsor slot marked
// not-yet-present) and the real signature once computed.
func encode(tx *wireTx) []byte {
	w := &wireWriter{}
	w.bytes(magic[:])
	w.byte(wireVersion)
	w.byte(byte(tx.AuthMode))
	w.str(tx.OriginAddress)
	w.u64(tx.OriginNonce)
	if len(tx.OriginSignature) == 65 {
		w.byte(1)
		w.bytes(tx.OriginSignature)
	} else {
		w.byte(0)
	}
	w.str(tx.SponsorAddress)
	w.u64(tx.SponsorNonce)
	if len(tx.SponsorSignature) == 65 {
		w.byte(1)
		w.bytes(tx.SponsorSignature)
	} else {
		w.byte(0)
	}
	w.u64(tx.Fee)
	w.u16(uint16(len(tx.Events)))
	for _, e := range tx.Events {
		kind := byte(0)
		if e.TokenKind == TokenKindFT {
			kind = 1
		}
		w.byte(kind)
		w.str(e.AssetID)
		amount := "0"
		if e.Amount != nil {
			amount = e.Amount.String()
		}
		w.str(amount)
		w.str(e.Sender)
		w.str(e.Recipient)
	}
	return w.buf
}

func decode(raw []byte) (*wireTx, error) {
	r := &wireReader{buf: raw}

	gotMagic, err := r.bytesN(4)
	if err != nil || string(gotMagic) != string(magic[:]) {
		return nil, fmt.Errorf("bad magic")
	}
	version, err := r.byte()
	if err != nil || version != wireVersion {
		return nil, fmt.Errorf("unsupported wire version")
	}
	authModeByte, err := r.byte()
	if err != nil {
		return nil, err
	}

	tx := &wireTx{AuthMode: AuthMode(authModeByte)}

	if tx.OriginAddress, err = r.str(); err != nil {
		return nil, err
	}
	if tx.OriginNonce, err = r.u64(); err != nil {
		return nil, err
	}
	originSigPresent, err := r.byte()
	if err != nil {
		return nil, err
	}
	if originSigPresent == 1 {
		if tx.OriginSignature, err = r.bytesN(65); err != nil {
			return nil, err
		}
	}
	if tx.SponsorAddress, err = r.str(); err != nil {
		return nil, err
	}
	if tx.SponsorNonce, err = r.u64(); err != nil {
		return nil, err
	}
	sponsorSigPresent, err := r.byte()
	if err != nil {
		return nil, err
	}
	if sponsorSigPresent == 1 {
		if tx.SponsorSignature, err = r.bytesN(65); err != nil {
			return nil, err
		}
	}
	if tx.Fee, err = r.u64(); err != nil {
		return nil, err
	}
	numEvents, err := r.u16()
	if err != nil {
		return nil, err
	}
	tx.Events = make([]wireEvent, 0, numEvents)
	for i := uint16(0); i < numEvents; i++ {
		kindByte, err := r.byte()
		if err != nil {
			return nil, err
		}
		kind := TokenKindNative
		if kindByte == 1 {
			kind = TokenKindFT
		}
		assetID, err := r.str()
		if err != nil {
			return nil, err
		}
		amountStr, err := r.str()
		if err != nil {
			return nil, err
		}
		amount, ok := new(big.Int).SetString(amountStr, 10)
		if !ok {
			amount = big.NewInt(0)
		}
		sender, err := r.str()
		if err != nil {
			return nil, err
		}
		recipient, err := r.str()
		if err != nil {
			return nil, err
		}
		tx.Events = append(tx.Events, wireEvent{
			TokenKind: kind, AssetID: assetID, Amount: amount, Sender: sender, Recipient: recipient,
		})
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("trailing bytes after transaction")
	}
	return tx, nil
}

// wireTx/wireEvent are the internal decode target; the public API
// (ParsedTransaction) is a thin, read-only projection over it.
type wireTx struct {
	AuthMode        AuthMode
	OriginAddress   string
	OriginNonce     uint64
	OriginSignature []byte
	SponsorAddress  string
	SponsorNonce    uint64
	SponsorSignature []byte
	Fee             uint64
	Events          []wireEvent
}

type wireEvent struct {
	TokenKind TokenKind
	AssetID   string
	Amount    *big.Int
	Sender    string
	Recipient string
}
