package framer

import (
	"bytes"
	"crypto/subtle"
	"io"

	"blitter.com/go/awa/awaerr"
)

// minPadding is the minimum padding length the outbound side must add,
// per spec.md §4.2.
const minPadding = 4

// perPacketIV derives the nonce used for one packet's stream cipher
// from the direction's static IV and that packet's sequence number,
// so encryption/decryption of a given record is a pure function of
// (Keys, Seq) rather than depending on how much keystream has been
// consumed by prior packets. The last 4 bytes of the IV are XORed
// with the big-endian sequence number; IVs shorter than 4 bytes are
// XORed directly against the low-order bytes of seq.
func perPacketIV(k Keys) []byte {
	iv := append([]byte(nil), k.IV...)
	seqBytes := [4]byte{byte(k.Seq >> 24), byte(k.Seq >> 16), byte(k.Seq >> 8), byte(k.Seq)}
	n := len(iv)
	if n >= 4 {
		for i := 0; i < 4; i++ {
			iv[n-4+i] ^= seqBytes[i]
		}
	} else {
		for i := 0; i < n; i++ {
			iv[i] ^= seqBytes[4-n+i]
		}
	}
	return iv
}

func streamFor(k Keys) (interface {
	XORKeyStream(dst, src []byte)
}, error) {
	kk := k
	kk.IV = perPacketIV(k)
	return NewStream(kk)
}

func effectiveBlockSize(id CipherID) int {
	bs := BlockSize(id)
	if bs < 8 {
		return 8
	}
	return bs
}

// ReadPacket attempts to parse one packet from buf under keys k. It
// never mutates buf or k: on success it returns the payload, the
// number of bytes of buf consumed, and the Keys value with Seq
// advanced by one; on NeedMore/error the returned Keys equals k.
func ReadPacket(buf []byte, k Keys) (payload []byte, consumed int, next Keys, err error) {
	effBlock := effectiveBlockSize(k.CipherID)
	if len(buf) < effBlock {
		return nil, 0, k, awaerr.NeedMore
	}

	strm, err := streamFor(k)
	if err != nil {
		return nil, 0, k, err
	}
	firstBlock := make([]byte, effBlock)
	strm.XORKeyStream(firstBlock, buf[:effBlock])

	packetLength := uint32(firstBlock[0])<<24 | uint32(firstBlock[1])<<16 | uint32(firstBlock[2])<<8 | uint32(firstBlock[3])
	if packetLength < 1 || packetLength > maxPayloadLen {
		return nil, 0, k, awaerr.Malformed
	}

	macSize := MacSize(k.MacID)
	total := 4 + int(packetLength) + macSize
	if total < 0 || len(buf) < total {
		return nil, 0, k, awaerr.NeedMore
	}

	// Re-derive a fresh stream to decrypt the whole record in one call;
	// NewStream/XORKeyStream applied from byte 0 is deterministic, so
	// decrypting effBlock bytes above and the full record here yields
	// identical plaintext in the overlapping prefix.
	strm2, err := streamFor(k)
	if err != nil {
		return nil, 0, k, err
	}
	record := make([]byte, 4+int(packetLength))
	strm2.XORKeyStream(record, buf[:4+int(packetLength)])

	if macSize > 0 {
		mac, err := NewMAC(k)
		if err != nil {
			return nil, 0, k, err
		}
		seqBytes := []byte{byte(k.Seq >> 24), byte(k.Seq >> 16), byte(k.Seq >> 8), byte(k.Seq)}
		mac.Write(seqBytes)
		mac.Write(record)
		expected := mac.Sum(nil)
		got := buf[4+int(packetLength) : total]
		if subtle.ConstantTimeCompare(expected, got) != 1 {
			return nil, 0, k, awaerr.MacFailure
		}
	}

	paddingLength := int(record[4])
	payloadLen := int(packetLength) - 1 - paddingLength
	if paddingLength < minPadding || payloadLen < 0 {
		return nil, 0, k, awaerr.Malformed
	}
	payload = record[5 : 5+payloadLen]

	next = k
	next.Seq = k.Seq + 1
	return payload, total, next, nil
}

// maxPayloadLen bounds packet_length against runaway allocation on a
// corrupt/adversarial length field.
const maxPayloadLen = 1 << 20

// WritePacket serializes payload into a framed, padded, optionally
// encrypted+MACed record under keys k, returning the bytes to send and
// the Keys value with Seq advanced by one.
func WritePacket(payload []byte, k Keys, rnd io.Reader) (out []byte, next Keys, err error) {
	effBlock := effectiveBlockSize(k.CipherID)

	base := 5 + len(payload) // uint32 length field, padding_length byte and payload
	padLen := effBlock - (base % effBlock)
	if padLen < minPadding {
		padLen += effBlock
	}

	packetLength := uint32(1 + len(payload) + padLen)
	record := make([]byte, 0, 4+int(packetLength))
	record = append(record, byte(packetLength>>24), byte(packetLength>>16), byte(packetLength>>8), byte(packetLength))
	record = append(record, byte(padLen))
	record = append(record, payload...)
	pad := make([]byte, padLen)
	if _, err = io.ReadFull(rnd, pad); err != nil {
		return nil, k, err
	}
	record = append(record, pad...)

	var macOut []byte
	macSize := MacSize(k.MacID)
	if macSize > 0 {
		mac, err := NewMAC(k)
		if err != nil {
			return nil, k, err
		}
		seqBytes := []byte{byte(k.Seq >> 24), byte(k.Seq >> 16), byte(k.Seq >> 8), byte(k.Seq)}
		mac.Write(seqBytes)
		mac.Write(record)
		macOut = mac.Sum(nil)
	}

	strm, err := streamFor(k)
	if err != nil {
		return nil, k, err
	}
	cipherText := make([]byte, len(record))
	strm.XORKeyStream(cipherText, record)

	var buf bytes.Buffer
	buf.Write(cipherText)
	buf.Write(macOut)

	next = k
	next.Seq = k.Seq + 1
	return buf.Bytes(), next, nil
}
