package frame

import "github.com/sigurn/crc16"

// MAVLink's X.25 accumulator is CRC-16/MCRF4XX: poly 0x1021 reflected, init 0xFFFF, no xorout.
var x25 = crc16.MakeTable(crc16.CRC16_MCRF4XX)

// Seed is the optional CRC_EXTRA byte appended to the checksummed bytes.
type Seed struct {
	Extra byte
	Set   bool
}

// Checksum covers header+payload, then the CRC_EXTRA byte when the seed is set.
func Checksum(headerAndPayload []byte, s Seed) uint16 {
	if !s.Set {
		return crc16.Checksum(headerAndPayload, x25)
	}
	buf := make([]byte, len(headerAndPayload)+1)
	copy(buf, headerAndPayload)
	buf[len(headerAndPayload)] = s.Extra
	return crc16.Checksum(buf, x25)
}

func seedFor(extras Extras, id uint8) Seed {
	if extras == nil {
		return Seed{}
	}
	v, ok := extras.CRCExtra(id)
	return Seed{Extra: v, Set: ok}
}
