/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package decompiler

import (
	"bytes"
	"encoding/binary"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/model"
)

// SniffFormat detects the binary format from the first bytes of the file,
// independent of whatever the disassembler reports.
func SniffFormat(head []byte) model.BinaryFormat {
	if len(head) < 4 {
		return model.FormatUnknown
	}
	if head[0] == 'M' && head[1] == 'Z' {
		return model.FormatPE
	}
	if bytes.HasPrefix(head, []byte{0x7f, 'E', 'L', 'F'}) {
		return model.FormatELF
	}
	magic := binary.BigEndian.Uint32(head[:4])
	switch magic {
	case 0xfeedface, 0xfeedfacf, // 32/64-bit big-endian
		0xcefaedfe, 0xcffaedfe, // 32/64-bit little-endian
		0xcafebabe, 0xbebafeca: // fat binaries
		return model.FormatMachO
	}
	return model.FormatUnknown
}
