/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package model

type BinaryFormat string

const (
	FormatPE      BinaryFormat = "PE"
	FormatELF     BinaryFormat = "ELF"
	FormatMachO   BinaryFormat = "Mach-O"
	FormatUnknown BinaryFormat = "unknown"
)

type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
	PlatformMacOS   Platform = "macos"
	PlatformUnknown Platform = "unknown"
)

// PlatformForFormat maps a detected binary format to its native platform.
func PlatformForFormat(format BinaryFormat) Platform {
	switch format {
	case FormatPE:
		return PlatformWindows
	case FormatELF:
		return PlatformLinux
	case FormatMachO:
		return PlatformMacOS
	default:
		return PlatformUnknown
	}
}

type StringEncoding string

const (
	EncodingASCII StringEncoding = "ascii"
	EncodingUTF16 StringEncoding = "utf-16"
	EncodingUTF32 StringEncoding = "utf-32"
)

type Function struct {
	Name       string   `json:"name"`
	Address    string   `json:"address"`
	Size       int64    `json:"size"`
	Assembly   string   `json:"assembly,omitempty"`
	Callees    []string `json:"callees,omitempty"`
	Callers    []string `json:"callers,omitempty"`
	Imports    []string `json:"imports,omitempty"`
	StringRefs []string `json:"string_refs,omitempty"`
}

type Import struct {
	Library    string `json:"library"`
	Function   string `json:"function,omitempty"`
	Ordinal    int    `json:"ordinal,omitempty"`
	IATAddress string `json:"iat_address,omitempty"`
}

type String struct {
	Value    string         `json:"value"`
	Address  string         `json:"address"`
	Size     int64          `json:"size"`
	Encoding StringEncoding `json:"encoding"`
	Section  string         `json:"section,omitempty"`
}

// DecompilationArtifact is the normalized output of one disassembler session.
type DecompilationArtifact struct {
	FileHash     string       `json:"file_hash"`
	FileSize     int64        `json:"file_size"`
	Format       BinaryFormat `json:"format"`
	Platform     Platform     `json:"platform"`
	Architecture string       `json:"architecture,omitempty"`
	EntryPoint   string       `json:"entry_point,omitempty"`
	Sections     []string     `json:"sections,omitempty"`

	Functions []Function `json:"functions"`
	Imports   []Import   `json:"imports"`
	Strings   []String   `json:"strings"`

	DurationSeconds float64  `json:"duration_seconds"`
	Success         bool     `json:"success"`
	Errors          []string `json:"errors,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}
