/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package decompiler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/model"
)

// stubDisassembler emulates the -q0 protocol: a delimiter on open, then one
// delimiter-terminated response per command line.
const stubDisassembler = `#!/bin/sh
printf '\0'
while IFS= read -r line; do
  case "$line" in
    "?V") printf '5.9.0\0' ;;
    aa|aaa|aaaa) printf '\0' ;;
    aflj) printf '[{"name":"main","offset":4096,"size":64,"datarefs":[8192,12288],"callrefs":[{"addr":4160,"type":"CALL"}]},{"name":"sym.imp.strlen","offset":4160,"size":16}]\0' ;;
    "pdf @ 0x1000") printf 'push rbp\nmov rbp, rsp\ncall sym.imp.strlen\0' ;;
    "pdf @ 0x1040") printf 'jmp qword [reloc.strlen]\0' ;;
    iij) printf '[{"name":"strlen","libname":"libc.so.6","ordinal":1,"plt":4160}]\0' ;;
    izj) printf '[{"vaddr":8192,"size":6,"section":".rodata","type":"ascii","string":"hello"},{"vaddr":8208,"size":12,"section":".rodata","type":"utf16","string":"wide"}]\0' ;;
    ij) printf '{"bin":{"arch":"x86","bits":64,"bintype":"elf"}}\0' ;;
    iej) printf '[{"vaddr":4096}]\0' ;;
    iSj) printf '[{"name":".text"},{"name":".rodata"}]\0' ;;
    *) printf '\0' ;;
  esac
done
`

func writeStub(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "r2-stub")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func writeELF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.bin")
	content := append([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0}, make([]byte, 120)...)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestDecompileHappyPath(t *testing.T) {
	d := New(Config{Binary: writeStub(t, stubDisassembler), MaxRetries: 1})

	artifact, err := d.Decompile(context.Background(), writeELF(t), model.DepthStandard)
	require.NoError(t, err)
	assert.True(t, artifact.Success)

	assert.Equal(t, model.FormatELF, artifact.Format)
	assert.Equal(t, model.PlatformLinux, artifact.Platform)
	assert.Equal(t, "x86_64", artifact.Architecture)
	assert.Equal(t, "0x1000", artifact.EntryPoint)
	assert.Equal(t, []string{".text", ".rodata"}, artifact.Sections)
	assert.Len(t, artifact.FileHash, 64)
	assert.Greater(t, artifact.FileSize, int64(0))

	require.Len(t, artifact.Functions, 2)
	main := artifact.Functions[0]
	assert.Equal(t, "main", main.Name)
	assert.Equal(t, "0x1000", main.Address)
	assert.Equal(t, []string{"sym.imp.strlen"}, main.Callees)
	assert.Equal(t, []string{"strlen"}, main.Imports)
	// only the dataref that lands on a known string survives
	assert.Equal(t, []string{"0x2000"}, main.StringRefs)
	assert.Empty(t, main.Assembly)
	assert.Equal(t, []string{"main"}, artifact.Functions[1].Callers)

	require.Len(t, artifact.Imports, 1)
	assert.Equal(t, "libc.so.6", artifact.Imports[0].Library)
	assert.Equal(t, "0x1040", artifact.Imports[0].IATAddress)

	require.Len(t, artifact.Strings, 2)
	assert.Equal(t, "hello", artifact.Strings[0].Value)
	assert.Equal(t, model.EncodingASCII, artifact.Strings[0].Encoding)
	assert.Equal(t, model.EncodingUTF16, artifact.Strings[1].Encoding)
}

func TestDecompileCaps(t *testing.T) {
	d := New(Config{Binary: writeStub(t, stubDisassembler), MaxFunctions: 1, MaxStrings: 1})

	artifact, err := d.Decompile(context.Background(), writeELF(t), model.DepthBasic)
	require.NoError(t, err)
	assert.Len(t, artifact.Functions, 1)
	assert.Len(t, artifact.Strings, 1)
	assert.NotEmpty(t, artifact.Warnings)
}

func TestDecompileComprehensiveAddsAssembly(t *testing.T) {
	d := New(Config{Binary: writeStub(t, stubDisassembler), MaxRetries: 1})

	artifact, err := d.Decompile(context.Background(), writeELF(t), model.DepthComprehensive)
	require.NoError(t, err)

	require.Len(t, artifact.Functions, 2)
	assert.Contains(t, artifact.Functions[0].Assembly, "push rbp")
	assert.Contains(t, artifact.Functions[1].Assembly, "jmp qword")
}

func TestDecompileUnavailableBinary(t *testing.T) {
	d := New(Config{Binary: "/nonexistent/r2"})

	_, err := d.Decompile(context.Background(), writeELF(t), model.DepthBasic)
	require.Error(t, err)
}

func TestSessionCloseTerminatesChild(t *testing.T) {
	session, err := Open(context.Background(), writeStub(t, stubDisassembler), writeELF(t), 0)
	require.NoError(t, err)
	require.Equal(t, StateReady, session.State())

	require.NoError(t, session.Close())
	assert.Equal(t, StateClosed, session.State())

	// idempotent
	require.NoError(t, session.Close())

	// the child has exited by the time Close returns
	assert.NotNil(t, session.cmd.ProcessState)
}

func TestSessionRemovesOwnedTempFile(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(tmp, []byte{0x7f, 'E', 'L', 'F'}, 0o600))

	session, err := Open(context.Background(), writeStub(t, stubDisassembler), tmp, 0)
	require.NoError(t, err)
	session.AdoptTempFile(tmp)

	require.NoError(t, session.Close())
	_, statErr := os.Stat(tmp)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSessionRejectsWhenNotReady(t *testing.T) {
	session, err := Open(context.Background(), writeStub(t, stubDisassembler), writeELF(t), 0)
	require.NoError(t, err)
	require.NoError(t, session.Close())

	_, err = session.Run(context.Background(), "?V", time.Second, false)
	require.Error(t, err)
}

func TestSessionCachesCommandResults(t *testing.T) {
	session, err := Open(context.Background(), writeStub(t, stubDisassembler), writeELF(t), 0)
	require.NoError(t, err)
	defer session.Close()

	first, err := session.Run(context.Background(), "aflj", time.Second, true)
	require.NoError(t, err)
	second, err := session.Run(context.Background(), "aflj", time.Second, true)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSniffFormat(t *testing.T) {
	tests := []struct {
		name   string
		head   []byte
		format model.BinaryFormat
	}{
		{"pe", []byte{'M', 'Z', 0x90, 0x00}, model.FormatPE},
		{"elf", []byte{0x7f, 'E', 'L', 'F'}, model.FormatELF},
		{"macho64", []byte{0xfe, 0xed, 0xfa, 0xcf}, model.FormatMachO},
		{"macho64le", []byte{0xcf, 0xfa, 0xed, 0xfe}, model.FormatMachO},
		{"fat", []byte{0xca, 0xfe, 0xba, 0xbe}, model.FormatMachO},
		{"unknown", []byte{0x00, 0x01, 0x02, 0x03}, model.FormatUnknown},
		{"short", []byte{0x7f}, model.FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.format, SniffFormat(tt.head))
		})
	}
}

func TestJSONRetryOnGarbage(t *testing.T) {
	// first aflj answer is garbage, the retry is valid JSON
	flaky := `#!/bin/sh
printf '\0'
sent=0
while IFS= read -r line; do
  case "$line" in
    aflj)
      if [ "$sent" = "0" ]; then
        sent=1
        printf 'not json\0'
      else
        printf '[]\0'
      fi
      ;;
    *) printf '\0' ;;
  esac
done
`
	session, err := Open(context.Background(), writeStub(t, flaky), writeELF(t), 2)
	require.NoError(t, err)
	defer session.Close()

	data, err := session.Run(context.Background(), "aflj", 5*time.Second, true)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}
