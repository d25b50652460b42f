/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

// Package decompiler wraps an external radare2-style disassembler as a
// command/response session and normalizes its output.
package decompiler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/errors"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/logger/log"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/metrics"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/model"
)

var (
	decompileDuration = metrics.NewHistogramVec(
		"decompile_duration_seconds", "Wall time of one decompilation", []string{"depth"})
	decompileFailures = metrics.NewCounterVec(
		"decompile_failures", "Decompilations that failed", []string{"reason"})
)

var analysisCommands = map[model.AnalysisDepth]string{
	model.DepthBasic:         "aa",
	model.DepthStandard:      "aaa",
	model.DepthComprehensive: "aaaa",
}

var analysisTimeouts = map[model.AnalysisDepth]time.Duration{
	model.DepthBasic:         30 * time.Second,
	model.DepthStandard:      120 * time.Second,
	model.DepthComprehensive: 300 * time.Second,
}

func lowerDepth(d model.AnalysisDepth) (model.AnalysisDepth, bool) {
	switch d {
	case model.DepthComprehensive:
		return model.DepthStandard, true
	case model.DepthStandard:
		return model.DepthBasic, true
	}
	return d, false
}

const commandTimeout = 30 * time.Second

type Config struct {
	Binary       string
	MaxFunctions int
	MaxImports   int
	MaxStrings   int
	MaxRetries   int
}

type Decompiler struct {
	cfg Config
}

func New(cfg Config) *Decompiler {
	if cfg.Binary == "" {
		cfg.Binary = "r2"
	}
	return &Decompiler{cfg: cfg}
}

// Decompile runs one full session against the file: probe, analyze at the
// requested depth, extract functions, imports and strings. The session is
// closed on every exit path.
func (d *Decompiler) Decompile(ctx context.Context, filePath string, depth model.AnalysisDepth) (*model.DecompilationArtifact, error) {
	start := time.Now()

	artifact := &model.DecompilationArtifact{}
	if err := d.fingerprint(filePath, artifact); err != nil {
		return nil, err
	}

	session, usedDepth, err := d.openAndAnalyze(ctx, filePath, depth, artifact)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			log.Warnf("failed to close disassembler session: %v", cerr)
		}
	}()

	if err := d.extractInfo(ctx, session, artifact); err != nil {
		artifact.Warnings = append(artifact.Warnings, "file info extraction failed: "+err.Error())
	}
	// strings first, so function data refs can be resolved against them
	if err := d.extractStrings(ctx, session, artifact); err != nil {
		artifact.Warnings = append(artifact.Warnings, "string extraction failed: "+err.Error())
	}
	if err := d.extractFunctions(ctx, session, artifact); err != nil {
		decompileFailures.Inc("functions")
		return nil, err
	}
	if err := d.extractImports(ctx, session, artifact); err != nil {
		artifact.Warnings = append(artifact.Warnings, "import extraction failed: "+err.Error())
	}
	if usedDepth == model.DepthComprehensive {
		d.extractAssembly(ctx, session, artifact)
	}

	artifact.DurationSeconds = time.Since(start).Seconds()
	artifact.Success = true
	decompileDuration.Observe(artifact.DurationSeconds, string(usedDepth))
	return artifact, nil
}

// openAndAnalyze opens a session and runs the depth-selected analysis
// command. A timed-out session is unusable, so a soft-timeout exceedance
// reopens and retries at the next lower depth, at most once.
func (d *Decompiler) openAndAnalyze(ctx context.Context, filePath string, depth model.AnalysisDepth, artifact *model.DecompilationArtifact) (*Session, model.AnalysisDepth, error) {
	downgraded := false
	for {
		session, err := Open(ctx, d.cfg.Binary, filePath, d.cfg.MaxRetries)
		if err != nil {
			decompileFailures.Inc("open")
			return nil, depth, err
		}

		if _, err := session.Run(ctx, "?V", commandTimeout, false); err != nil {
			_ = session.Close()
			decompileFailures.Inc("probe")
			return nil, depth, errors.WrapError(err, "disassembler did not answer version probe", errors.TypeProviderUnavailable)
		}

		_, err = session.Run(ctx, analysisCommands[depth], analysisTimeouts[depth], false)
		if err == nil {
			return session, depth, nil
		}
		_ = session.Close()

		if !errors.IsType(err, errors.TypeTimeout) {
			decompileFailures.Inc("analysis")
			return nil, depth, err
		}
		lower, ok := lowerDepth(depth)
		if !ok || downgraded {
			decompileFailures.Inc("analysis")
			return nil, depth, errors.NewTimeout("analysis timed out")
		}
		artifact.Warnings = append(artifact.Warnings,
			fmt.Sprintf("analysis depth downgraded from %s to %s after timeout", depth, lower))
		log.Warnf("analysis %q timed out, retrying at depth %s", analysisCommands[depth], lower)
		depth = lower
		downgraded = true
	}
}

// fingerprint computes sha256 and the magic-based format independently of
// the disassembler, for cross-checking.
func (d *Decompiler) fingerprint(filePath string, artifact *model.DecompilationArtifact) error {
	f, err := os.Open(filePath)
	if err != nil {
		return errors.WrapError(err, "open binary", errors.TypeDecompiler)
	}
	defer f.Close()

	head := make([]byte, 16)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return errors.WrapError(err, "read binary header", errors.TypeDecompiler)
	}
	artifact.Format = SniffFormat(head[:n])
	artifact.Platform = model.PlatformForFormat(artifact.Format)

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return errors.WrapError(err, "seek binary", errors.TypeDecompiler)
	}
	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return errors.WrapError(err, "hash binary", errors.TypeDecompiler)
	}
	artifact.FileHash = hex.EncodeToString(h.Sum(nil))
	artifact.FileSize = size
	return nil
}

type r2Info struct {
	Bin struct {
		Arch    string `json:"arch"`
		Bits    int    `json:"bits"`
		BinType string `json:"bintype"`
	} `json:"bin"`
}

type r2Entry struct {
	VAddr uint64 `json:"vaddr"`
}

type r2Section struct {
	Name string `json:"name"`
}

func (d *Decompiler) extractInfo(ctx context.Context, session *Session, artifact *model.DecompilationArtifact) error {
	var info r2Info
	if err := session.RunJSON(ctx, "ij", commandTimeout, &info); err != nil {
		return err
	}
	if info.Bin.Arch != "" {
		artifact.Architecture = fmt.Sprintf("%s_%d", info.Bin.Arch, info.Bin.Bits)
	}

	var entries []r2Entry
	if err := session.RunJSON(ctx, "iej", commandTimeout, &entries); err == nil && len(entries) > 0 {
		artifact.EntryPoint = hexAddr(entries[0].VAddr)
	}

	var sections []r2Section
	if err := session.RunJSON(ctx, "iSj", commandTimeout, &sections); err == nil {
		for _, sec := range sections {
			if sec.Name != "" {
				artifact.Sections = append(artifact.Sections, sec.Name)
			}
		}
	}
	return nil
}

type r2Function struct {
	Name     string   `json:"name"`
	Offset   uint64   `json:"offset"`
	Size     int64    `json:"size"`
	DataRefs []uint64 `json:"datarefs"`
	CallRefs []struct {
		Addr uint64 `json:"addr"`
		Type string `json:"type"`
	} `json:"callrefs"`
}

func (d *Decompiler) extractFunctions(ctx context.Context, session *Session, artifact *model.DecompilationArtifact) error {
	var funcs []r2Function
	if err := session.RunJSON(ctx, "aflj", commandTimeout, &funcs); err != nil {
		return err
	}

	byAddr := make(map[string]string, len(funcs))
	for _, fn := range funcs {
		byAddr[hexAddr(fn.Offset)] = fn.Name
	}
	stringAddrs := make(map[string]bool, len(artifact.Strings))
	for _, s := range artifact.Strings {
		stringAddrs[s.Address] = true
	}

	for _, fn := range funcs {
		if d.cfg.MaxFunctions > 0 && len(artifact.Functions) >= d.cfg.MaxFunctions {
			artifact.Warnings = append(artifact.Warnings,
				fmt.Sprintf("function list truncated at %d", d.cfg.MaxFunctions))
			break
		}
		size := fn.Size
		if size < 1 {
			size = 1
		}
		out := model.Function{
			Name:    fn.Name,
			Address: hexAddr(fn.Offset),
			Size:    size,
		}
		for _, ref := range fn.CallRefs {
			if ref.Type != "CALL" {
				continue
			}
			if callee, ok := byAddr[hexAddr(ref.Addr)]; ok {
				out.Callees = append(out.Callees, callee)
				if strings.HasPrefix(callee, "sym.imp.") {
					out.Imports = append(out.Imports, strings.TrimPrefix(callee, "sym.imp."))
				}
			}
		}
		for _, addr := range fn.DataRefs {
			if ref := hexAddr(addr); stringAddrs[ref] {
				out.StringRefs = append(out.StringRefs, ref)
			}
		}
		artifact.Functions = append(artifact.Functions, out)
	}

	fillCallers(artifact.Functions)
	return nil
}

// fillCallers inverts the callee edges collected from call refs.
func fillCallers(functions []model.Function) {
	callers := make(map[string][]string)
	for _, fn := range functions {
		for _, callee := range fn.Callees {
			callers[callee] = append(callers[callee], fn.Name)
		}
	}
	for i := range functions {
		functions[i].Callers = callers[functions[i].Name]
	}
}

const (
	assemblyFunctionCap = 50
	assemblyListingCap  = 8192
)

// extractAssembly attaches the flat disassembly listing to each function,
// only at comprehensive depth. Listings are capped per function and the
// pass is bounded, a single failed listing stops it with a warning.
func (d *Decompiler) extractAssembly(ctx context.Context, session *Session, artifact *model.DecompilationArtifact) {
	for i := range artifact.Functions {
		if i >= assemblyFunctionCap {
			artifact.Warnings = append(artifact.Warnings,
				fmt.Sprintf("assembly listings truncated at %d functions", assemblyFunctionCap))
			return
		}
		fn := &artifact.Functions[i]
		out, err := session.Run(ctx, "pdf @ "+fn.Address, commandTimeout, false)
		if err != nil {
			artifact.Warnings = append(artifact.Warnings, "assembly extraction failed: "+err.Error())
			return
		}
		listing := strings.TrimSpace(string(out))
		if len(listing) > assemblyListingCap {
			listing = listing[:assemblyListingCap]
		}
		fn.Assembly = listing
	}
}

type r2Import struct {
	Name    string `json:"name"`
	LibName string `json:"libname"`
	Ordinal int    `json:"ordinal"`
	Plt     uint64 `json:"plt"`
}

func (d *Decompiler) extractImports(ctx context.Context, session *Session, artifact *model.DecompilationArtifact) error {
	var imports []r2Import
	if err := session.RunJSON(ctx, "iij", commandTimeout, &imports); err != nil {
		return err
	}
	for _, imp := range imports {
		if d.cfg.MaxImports > 0 && len(artifact.Imports) >= d.cfg.MaxImports {
			artifact.Warnings = append(artifact.Warnings,
				fmt.Sprintf("import list truncated at %d", d.cfg.MaxImports))
			break
		}
		out := model.Import{
			Library:  imp.LibName,
			Function: imp.Name,
			Ordinal:  imp.Ordinal,
		}
		if out.Library == "" {
			out.Library = "unknown"
		}
		if imp.Plt != 0 {
			out.IATAddress = hexAddr(imp.Plt)
		}
		artifact.Imports = append(artifact.Imports, out)
	}
	return nil
}

type r2String struct {
	VAddr   uint64 `json:"vaddr"`
	Size    int64  `json:"size"`
	Section string `json:"section"`
	Type    string `json:"type"`
	String  string `json:"string"`
}

func (d *Decompiler) extractStrings(ctx context.Context, session *Session, artifact *model.DecompilationArtifact) error {
	var strs []r2String
	if err := session.RunJSON(ctx, "izj", commandTimeout, &strs); err != nil {
		return err
	}
	for _, s := range strs {
		if d.cfg.MaxStrings > 0 && len(artifact.Strings) >= d.cfg.MaxStrings {
			artifact.Warnings = append(artifact.Warnings,
				fmt.Sprintf("string list truncated at %d", d.cfg.MaxStrings))
			break
		}
		if s.String == "" {
			continue
		}
		artifact.Strings = append(artifact.Strings, model.String{
			Value:    s.String,
			Address:  hexAddr(s.VAddr),
			Size:     s.Size,
			Encoding: encodingOf(s.Type),
			Section:  s.Section,
		})
	}
	return nil
}

func encodingOf(r2Type string) model.StringEncoding {
	switch strings.ToLower(r2Type) {
	case "utf16", "utf16le", "utf16be", "wide":
		return model.EncodingUTF16
	case "utf32", "utf32le", "utf32be":
		return model.EncodingUTF32
	default:
		return model.EncodingASCII
	}
}

// hexAddr renders an address as lowercased 0x-prefixed hex.
func hexAddr(addr uint64) string {
	return fmt.Sprintf("0x%x", addr)
}
