// Package analysis derives reverse-engineering facts from decompiled functions.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/samber/lo"
	"go.uber.org/zap"

	fields "github.com/actual-software/re-bridge/pkg/common/logging"
)

// ErrDecompile is returned when a function could not be decompiled.
var ErrDecompile = errors.New("failed to decompile function")

// offsetPattern matches pointer arithmetic such as "ptr + 0x10" or "*(arg1 + 0x2c)".
var offsetPattern = regexp.MustCompile(`(?:ptr|\w+)\s*\+\s*0x([0-9a-fA-F]+)`)

// Decompiler produces decompiled source. *client.Client satisfies it.
type Decompiler interface {
	DecompileFunction(ctx context.Context, binaryID, fn string) (string, bool)
}

// StructOffsets is the set of struct offsets a function dereferences.
type StructOffsets struct {
	Function       string   `json:"function"        yaml:"function"`
	DecompiledCode string   `json:"decompiled_code" yaml:"decompiled_code"`
	Offsets        []string `json:"offsets"         yaml:"offsets"`
	OffsetCount    int      `json:"offset_count"    yaml:"offset_count"`
}

// VersionComparison compares one function across two binaries.
type VersionComparison struct {
	Function  string `json:"function"   yaml:"function"`
	OldBinary string `json:"old_binary" yaml:"old_binary"`
	NewBinary string `json:"new_binary" yaml:"new_binary"`
	OldCode   string `json:"old_code"   yaml:"old_code"`
	NewCode   string `json:"new_code"   yaml:"new_code"`
	Changed   bool   `json:"changed"    yaml:"changed"`
}

// Analyzer runs analyses on top of a Decompiler.
type Analyzer struct {
	decompiler Decompiler
	logger     *zap.Logger
}

// New creates an Analyzer.
func New(decompiler Decompiler, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Analyzer{
		decompiler: decompiler,
		logger:     logger.With(zap.String(fields.FieldComponent, "analysis")),
	}
}

// AnalyzeStructOffsets decompiles fn and collects the distinct offsets added to
// pointers, sorted ascending.
func (a *Analyzer) AnalyzeStructOffsets(ctx context.Context, binaryID, fn string) (*StructOffsets, error) {
	code, ok := a.decompiler.DecompileFunction(ctx, binaryID, fn)
	if !ok || code == "" {
		return nil, fmt.Errorf("%w %s in %s", ErrDecompile, fn, binaryID)
	}

	offsets := ExtractOffsets(code)

	a.logger.Debug("struct offsets extracted",
		zap.String(fields.FieldTarget, binaryID),
		zap.String("function", fn),
		zap.Int("offset_count", len(offsets)))

	return &StructOffsets{
		Function:       fn,
		DecompiledCode: code,
		Offsets:        offsets,
		OffsetCount:    len(offsets),
	}, nil
}

// ExtractOffsets returns the distinct offsets in code formatted as 0x%04x.
func ExtractOffsets(code string) []string {
	matches := offsetPattern.FindAllStringSubmatch(code, -1)

	values := lo.FilterMap(matches, func(m []string, _ int) (uint64, bool) {
		v, err := strconv.ParseUint(m[1], 16, 64)

		return v, err == nil
	})

	values = lo.Uniq(values)
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	return lo.Map(values, func(v uint64, _ int) string {
		return fmt.Sprintf("0x%04x", v)
	})
}

// CompareFunctionVersions decompiles fn in both binaries and reports whether
// the source changed.
func (a *Analyzer) CompareFunctionVersions(ctx context.Context, oldID, newID, fn string) (*VersionComparison, error) {
	oldCode, okOld := a.decompiler.DecompileFunction(ctx, oldID, fn)
	newCode, okNew := a.decompiler.DecompileFunction(ctx, newID, fn)

	if !okOld || !okNew || oldCode == "" || newCode == "" {
		return nil, fmt.Errorf("%w %s in one or both binaries", ErrDecompile, fn)
	}

	return &VersionComparison{
		Function:  fn,
		OldBinary: oldID,
		NewBinary: newID,
		OldCode:   oldCode,
		NewCode:   newCode,
		Changed:   oldCode != newCode,
	}, nil
}
