package kernel

import (
	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
)

// Kind selects which realization of the streaming algorithm runs.
type Kind int

const (
	// Auto picks the tiled form with block sizes matched to the host CPU.
	Auto Kind = iota
	// Reference is the scalar form: query block size 1, key block size N.
	// It exists as the single-block-size specialization the tiled form is
	// verified against.
	Reference
	// Tiled is the blocked streaming form.
	Tiled
	// TiledWide is the tiled form with wide blocks sized for AVX-512
	// vector units. Configuring it on a host without AVX-512 is a fatal
	// misconfiguration, not a fallback.
	TiledWide
)

// String returns the strategy name.
func (k Kind) String() string {
	switch k {
	case Auto:
		return "auto"
	case Reference:
		return "reference"
	case Tiled:
		return "tiled"
	case TiledWide:
		return "tiled-wide"
	default:
		return "unknown"
	}
}

const wideBlock = 128

// defaultBlockSizes returns (query block, key block) sizes for the tiled
// form based on the host CPU's vector capabilities.
func defaultBlockSizes() (int, int) {
	switch {
	case cpuid.CPU.Has(cpuid.AVX512F):
		return wideBlock, wideBlock
	case cpuid.CPU.Has(cpuid.AVX2), cpuid.CPU.Has(cpuid.ASIMD):
		return 64, 64
	default:
		return 32, 32
	}
}

// resolveStrategy turns a configured Kind and block-size overrides into the
// concrete execution parameters, failing on unsupported configurations.
func resolveStrategy(cfg Config) (Kind, int, int, error) {
	qb, kb := cfg.QueryBlock, cfg.KeyBlock
	if qb < 0 || kb < 0 {
		return 0, 0, 0, errors.Errorf("kernel: negative block size (%d, %d)", qb, kb)
	}

	kind := cfg.Kind
	switch kind {
	case Auto:
		kind = Tiled
		if qb == 0 || kb == 0 {
			dq, dk := defaultBlockSizes()
			if qb == 0 {
				qb = dq
			}
			if kb == 0 {
				kb = dk
			}
		}
	case Reference:
		// Block sizes are fixed by definition; overrides are rejected so a
		// misconfigured caller finds out immediately.
		if qb != 0 || kb != 0 {
			return 0, 0, 0, errors.New("kernel: reference strategy does not take block sizes")
		}
	case Tiled:
		dq, dk := defaultBlockSizes()
		if qb == 0 {
			qb = dq
		}
		if kb == 0 {
			kb = dk
		}
	case TiledWide:
		if !cpuid.CPU.Has(cpuid.AVX512F) {
			return 0, 0, 0, errors.Errorf("kernel: %s strategy requires AVX-512 support, not present on this cpu (%s)",
				kind, cpuid.CPU.BrandName)
		}
		if qb == 0 {
			qb = wideBlock
		}
		if kb == 0 {
			kb = wideBlock
		}
	default:
		return 0, 0, 0, errors.Errorf("kernel: unknown strategy %d", int(kind))
	}

	return kind, qb, kb, nil
}
