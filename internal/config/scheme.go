package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rezzubs/faultforge/internal/encoding"
	"github.com/rezzubs/faultforge/internal/tensor"
)

// NoProtection is the scheme string of the unencoded baseline.
const NoProtection = "none"

// ParseScheme turns a scheme string into an encoder. A nil encoder with a
// nil error means NoProtection.
//
// Grammar, stages joined by "+" and applied left to right:
//
//	secded[:chunk]
//	bitpattern:<mask|signexp-f32|signexp-f16>[:chunk]
//	ep[:d3p1|d7p1|d15p1]
//	mset[:bits]
func ParseScheme(s string) (encoding.Encoder, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == NoProtection {
		return nil, nil
	}

	parts := strings.Split(s, "+")
	stages := make([]encoding.Encoder, 0, len(parts))
	for _, p := range parts {
		enc, err := parseStage(p)
		if err != nil {
			return nil, err
		}
		stages = append(stages, enc)
	}
	if len(stages) == 1 {
		return stages[0], nil
	}
	return encoding.SequenceEncoder{Stages: stages}, nil
}

// SchemeKey returns the canonical scheme string of enc.
func SchemeKey(enc encoding.Encoder) string {
	if enc == nil {
		return NoProtection
	}
	return enc.String()
}

func parseStage(p string) (encoding.Encoder, error) {
	name, args, _ := strings.Cut(strings.TrimSpace(p), ":")
	var params []string
	if args != "" {
		params = strings.Split(args, ":")
	}

	switch name {
	case "secded":
		if len(params) > 1 {
			return nil, fmt.Errorf("secded takes at most a chunk size, got %q", p)
		}
		k, err := optionalInt(params, 0, encoding.DefaultChunkSize)
		if err != nil {
			return nil, fmt.Errorf("secded chunk size: %w", err)
		}
		return encoding.SecdedEncoder{ChunkSize: k}, nil

	case "bitpattern":
		if len(params) < 1 || len(params) > 2 {
			return nil, fmt.Errorf("bitpattern needs a mask and an optional chunk size, got %q", p)
		}
		mask, err := parseMask(params[0])
		if err != nil {
			return nil, err
		}
		k, err := optionalInt(params, 1, encoding.DefaultChunkSize)
		if err != nil {
			return nil, fmt.Errorf("bitpattern chunk size: %w", err)
		}
		return encoding.BitPatternEncoder{Pattern: mask, ChunkSize: k}, nil

	case "ep":
		if len(params) > 1 {
			return nil, fmt.Errorf("ep takes at most a scheme, got %q", p)
		}
		scheme := encoding.D3P1
		if len(params) == 1 {
			var err error
			if scheme, err = encoding.ParseEPScheme(params[0]); err != nil {
				return nil, err
			}
		}
		return encoding.EmbeddedParityEncoder{Scheme: scheme}, nil

	case "mset":
		if len(params) > 1 {
			return nil, fmt.Errorf("mset takes at most a bit count, got %q", p)
		}
		n, err := optionalInt(params, 0, 1)
		if err != nil {
			return nil, fmt.Errorf("mset bits: %w", err)
		}
		if n < 1 || n > 8 {
			return nil, fmt.Errorf("mset bits %d outside [1, 8]", n)
		}
		return encoding.MsetEncoder{Bits: n}, nil

	case NoProtection:
		return nil, fmt.Errorf("%q cannot be part of a chain", NoProtection)
	default:
		return nil, fmt.Errorf("unknown scheme stage %q", name)
	}
}

func optionalInt(params []string, i, def int) (int, error) {
	if i >= len(params) {
		return def, nil
	}
	n, err := strconv.Atoi(params[i])
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("%d must be positive", n)
	}
	return n, nil
}

func parseMask(s string) (uint64, error) {
	switch s {
	case "signexp-f32":
		return encoding.SignExponentPattern(tensor.Float32), nil
	case "signexp-f16":
		return encoding.SignExponentPattern(tensor.Float16), nil
	}
	mask, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bitpattern mask %q: %w", s, err)
	}
	if mask == 0 {
		return 0, fmt.Errorf("bitpattern mask must select at least one bit")
	}
	return mask, nil
}
