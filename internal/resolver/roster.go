package resolver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// DefaultArchitecture is assumed for backends that do not report one.
const DefaultArchitecture = "mips32"

// rosterEntry is the loose shape bridges use to describe a backend.
type rosterEntry struct {
	ID           string      `mapstructure:"id"`
	BinaryID     string      `mapstructure:"binary_id"`
	ServerID     string      `mapstructure:"server_id"`
	Name         string      `mapstructure:"name"`
	Title        string      `mapstructure:"title"`
	Architecture string      `mapstructure:"architecture"`
	Arch         string      `mapstructure:"arch"`
	BaseAddress  interface{} `mapstructure:"base_address"`
}

// DecodeRoster converts a decoded roster list into targets. Entries without
// any identifier are skipped; malformed entries are reported but do not stop
// the rest from decoding.
func DecodeRoster(items []interface{}) ([]Target, error) {
	targets := make([]Target, 0, len(items))

	var firstErr error

	for i, item := range items {
		target, ok, err := decodeEntry(item)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("roster entry %d: %w", i, err)
			}

			continue
		}

		if ok {
			targets = append(targets, target)
		}
	}

	return targets, firstErr
}

func decodeEntry(item interface{}) (Target, bool, error) {
	if s, ok := item.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return Target{}, false, nil
		}

		return Target{LogicalID: s, ResolvedID: s, DisplayName: s, Architecture: DefaultArchitecture}, true, nil
	}

	var entry rosterEntry

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &entry,
	})
	if err != nil {
		return Target{}, false, err
	}

	if err := decoder.Decode(item); err != nil {
		return Target{}, false, err
	}

	id := firstNonEmpty(entry.ID, entry.BinaryID, entry.ServerID, entry.Name)
	if id == "" {
		return Target{}, false, nil
	}

	base, err := parseBaseAddress(entry.BaseAddress)
	if err != nil {
		return Target{}, false, err
	}

	return Target{
		LogicalID:    id,
		ResolvedID:   id,
		DisplayName:  firstNonEmpty(entry.Name, entry.Title, id),
		Architecture: firstNonEmpty(entry.Architecture, entry.Arch, DefaultArchitecture),
		BaseAddress:  base,
	}, true, nil
}

func parseBaseAddress(v interface{}) (uint64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		if t < 0 {
			return 0, fmt.Errorf("negative base address %v", t)
		}

		return uint64(t), nil
	case int:
		if t < 0 {
			return 0, fmt.Errorf("negative base address %d", t)
		}

		return uint64(t), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, nil
		}

		n, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid base address %q: %w", s, err)
		}

		return n, nil
	default:
		return 0, fmt.Errorf("unsupported base address type %T", v)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}

	return ""
}
