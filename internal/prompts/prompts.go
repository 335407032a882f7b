// Package prompts assembles the validation prompt list for a run: the
// unconditional entry, the built-in library, an optional user library, and
// an optional single override prompt.
package prompts

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"
)

// Entry pairs a stable shortname with the prompt text. Shortnames key image
// filenames and tracker galleries, so they stay stable across runs.
type Entry struct {
	Shortname string
	Prompt    string
}

// Unconditional is the empty prompt showing what the model drifts toward
// without guidance.
const (
	UnconditionalShortname = "unconditional"
	OverrideShortname      = "validation"
)

// builtinLibrary is a small fixed set exercising common failure modes:
// people, scenery, text rendering, and fine structure.
var builtinLibrary = map[string]string{
	"woman_portrait": "portrait photo of a woman with long dark hair, soft window light",
	"man_street":     "candid street photo of a man crossing a rainy intersection at dusk",
	"mountain_lake":  "a still alpine lake reflecting snowy peaks at sunrise",
	"city_night":     "aerial view of a city at night, dense traffic light trails",
	"sign_text":      "a wooden shop sign that reads OPEN in carved letters",
	"macro_insect":   "macro photo of a dragonfly perched on a reed, dew drops visible",
}

type Options struct {
	// DisableUnconditional drops the empty-prompt entry.
	DisableUnconditional bool
	// UserLibraryPath points at a YAML document of shortname: prompt pairs.
	UserLibraryPath string
	// OverridePrompt, when set, is appended with shortname "validation".
	OverridePrompt string
	// Filter, when set, limits which entries are kept. The unconditional
	// entry is never filtered out.
	Filter Filter
}

// BuildValidationPrompts returns the prompt list in enumeration order:
// unconditional, built-in library, user library, override. Order and
// duplicates are preserved so downstream artifacts line up run over run.
func BuildValidationPrompts(opts Options) ([]Entry, error) {
	var entries []Entry

	if !opts.DisableUnconditional {
		entries = append(entries, Entry{Shortname: UnconditionalShortname, Prompt: ""})
	}

	for _, shortname := range sortedKeys(builtinLibrary) {
		entries = append(entries, Entry{Shortname: shortname, Prompt: builtinLibrary[shortname]})
	}

	if opts.UserLibraryPath != "" {
		userEntries, err := LoadUserLibrary(opts.UserLibraryPath)
		if err != nil {
			return nil, err
		}
		entries = append(entries, userEntries...)
	}

	if opts.OverridePrompt != "" {
		entries = append(entries, Entry{Shortname: OverrideShortname, Prompt: opts.OverridePrompt})
	}

	if opts.Filter != nil {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Shortname == UnconditionalShortname || opts.Filter.Matches(e) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	return entries, nil
}

// LoadUserLibrary reads a YAML mapping of shortname to prompt. Keys are
// sanitized and returned in sorted order.
func LoadUserLibrary(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading user prompt library: %w", err)
	}

	var library map[string]string
	if err := yaml.Unmarshal(data, &library); err != nil {
		return nil, fmt.Errorf("parsing user prompt library %s: %w", path, err)
	}

	entries := make([]Entry, 0, len(library))
	for _, shortname := range sortedKeys(library) {
		entries = append(entries, Entry{Shortname: SanitizeShortname(shortname), Prompt: library[shortname]})
	}
	return entries, nil
}

// SanitizeShortname makes a shortname safe to use in filenames.
func SanitizeShortname(name string) string {
	name = strings.TrimSpace(name)
	replacer := strings.NewReplacer(" ", "_", "/", "_", "\\", "_", ":", "_")
	return replacer.Replace(name)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
