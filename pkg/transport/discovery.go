package transport

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// ErrNoCards indicates enumeration yielded zero sound cards
var ErrNoCards = errors.New("no sound cards enumerated")

// DefaultPreferencePatterns is the ordered hardware-family preference list
// used when the device hint is "auto". Lower index wins.
var DefaultPreferencePatterns = []string{"audioinjector", "octo", "cs42", "usb"}

// DeviceDiscovery enumerates ALSA sound cards from procfs and selects the
// most plausible one by name-pattern preference
type DeviceDiscovery struct {
	// ProcRoot is the asound procfs root, overridable for tests
	ProcRoot string

	// Patterns is the ordered case-insensitive substring preference list
	Patterns []string
}

// NewDeviceDiscovery creates a discovery with the default patterns
func NewDeviceDiscovery() *DeviceDiscovery {
	return &DeviceDiscovery{
		ProcRoot: "/proc/asound",
		Patterns: DefaultPreferencePatterns,
	}
}

// Enumerate lists the sound cards currently known to the kernel
func (d *DeviceDiscovery) Enumerate() ([]DeviceCandidate, error) {
	var cards []DeviceCandidate

	for card := 0; card < 32; card++ {
		cardPath := fmt.Sprintf("%s/card%d", d.ProcRoot, card)
		if _, err := os.Stat(cardPath); err != nil {
			continue
		}

		id := fmt.Sprintf("card%d", card)
		if data, err := os.ReadFile(cardPath + "/id"); err == nil {
			id = strings.TrimSpace(string(data))
		}

		label := id
		if data, err := os.ReadFile(cardPath + "/longname"); err == nil {
			label = strings.TrimSpace(string(data))
		}

		cards = append(cards, DeviceCandidate{
			Index: card,
			ID:    id,
			Label: label,
			Score: d.score(id, label),
		})
	}

	if len(cards) == 0 {
		return nil, ErrNoCards
	}
	return cards, nil
}

// Discover selects exactly one candidate. A concrete hint is returned
// unchecked (the caller is trusted); "auto" picks the best pattern match,
// falling back to the lowest-indexed card.
func (d *DeviceDiscovery) Discover(hint string) (DeviceCandidate, error) {
	if hint != "" && hint != "auto" {
		return DeviceCandidate{ID: hint, Label: hint, Score: -1}, nil
	}

	cards, err := d.Enumerate()
	if err != nil {
		return DeviceCandidate{}, err
	}

	// First by preference score, then by lowest stable index
	sort.SliceStable(cards, func(i, j int) bool {
		si, sj := rank(cards[i].Score), rank(cards[j].Score)
		if si != sj {
			return si < sj
		}
		return cards[i].Index < cards[j].Index
	})

	return cards[0], nil
}

// score returns the position of the first matching pattern, or -1
func (d *DeviceDiscovery) score(id, label string) int {
	haystack := strings.ToLower(id + " " + label)
	for i, pattern := range d.Patterns {
		if strings.Contains(haystack, strings.ToLower(pattern)) {
			return i
		}
	}
	return -1
}

// rank maps "no match" below every real score
func rank(score int) int {
	if score < 0 {
		return 1 << 30
	}
	return score
}
