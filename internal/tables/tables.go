// Package tables draws entries from weighted random tables defined in
// tracker config, used for failure complications.
package tables

import (
	"errors"
	"math/rand"

	"downtrack/internal/config"
)

// Drawer picks one entry from a named table.
type Drawer interface {
	Draw(cfg *config.Config, table string) (string, error)
}

var ErrNoTable = errors.New("table not found or empty")

// ConfigDrawer draws from the config's tables with a caller-owned rng so
// seeded runs stay reproducible.
type ConfigDrawer struct {
	Rand *rand.Rand
}

func (d ConfigDrawer) Draw(cfg *config.Config, table string) (string, error) {
	entries := cfg.Tables[table]
	if len(entries) == 0 {
		return "", ErrNoTable
	}
	total := 0
	for _, e := range entries {
		w := e.Weight
		if w <= 0 {
			w = 1
		}
		total += w
	}
	pick := d.Rand.Intn(total)
	for _, e := range entries {
		w := e.Weight
		if w <= 0 {
			w = 1
		}
		if pick < w {
			return e.Text, nil
		}
		pick -= w
	}
	return entries[len(entries)-1].Text, nil
}
