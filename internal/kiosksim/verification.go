package kiosksim

import (
	"context"
	"fmt"
	"sort"
)

// confirmLedger checks that every committed attempt shows up in the
// ledger and that no matricule holds two records for one slot.
func confirmLedger(ctx context.Context, c *Client, rep *Report) error {
	seen := map[string]bool{}
	var matricules []string
	for _, a := range rep.Attempts {
		if !seen[a.Matricule] {
			seen[a.Matricule] = true
			matricules = append(matricules, a.Matricule)
		}
	}
	if len(matricules) == 0 {
		return nil
	}
	sort.Strings(matricules)

	recorded, err := c.Attendance(ctx, rep.Date, matricules)
	if err != nil {
		return err
	}

	for m, entries := range recorded {
		slots := map[int]bool{}
		for _, e := range entries {
			if slots[e.SlotIndex] {
				return fmt.Errorf("%s recorded twice for slot %d", m, e.SlotIndex)
			}
			slots[e.SlotIndex] = true
		}
	}

	var missing []string
	for _, a := range rep.Attempts {
		if a.Outcome != OutcomeCommitted || a.SlotIndex == nil {
			continue
		}
		if !hasSlot(recorded[a.Matricule], *a.SlotIndex) {
			missing = append(missing, a.Matricule)
			continue
		}
		rep.Stats.Confirmed++
	}
	if len(missing) > 0 {
		return fmt.Errorf("committed but not recorded: %v", missing)
	}
	return nil
}

func hasSlot(entries []ledgerEntry, slot int) bool {
	for _, e := range entries {
		if e.SlotIndex == slot {
			return true
		}
	}
	return false
}
