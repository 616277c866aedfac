package kassign

import "sort"

// sortedMemberIDs returns ids in ascending lexicographic order, giving
// the range assignor a fixed, reproducible walk order over a joined
// group's members: the same group composition always computes the same
// assignment. This is grounded directly in the teacher's own
// cluster.ConsumerGroup.claimRange, which sort.Strings'd the consumer id
// list before walking it for exactly this reason.
func sortedMemberIDs(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}
