package peer

import (
	"math/big"
	"regexp"
	"sort"
	"strings"

	"github.com/aguiran/p2play-js/wire"
)

var numericID = regexp.MustCompile(`^[0-9]+$`)

// compareIDs defines the total order over player ids used for
// initiator/responder role assignment and host election: two
// all-digit ids compare by numeric value first (so "10" sorts after
// "9"), falling back to byte-wise lexicographic comparison to break a
// numeric tie (e.g. "02" before "2") or when either id contains a
// non-digit character.
func compareIDs(a, b wire.PlayerId) int {
	if numericID.MatchString(a) && numericID.MatchString(b) {
		ai, aok := new(big.Int).SetString(a, 10)
		bi, bok := new(big.Int).SetString(b, 10)
		if aok && bok {
			if cmp := ai.Cmp(bi); cmp != 0 {
				return cmp
			}
		}
	}
	return strings.Compare(a, b)
}

// lowestID returns the least element of ids under compareIDs. ids
// must be non-empty.
func lowestID(ids []wire.PlayerId) wire.PlayerId {
	sorted := append([]wire.PlayerId(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return compareIDs(sorted[i], sorted[j]) < 0 })
	return sorted[0]
}
