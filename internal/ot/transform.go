package ot

// Transform returns opA rewritten so that, given opB has already been
// applied to the document, applying the result afterwards reproduces the
// effect of opA and opB having been intended concurrently. This is an
// exhaustive match over the insert/delete cross product described in the
// transform table: insert-insert, delete-delete, insert-delete,
// delete-insert.
//
// Grounded on the diamond-transform shape in asadovsky/goatee's
// server/ot/text.go, generalized with the deterministic timestamp
// tie-break same-position inserts and same-position/length deletes need.
func Transform(opA, opB Op) Op {
	switch a := opA.(type) {
	case Insert:
		switch b := opB.(type) {
		case Insert:
			return transformInsertInsert(a, b)
		case Delete:
			return transformInsertDelete(a, b)
		}
	case Delete:
		switch b := opB.(type) {
		case Insert:
			return transformDeleteInsert(a, b)
		case Delete:
			return transformDeleteDelete(a, b)
		}
	}
	return opA
}

func transformInsertInsert(a Insert, b Insert) Op {
	switch {
	case a.Position < b.Position:
		return a
	case a.Position > b.Position:
		a.Position += len(b.Text)
		return a
	default:
		// Same position: lower timestamp wins the position, the later
		// insert is shifted past it. A tied timestamp falls through to
		// UserID so the two directions of this same comparison (Transform(a,b)
		// and Transform(b,a)) always pick complementary winners instead of
		// both shifting.
		if wins(a.Timestamp, a.UserID, b.Timestamp, b.UserID) {
			return a
		}
		a.Position += len(b.Text)
		return a
	}
}

// wins reports whether the operation identified by (ts, userID) should keep
// its position when transformed against (otherTS, otherUserID) at the same
// offset. Timestamp is the primary key; UserID is the tiebreaker for an
// exact tie, so it never matters which side of the comparison is "a" and
// which is "b".
func wins(ts int64, userID string, otherTS int64, otherUserID string) bool {
	if ts != otherTS {
		return ts < otherTS
	}
	return userID < otherUserID
}

func transformInsertDelete(a Insert, b Delete) Op {
	switch {
	case a.Position <= b.Position:
		return a
	case a.Position > b.Position+b.Length:
		a.Position -= b.Length
		return a
	default:
		// Insert point fell inside the deleted range: collapse to the
		// start of the delete window.
		a.Position = b.Position
		return a
	}
}

func transformDeleteInsert(a Delete, b Insert) Op {
	if a.Position < b.Position {
		return a
	}
	a.Position += len(b.Text)
	return a
}

func transformDeleteDelete(a Delete, b Delete) Op {
	switch {
	case a.Position < b.Position:
		return a
	case a.Position > b.Position:
		shifted := a.Position - b.Length
		if shifted < b.Position {
			shifted = b.Position
		}
		a.Position = shifted
		return a
	default:
		// Same position: the shorter-surviving-length rule. A tie in
		// length is broken by timestamp; the loser's delete becomes a
		// recorded zero-length no-op rather than being dropped, so both
		// clients' op logs stay the same length (Open Question ii).
		switch {
		case a.Length > b.Length:
			a.Length -= b.Length
			return a
		case a.Length < b.Length:
			a.Length = 0
			return a
		default:
			if wins(a.Timestamp, a.UserID, b.Timestamp, b.UserID) {
				return a
			}
			a.Length = 0
			return a
		}
	}
}

// TransformAgainst folds Transform over window in order, producing the
// version of op that accounts for every operation in window having already
// been applied.
func TransformAgainst(op Op, window []Op) Op {
	result := op
	for _, applied := range window {
		result = Transform(result, applied)
	}
	return result
}
