// Copyright 2025 the ddi Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package ddi

import "github.com/cockroachdb/crlib/crtime"

// delayed is one queued request together with its deadline.
type delayed struct {
	req      *Request
	expires  crtime.Mono
	queuedAt crtime.Mono
}

// delayQueue holds requests until their deadline. Entries stay in arrival
// order; draining never reorders the requests it releases. Not safe for
// concurrent use, callers synchronize.
type delayQueue struct {
	entries []delayed
}

func (q *delayQueue) push(d delayed) {
	q.entries = append(q.entries, d)
}

func (q *delayQueue) len() int {
	return len(q.entries)
}

// drain removes and returns, in arrival order, every entry with
// expires <= now, or every entry when all is set. next is the earliest
// deadline among the entries left behind; ok reports whether any remain.
func (q *delayQueue) drain(now crtime.Mono, all bool) (expired []delayed, next crtime.Mono, ok bool) {
	kept := q.entries[:0]
	for _, d := range q.entries {
		if all || d.expires <= now {
			expired = append(expired, d)
			continue
		}
		if len(kept) == 0 || d.expires < next {
			next = d.expires
		}
		kept = append(kept, d)
	}
	// Zero the vacated tail so drained requests are not retained.
	tail := q.entries[len(kept):]
	for i := range tail {
		tail[i] = delayed{}
	}
	q.entries = kept
	return expired, next, len(kept) > 0
}
