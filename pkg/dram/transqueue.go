package dram

import "fmt"

// PendingRead is the lightweight clone kept while a read's data is in
// flight, keyed by address, per §3 "Transaction" lifecycle.
type PendingRead struct {
	Address      uint64
	TimeAdmitted uint64
	Len          int
}

// TransactionQueue is the bounded FIFO of admitted transactions awaiting
// decomposition into bus packets (component F, §4.6).
type TransactionQueue struct {
	depth   int
	pending []Transaction

	// reads keyed by address, oldest-first per address, so a DATA return
	// matches the oldest pending read at that address (§4.7 step 7).
	pendingReads map[uint64][]PendingRead
}

// NewTransactionQueue allocates an empty queue with the configured depth.
func NewTransactionQueue(depth int) *TransactionQueue {
	return &TransactionQueue{depth: depth, pendingReads: make(map[uint64][]PendingRead)}
}

// Push admits txn if there is room; the caller must retry or buffer
// otherwise (§4.6).
func (q *TransactionQueue) Push(txn Transaction) bool {
	if len(q.pending) >= q.depth {
		return false
	}
	q.pending = append(q.pending, txn)
	return true
}

// Len reports the number of transactions currently queued.
func (q *TransactionQueue) Len() int { return len(q.pending) }

// HasRoom reports whether the queue has room for one more transaction.
func (q *TransactionQueue) HasRoom() bool { return len(q.pending) < q.depth }

// Peek returns the head transaction without removing it.
func (q *TransactionQueue) Peek() (Transaction, bool) {
	if len(q.pending) == 0 {
		return Transaction{}, false
	}
	return q.pending[0], true
}

// Drain removes the head transaction. Call only after the controller
// has successfully decomposed it into bus packets (§4.6: "then remove
// from the transaction queue"). For a read, records a pending-read
// clone keyed by address; for a write, the transaction's lifetime ends
// here.
func (q *TransactionQueue) Drain() {
	if len(q.pending) == 0 {
		return
	}
	txn := q.pending[0]
	q.pending = q.pending[1:]
	if txn.Kind == DataRead {
		q.pendingReads[txn.Address] = append(q.pendingReads[txn.Address], PendingRead{
			Address:      txn.Address,
			TimeAdmitted: txn.TimeAdmitted,
			Len:          txn.Len,
		})
	}
}

// MatchReturn pops the oldest pending read at address, per §4.7 step 7.
// An address with no pending read is a fatal internal error (§7, §8
// "pending-read conservation").
func (q *TransactionQueue) MatchReturn(address uint64) (PendingRead, error) {
	list := q.pendingReads[address]
	if len(list) == 0 {
		return PendingRead{}, fmt.Errorf("dram: return data at address %#x has no pending read (internal invariant violation)", address)
	}
	head := list[0]
	if len(list) == 1 {
		delete(q.pendingReads, address)
	} else {
		q.pendingReads[address] = list[1:]
	}
	return head, nil
}

// PendingReadCount reports the total number of outstanding pending
// reads across all addresses, for the end-of-simulation conservation
// check (§8: "at simulation end the pending-read set is empty").
func (q *TransactionQueue) PendingReadCount() int {
	n := 0
	for _, list := range q.pendingReads {
		n += len(list)
	}
	return n
}
